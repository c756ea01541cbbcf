/**
 * @description
 * The invoice trigger & generator: creates a prepaid top-up invoice exactly
 * once per shortfall. The pending-invoice uniqueness check and the invoice
 * insert run inside one serializable transaction, so two concurrent triggers
 * for the same client cannot both create an invoice.
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fitsched/billing-service/internal/domain"
	"github.com/fitsched/billing-service/internal/store"
)

// invoiceCreatedEvent is published after a top-up invoice is created.
type invoiceCreatedEvent struct {
	InvoiceID uuid.UUID       `json:"invoice_id"`
	ClientID  uuid.UUID       `json:"client_id"`
	TrainerID uuid.UUID       `json:"trainer_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	DueDate   time.Time       `json:"due_date"`
	Timestamp time.Time       `json:"timestamp"`
}

// GenerateTopUpInvoice creates an invoice replenishing the client's prepaid
// balance back to its target.
//
// No-ops (nil invoice, nil error): client not on PREPAID billing, or no
// shortfall against the target. Idempotency: an existing DRAFT or SENT
// prepaid top-up invoice is returned instead of creating a duplicate,
// enforcing at most one pending top-up invoice per client.
func (s *Service) GenerateTopUpInvoice(ctx context.Context, clientID, trainerID uuid.UUID) (*domain.Invoice, error) {
	settings, err := s.repo.FindTrainerSettings(ctx, trainerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trainer settings: %w", err)
	}

	var (
		invoice        *domain.Invoice
		reusedExisting bool
	)
	err = s.repo.WithSerializableTx(ctx, func(tx store.TxRepository) error {
		profile, err := tx.FindClientProfileByID(ctx, clientID)
		if err != nil {
			return err
		}
		if profile.BillingFrequency != domain.BillingPrepaid {
			return nil
		}

		// Fresh uniqueness re-read under the transaction snapshot.
		pending, err := tx.FindPendingTopUpInvoice(ctx, clientID)
		if err != nil {
			return err
		}
		if pending != nil {
			invoice = pending
			reusedExisting = true
			return nil
		}

		amountNeeded := profile.TargetBalance().Sub(profile.Balance())
		if amountNeeded.LessThanOrEqual(decimal.Zero) {
			return nil
		}

		deductions, err := tx.ListDeductionsSinceLastCredit(ctx, clientID)
		if err != nil {
			return err
		}

		inv := &domain.Invoice{
			ID:             uuid.New(),
			ClientID:       clientID,
			TrainerID:      trainerID,
			Status:         domain.InvoiceSent,
			IsPrepaidTopUp: true,
			Amount:         amountNeeded,
			DueDate:        time.Now().AddDate(0, 0, settings.DueDays()),
		}
		if len(deductions) > 0 {
			// Itemize exactly the sessions consumed since the last top-up.
			for _, txn := range deductions {
				inv.LineItems = append(inv.LineItems, domain.InvoiceLineItem{
					ID:            uuid.New(),
					InvoiceID:     inv.ID,
					Description:   txn.Description,
					Amount:        txn.Amount,
					AppointmentID: txn.AppointmentID,
				})
			}
		} else {
			inv.LineItems = append(inv.LineItems, domain.InvoiceLineItem{
				ID:          uuid.New(),
				InvoiceID:   inv.ID,
				Description: "Prepaid balance top-up",
				Amount:      amountNeeded,
			})
		}

		if err := tx.CreateInvoiceWithLineItems(ctx, inv); err != nil {
			return err
		}
		invoice = inv
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("invoice transaction failed: %w", err)
	}
	if invoice == nil || reusedExisting {
		if reusedExisting {
			s.logger.WithFields(logrus.Fields{
				"client_id":  clientID,
				"invoice_id": invoice.ID,
				"status":     invoice.Status,
			}).Info("pending top-up invoice already exists; reusing")
		}
		return invoice, nil
	}

	s.logger.WithFields(logrus.Fields{
		"client_id":  clientID,
		"invoice_id": invoice.ID,
		"amount":     invoice.Amount.String(),
		"line_items": len(invoice.LineItems),
		"due_date":   invoice.DueDate.Format("2006-01-02"),
	}).Info("top-up invoice created")

	s.deliverInvoice(ctx, invoice)

	s.publishEvent(ctx, "invoice.created", invoiceCreatedEvent{
		InvoiceID: invoice.ID,
		ClientID:  invoice.ClientID,
		TrainerID: invoice.TrainerID,
		Amount:    invoice.Amount,
		Status:    string(invoice.Status),
		DueDate:   invoice.DueDate,
		Timestamp: time.Now().UTC(),
	})

	return invoice, nil
}

// deliverInvoice attempts the synchronous email send. On failure the invoice
// is demoted from SENT to DRAFT so no invoice claims to be sent when it was
// never delivered; the failure is recorded, not swallowed.
func (s *Service) deliverInvoice(ctx context.Context, invoice *domain.Invoice) {
	var sendErr error
	if s.mailer == nil {
		sendErr = fmt.Errorf("no invoice sender configured")
	} else {
		clientName := ""
		if profile, err := s.repo.FindClientProfileByID(ctx, invoice.ClientID); err == nil {
			clientName = profile.Name
		}
		sendErr = s.mailer.SendInvoice(ctx, invoice, clientName)
	}
	if sendErr == nil {
		return
	}

	s.logger.WithFields(logrus.Fields{
		"invoice_id": invoice.ID,
		"client_id":  invoice.ClientID,
	}).WithError(sendErr).Error("invoice email send failed; demoting to draft")

	if err := s.repo.DemoteInvoiceToDraft(ctx, invoice.ID); err != nil {
		s.logger.WithFields(logrus.Fields{
			"invoice_id": invoice.ID,
		}).WithError(err).Error("failed to demote invoice to draft")
		return
	}
	invoice.Status = domain.InvoiceDraft
}

// RetryDraftInvoices re-attempts delivery of top-up invoices sitting in
// DRAFT after a failed send, promoting each back to SENT on success. It
// returns the number of invoices successfully sent. Called from the cron
// sweep; also safe to call manually.
func (s *Service) RetryDraftInvoices(ctx context.Context) (int, error) {
	if s.mailer == nil {
		return 0, nil
	}

	drafts, err := s.repo.ListDraftTopUpInvoices(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list draft invoices: %w", err)
	}

	sent := 0
	for i := range drafts {
		invoice := drafts[i]
		clientName := ""
		if profile, err := s.repo.FindClientProfileByID(ctx, invoice.ClientID); err == nil {
			clientName = profile.Name
		}
		if err := s.mailer.SendInvoice(ctx, &invoice, clientName); err != nil {
			s.logger.WithFields(logrus.Fields{
				"invoice_id": invoice.ID,
			}).WithError(err).Warn("draft invoice re-send failed")
			continue
		}
		if err := s.repo.MarkInvoiceSent(ctx, invoice.ID); err != nil {
			s.logger.WithFields(logrus.Fields{
				"invoice_id": invoice.ID,
			}).WithError(err).Error("failed to mark re-sent invoice as sent")
			continue
		}
		sent++
	}
	return sent, nil
}
