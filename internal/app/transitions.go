/**
 * @description
 * The billing-mode transition manager: voids a pending prepaid top-up
 * invoice and switches the client to a different billing frequency, keeping
 * the residual prepaid balance as documented credit. All state-machine
 * guards run inside one serializable transaction so a concurrent payment or
 * balance mutation cannot slip between check and write.
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

// Failure reasons returned by VoidInvoiceAndSwitchBilling. These are
// user-facing: they gate real money decisions and must be specific.
const (
	VoidErrInvoiceNotFound  = "Invoice not found"
	VoidErrNotTopUp         = "Invoice is not a prepaid top-up invoice"
	VoidErrAlreadyPaid      = "Cannot void a paid invoice"
	VoidErrAlreadyCancelled = "Invoice is already cancelled"
	VoidErrProfileNotFound  = "Client profile not found"
	VoidErrBadFrequency     = "Invalid billing frequency"
)

// invoiceVoidedEvent is published after a top-up invoice is voided.
type invoiceVoidedEvent struct {
	InvoiceID      uuid.UUID               `json:"invoice_id"`
	ClientID       uuid.UUID               `json:"client_id"`
	NewFrequency   domain.BillingFrequency `json:"new_billing_frequency"`
	RetainedCredit decimal.Decimal         `json:"retained_credit"`
	Timestamp      time.Time               `json:"timestamp"`
}

// VoidInvoiceAndSwitchBilling cancels a pending prepaid top-up invoice and
// moves the client to newFrequency (PER_SESSION or MONTHLY).
//
// The invoice must exist, be a prepaid top-up (the explicit flag is the only
// marker honored), and not already be in a terminal state. On success the
// invoice becomes CANCELLED, the billing frequency changes, and the existing
// prepaid balance is retained as credit for future invoices, documented by
// a zero-amount CREDIT ledger entry. The balance is never zeroed.
func (s *Service) VoidInvoiceAndSwitchBilling(ctx context.Context, invoiceID uuid.UUID, newFrequency domain.BillingFrequency) (*domain.VoidResult, error) {
	if newFrequency != domain.BillingPerSession && newFrequency != domain.BillingMonthly {
		return &domain.VoidResult{Success: false, Error: VoidErrBadFrequency}, nil
	}

	var (
		result   domain.VoidResult
		clientID uuid.UUID
	)
	err := s.repo.WithSerializableTx(ctx, func(tx store.TxRepository) error {
		invoice, err := tx.FindInvoiceByID(ctx, invoiceID)
		if err != nil {
			if err == store.ErrInvoiceNotFound {
				result = domain.VoidResult{Success: false, Error: VoidErrInvoiceNotFound}
				return nil
			}
			return err
		}
		if !invoice.IsPrepaidTopUp {
			result = domain.VoidResult{Success: false, Error: VoidErrNotTopUp}
			return nil
		}
		switch invoice.Status {
		case domain.InvoicePaid:
			result = domain.VoidResult{Success: false, Error: VoidErrAlreadyPaid}
			return nil
		case domain.InvoiceCancelled:
			result = domain.VoidResult{Success: false, Error: VoidErrAlreadyCancelled}
			return nil
		}

		profile, err := tx.FindClientProfileByID(ctx, invoice.ClientID)
		if err != nil {
			if err == store.ErrClientProfileNotFound {
				result = domain.VoidResult{Success: false, Error: VoidErrProfileNotFound}
				return nil
			}
			return err
		}

		if err := tx.UpdateInvoiceStatus(ctx, invoiceID, domain.InvoiceCancelled); err != nil {
			return err
		}
		if err := tx.UpdateBillingFrequency(ctx, profile.ID, newFrequency); err != nil {
			return err
		}

		// The balance is deliberately untouched: the retained amount stays
		// available to offset future invoices under the new billing mode.
		clientID = profile.ID
		retained := profile.Balance()
		txn := &domain.PrepaidTransaction{
			ID:           uuid.New(),
			ClientID:     profile.ID,
			Type:         domain.TransactionCredit,
			Amount:       decimal.Zero,
			BalanceAfter: retained,
			Description: fmt.Sprintf(
				"Top-up invoice voided; billing switched to %s. Remaining balance of %s retained as credit.",
				newFrequency, retained.StringFixed(2),
			),
		}
		if err := tx.InsertPrepaidTransaction(ctx, txn); err != nil {
			return err
		}

		result = domain.VoidResult{
			Success:             true,
			RetainedCredit:      retained,
			NewBillingFrequency: newFrequency,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("void transaction failed: %w", err)
	}

	if result.Success {
		s.logger.WithFields(logrus.Fields{
			"invoice_id":      invoiceID,
			"new_frequency":   newFrequency,
			"retained_credit": result.RetainedCredit.String(),
		}).Info("top-up invoice voided and billing mode switched")

		s.publishEvent(ctx, "invoice.voided", invoiceVoidedEvent{
			InvoiceID:      invoiceID,
			ClientID:       clientID,
			NewFrequency:   newFrequency,
			RetainedCredit: result.RetainedCredit,
			Timestamp:      time.Now().UTC(),
		})
	} else {
		s.logger.WithFields(logrus.Fields{
			"invoice_id": invoiceID,
			"reason":     result.Error,
		}).Warn("void of top-up invoice rejected")
	}

	return &result, nil
}
