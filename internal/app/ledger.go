/**
 * @description
 * The ledger engine: balance deduction and credit, with the idempotency and
 * concurrency guarantees around both. Every balance mutation runs inside a
 * serializable transaction that re-reads the authoritative balance within
 * the transaction boundary, so two concurrent deductions (or a deduction
 * racing a credit) can never both act on the same stale balance.
 *
 * Insufficient funds is a normal, expected state here: a deduction larger
 * than the balance deducts exactly the balance and flags that a top-up
 * invoice is needed. The balance never goes negative.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fitsched/billing-service/internal/domain"
	"github.com/fitsched/billing-service/internal/store"
)

// DeductSession charges a client's prepaid balance for a completed
// appointment. The appointment id is the idempotency key: a second call for
// the same appointment replays the recorded deduction without touching the
// balance again.
func (s *Service) DeductSession(ctx context.Context, appointmentID uuid.UUID) (*domain.DeductionResult, error) {
	// Idempotency fast path: an existing deduction for this appointment is
	// replayed from its recorded entry, with no re-read of the live balance.
	existing, err := s.repo.FindDeductionByAppointmentID(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing deduction: %w", err)
	}
	if existing != nil {
		return s.replayDeduction(ctx, existing)
	}

	appt, err := s.repo.FindAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load appointment: %w", err)
	}
	profile, err := s.repo.FindClientProfileByID(ctx, appt.ClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load client profile: %w", err)
	}
	if profile.BillingFrequency != domain.BillingPrepaid {
		return &domain.DeductionResult{
			Success: false,
			Reason:  "client is not on prepaid billing",
		}, nil
	}

	settings, err := s.repo.FindTrainerSettings(ctx, appt.TrainerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trainer settings: %w", err)
	}
	isGroup, participants, err := s.detectGroupSession(ctx, *appt, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to classify session: %w", err)
	}
	rate := resolveSessionRate(profile, settings, isGroup)

	var (
		result     domain.DeductionResult
		replayFrom *domain.PrepaidTransaction
	)
	err = s.repo.WithSerializableTx(ctx, func(tx store.TxRepository) error {
		// Re-check idempotency under the transaction snapshot: a concurrent
		// call may have recorded the deduction after our fast path ran.
		dup, err := tx.FindDeductionByAppointmentID(ctx, appointmentID)
		if err != nil {
			return err
		}
		if dup != nil {
			replayFrom = dup
			return nil
		}

		// Fresh balance read inside the transaction boundary. The value read
		// before the transaction opened is never trusted for the mutation.
		fresh, err := tx.FindClientProfileByID(ctx, appt.ClientID)
		if err != nil {
			return err
		}
		balance := fresh.Balance()

		if balance.IsZero() {
			// Already exhausted: deduct nothing, record no entry, but do not
			// silently skip billing; the invoice flag is set below.
			result = domain.DeductionResult{
				Success:    true,
				NewBalance: decimal.Zero,
			}
			return nil
		}

		amount := rate
		if balance.LessThan(rate) {
			// Partial deduction; the balance never goes negative.
			amount = balance
		}
		newBalance := balance.Sub(amount)

		if err := tx.UpdatePrepaidBalance(ctx, fresh.ID, newBalance); err != nil {
			return err
		}

		description := fmt.Sprintf("Session on %s", appt.StartTime.Format("Jan 2, 2006"))
		if isGroup {
			description = fmt.Sprintf("Group session (%d participants) on %s", participants, appt.StartTime.Format("Jan 2, 2006"))
		}
		txn := &domain.PrepaidTransaction{
			ID:            uuid.New(),
			ClientID:      fresh.ID,
			Type:          domain.TransactionDeduction,
			Amount:        amount,
			BalanceAfter:  newBalance,
			AppointmentID: &appointmentID,
			Description:   description,
		}
		if err := tx.InsertPrepaidTransaction(ctx, txn); err != nil {
			return err
		}

		result = domain.DeductionResult{
			Success:        true,
			AmountDeducted: amount,
			NewBalance:     newBalance,
		}
		return nil
	})
	if errors.Is(err, store.ErrDuplicateDeduction) {
		// Lost the race to a concurrent deduction of the same appointment;
		// replay the entry it committed.
		committed, findErr := s.repo.FindDeductionByAppointmentID(ctx, appointmentID)
		if findErr != nil {
			return nil, fmt.Errorf("failed to load concurrent deduction: %w", findErr)
		}
		if committed != nil {
			return s.replayDeduction(ctx, committed)
		}
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("deduction transaction failed: %w", err)
	}
	if replayFrom != nil {
		return s.replayDeduction(ctx, replayFrom)
	}

	result.ShouldGenerateInvoice, err = s.shouldTriggerTopUp(ctx, profile, result.NewBalance)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"client_id":       profile.ID,
		"appointment_id":  appointmentID,
		"group_session":   isGroup,
		"rate":            rate.String(),
		"amount_deducted": result.AmountDeducted.String(),
		"new_balance":     result.NewBalance.String(),
		"invoice_needed":  result.ShouldGenerateInvoice,
	}).Info("session deducted from prepaid balance")

	if result.ShouldGenerateInvoice {
		s.triggerTopUpInvoice(ctx, profile.ID, appt.TrainerID, &result)
	}
	return &result, nil
}

// replayDeduction rebuilds a DeductionResult from the recorded ledger entry.
// The deduction itself is never repeated and the live balance is not re-read;
// the invoice decision is derived from the entry's balance snapshot so a
// replay returns the same answer as the original call.
func (s *Service) replayDeduction(ctx context.Context, txn *domain.PrepaidTransaction) (*domain.DeductionResult, error) {
	profile, err := s.repo.FindClientProfileByID(ctx, txn.ClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load client profile: %w", err)
	}

	result := domain.DeductionResult{
		Success:          true,
		AlreadyProcessed: true,
		AmountDeducted:   txn.Amount,
		NewBalance:       txn.BalanceAfter,
	}
	result.ShouldGenerateInvoice, err = s.shouldTriggerTopUp(ctx, profile, txn.BalanceAfter)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"client_id":      txn.ClientID,
		"transaction_id": txn.ID,
	}).Info("deduction already recorded; returning recorded result")

	if result.ShouldGenerateInvoice {
		s.triggerTopUpInvoice(ctx, profile.ID, profile.TrainerID, &result)
	}
	return &result, nil
}

// triggerTopUpInvoice signals the invoice generator after a deduction flagged
// the balance. Generation is idempotent, so signaling on a replay returns
// the already-pending invoice.
func (s *Service) triggerTopUpInvoice(ctx context.Context, clientID, trainerID uuid.UUID, result *domain.DeductionResult) {
	invoice, err := s.GenerateTopUpInvoice(ctx, clientID, trainerID)
	if err != nil {
		// The deduction committed; invoice generation failing must not undo
		// it. The flag stays set so the caller can retry generation.
		s.logger.WithFields(logrus.Fields{
			"client_id": clientID,
		}).WithError(err).Error("top-up invoice generation failed after deduction")
		return
	}
	if invoice != nil {
		result.GeneratedInvoiceID = &invoice.ID
	}
}

// shouldTriggerTopUp decides whether a top-up invoice is needed for the given
// balance: always at zero, otherwise when the balance cannot cover the rate
// of the client's next SCHEDULED session. With no future SCHEDULED
// appointment there is no look-ahead; only the zero-balance check applies.
func (s *Service) shouldTriggerTopUp(ctx context.Context, profile *domain.ClientProfile, balance decimal.Decimal) (bool, error) {
	if balance.IsZero() {
		return true, nil
	}

	next, err := s.repo.FindNextScheduledAppointment(ctx, profile.ID, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to look up next scheduled appointment: %w", err)
	}
	if next == nil {
		return false, nil
	}

	settings, err := s.repo.FindTrainerSettings(ctx, next.TrainerID)
	if err != nil {
		return false, fmt.Errorf("failed to load trainer settings: %w", err)
	}
	isGroup, _, err := s.detectGroupSession(ctx, *next, settings)
	if err != nil {
		return false, fmt.Errorf("failed to classify next session: %w", err)
	}
	nextRate := resolveSessionRate(profile, settings, isGroup)
	return balance.LessThan(nextRate), nil
}

// CheckBalanceAndGenerateInvoiceIfNeeded is invoked when a new appointment is
// scheduled for a client, independent of any completion. It is a no-op for
// non-PREPAID clients and for balances that cover the next session.
func (s *Service) CheckBalanceAndGenerateInvoiceIfNeeded(ctx context.Context, clientID, trainerID uuid.UUID) (*domain.Invoice, error) {
	profile, err := s.repo.FindClientProfileByID(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load client profile: %w", err)
	}
	if profile.BillingFrequency != domain.BillingPrepaid {
		return nil, nil
	}

	needed, err := s.shouldTriggerTopUp(ctx, profile, profile.Balance())
	if err != nil {
		return nil, err
	}
	if !needed {
		return nil, nil
	}
	return s.GenerateTopUpInvoice(ctx, clientID, trainerID)
}

// AddCredit adds to a client's prepaid balance. Receiving credit is the one
// path that changes billing mode as a side effect: a client not already on
// PREPAID billing is switched to it, and the switch is recorded in the
// ledger entry's description rather than happening silently.
func (s *Service) AddCredit(ctx context.Context, clientID uuid.UUID, amount decimal.Decimal, description string) (*domain.CreditResult, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrNonPositiveCredit
	}

	var result domain.CreditResult
	err := s.repo.WithSerializableTx(ctx, func(tx store.TxRepository) error {
		profile, err := tx.FindClientProfileByID(ctx, clientID)
		if err != nil {
			return err
		}

		switched := false
		if profile.BillingFrequency != domain.BillingPrepaid {
			if err := tx.UpdateBillingFrequency(ctx, clientID, domain.BillingPrepaid); err != nil {
				return err
			}
			switched = true
		}

		newBalance := profile.Balance().Add(amount)
		if err := tx.UpdatePrepaidBalance(ctx, clientID, newBalance); err != nil {
			return err
		}

		entryDescription := description
		if entryDescription == "" {
			entryDescription = "Prepaid balance top-up"
		}
		if switched {
			entryDescription = fmt.Sprintf("%s (billing switched to prepaid)", entryDescription)
		}
		txn := &domain.PrepaidTransaction{
			ID:           uuid.New(),
			ClientID:     clientID,
			Type:         domain.TransactionCredit,
			Amount:       amount,
			BalanceAfter: newBalance,
			Description:  entryDescription,
		}
		if err := tx.InsertPrepaidTransaction(ctx, txn); err != nil {
			return err
		}

		result = domain.CreditResult{
			NewBalance:        newBalance,
			TransactionID:     txn.ID,
			SwitchedToPrepaid: switched,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("credit transaction failed: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"client_id":           clientID,
		"amount":              amount.String(),
		"new_balance":         result.NewBalance.String(),
		"switched_to_prepaid": result.SwitchedToPrepaid,
	}).Info("prepaid credit added")

	return &result, nil
}
