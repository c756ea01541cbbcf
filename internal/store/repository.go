/**
 * @description
 * This file defines the `Repository` and `TxRepository` interfaces: the data
 * access contract for the billing core. `Repository` covers read paths and
 * transaction entry; `TxRepository` is the narrowed surface available inside
 * a serializable transaction, where every mutable row is re-read fresh.
 *
 * Splitting the transactional surface into its own interface makes the
 * load-bearing concurrency rule mechanical: balance and invoice-status
 * mutations are only reachable through `WithSerializableTx`, so no caller
 * can mutate them against a value read before the transaction opened.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: Entity identifiers.
 * - github.com/shopspring/decimal: Monetary amounts.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fitsched/billing-service/internal/domain"
)

var (
	ErrClientProfileNotFound = errors.New("client profile not found")
	ErrAppointmentNotFound   = errors.New("appointment not found")
	ErrInvoiceNotFound       = errors.New("invoice not found")
	ErrDuplicateDeduction    = errors.New("deduction already recorded for appointment")
)

// Repository defines the set of methods for interacting with the database.
// Read-only queries need no special isolation; all state mutation goes
// through WithSerializableTx.
type Repository interface {
	// Client profile and trainer settings reads.
	FindClientProfileByID(ctx context.Context, clientID uuid.UUID) (*domain.ClientProfile, error)
	// FindTrainerSettings returns workspace defaults for a trainer. A trainer
	// with no settings row gets the zero-value defaults (no group rate,
	// EXACT_MATCH, 30-day due date) rather than an error.
	FindTrainerSettings(ctx context.Context, trainerID uuid.UUID) (*domain.TrainerSettings, error)

	// Appointment reads (rows owned by the scheduler).
	FindAppointmentByID(ctx context.Context, appointmentID uuid.UUID) (*domain.Appointment, error)
	// ListOverlapCandidates returns SCHEDULED and COMPLETED appointments for
	// the same trainer and workspace whose time range intersects the
	// candidate's, excluding the candidate itself. The group session
	// detector applies the configured matching strategy on top.
	ListOverlapCandidates(ctx context.Context, candidate domain.Appointment) ([]domain.Appointment, error)
	// FindNextScheduledAppointment returns the client's earliest SCHEDULED
	// appointment starting after the given time, or nil when none exists.
	FindNextScheduledAppointment(ctx context.Context, clientID uuid.UUID, after time.Time) (*domain.Appointment, error)

	// Prepaid ledger reads.
	// FindDeductionByAppointmentID returns the DEDUCTION entry keyed by the
	// appointment, or nil when the appointment has not been deducted.
	FindDeductionByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*domain.PrepaidTransaction, error)
	ListDeductionsSinceLastCredit(ctx context.Context, clientID uuid.UUID) ([]domain.PrepaidTransaction, error)
	ListPrepaidTransactions(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]domain.PrepaidTransaction, error)

	// Invoice reads.
	FindInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error)
	// FindPendingTopUpInvoice returns the client's DRAFT or SENT prepaid
	// top-up invoice, or nil when none is pending.
	FindPendingTopUpInvoice(ctx context.Context, clientID uuid.UUID) (*domain.Invoice, error)
	// ListDraftTopUpInvoices returns top-up invoices demoted to DRAFT after
	// a failed send, for the re-send sweep.
	ListDraftTopUpInvoices(ctx context.Context) ([]domain.Invoice, error)
	MarkInvoiceSent(ctx context.Context, invoiceID uuid.UUID) error
	// DemoteInvoiceToDraft moves a SENT invoice back to DRAFT after its
	// delivery failed. It is a guarded single-row update, not a free status
	// write.
	DemoteInvoiceToDraft(ctx context.Context, invoiceID uuid.UUID) error

	// Operator summaries.
	ListPrepaidClientSummaries(ctx context.Context, trainerID uuid.UUID) ([]domain.PrepaidClientSummary, error)

	// WithSerializableTx runs fn inside a serializable-isolation database
	// transaction. fn returning an error rolls the transaction back. The
	// repository never retries serialization conflicts; the caller decides.
	WithSerializableTx(ctx context.Context, fn func(tx TxRepository) error) error
}

// TxRepository is the data access surface inside a serializable transaction.
// Reads performed here see the transaction's fresh snapshot, never state
// captured before the transaction began.
type TxRepository interface {
	FindClientProfileByID(ctx context.Context, clientID uuid.UUID) (*domain.ClientProfile, error)
	FindDeductionByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*domain.PrepaidTransaction, error)
	FindInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error)
	FindPendingTopUpInvoice(ctx context.Context, clientID uuid.UUID) (*domain.Invoice, error)
	ListDeductionsSinceLastCredit(ctx context.Context, clientID uuid.UUID) ([]domain.PrepaidTransaction, error)

	UpdatePrepaidBalance(ctx context.Context, clientID uuid.UUID, balance decimal.Decimal) error
	UpdateBillingFrequency(ctx context.Context, clientID uuid.UUID, frequency domain.BillingFrequency) error
	InsertPrepaidTransaction(ctx context.Context, txn *domain.PrepaidTransaction) error
	CreateInvoiceWithLineItems(ctx context.Context, invoice *domain.Invoice) error
	UpdateInvoiceStatus(ctx context.Context, invoiceID uuid.UUID, status domain.InvoiceStatus) error
}
