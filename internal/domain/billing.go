/**
 * @description
 * This file defines the core domain models for the billing-service's prepaid
 * ledger: the client billing profile and the append-only prepaid transaction
 * log, together with the result types returned by the ledger engine.
 *
 * @notes
 * - Monetary amounts use shopspring/decimal rather than floats so balance
 *   arithmetic is exact. Columns are NUMERIC in Postgres.
 * - A client's `PrepaidBalance` is never negative. It is mutated only by the
 *   ledger engine and the billing-mode transition manager.
 * - PrepaidTransaction rows are append-only; `BalanceAfter` is a snapshot of
 *   the profile balance immediately after the transaction committed, not a
 *   derived value.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BillingFrequency describes how a client is billed for sessions.
type BillingFrequency string

const (
	BillingPerSession BillingFrequency = "PER_SESSION"
	BillingMonthly    BillingFrequency = "MONTHLY"
	BillingPrepaid    BillingFrequency = "PREPAID"
)

// PrepaidTransactionType is the direction of a ledger entry.
type PrepaidTransactionType string

const (
	TransactionCredit    PrepaidTransactionType = "CREDIT"
	TransactionDeduction PrepaidTransactionType = "DEDUCTION"
)

// ClientProfile holds a client's billing configuration and prepaid balance.
// This struct maps directly to the `client_profiles` table.
type ClientProfile struct {
	ID                   uuid.UUID        `json:"id"`
	TrainerID            uuid.UUID        `json:"trainer_id"`
	WorkspaceID          uuid.UUID        `json:"workspace_id"`
	Name                 string           `json:"name"`
	BillingFrequency     BillingFrequency `json:"billing_frequency"`
	SessionRate          decimal.Decimal  `json:"session_rate"`
	GroupSessionRate     *decimal.Decimal `json:"group_session_rate,omitempty"`
	PrepaidBalance       *decimal.Decimal `json:"prepaid_balance,omitempty"`        // meaningful only when PREPAID
	PrepaidTargetBalance *decimal.Decimal `json:"prepaid_target_balance,omitempty"` // replenishment target for top-up invoices
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Balance returns the prepaid balance, treating an unset balance as zero.
func (p *ClientProfile) Balance() decimal.Decimal {
	if p.PrepaidBalance == nil {
		return decimal.Zero
	}
	return *p.PrepaidBalance
}

// TargetBalance returns the prepaid target, treating an unset target as zero.
func (p *ClientProfile) TargetBalance() decimal.Decimal {
	if p.PrepaidTargetBalance == nil {
		return decimal.Zero
	}
	return *p.PrepaidTargetBalance
}

// PrepaidTransaction is one immutable entry in a client's prepaid ledger.
// Deductions carry the appointment that caused them; the appointment id is
// the idempotency key (at most one deduction per appointment, enforced by a
// unique partial index on the `prepaid_transactions` table).
type PrepaidTransaction struct {
	ID            uuid.UUID              `json:"id"`
	ClientID      uuid.UUID              `json:"client_id"`
	Type          PrepaidTransactionType `json:"type"`
	Amount        decimal.Decimal        `json:"amount"`
	BalanceAfter  decimal.Decimal        `json:"balance_after"`
	AppointmentID *uuid.UUID             `json:"appointment_id,omitempty"`
	Description   string                 `json:"description"`
	CreatedAt     time.Time              `json:"created_at"`
}

// DeductionResult is returned by the ledger engine's DeductSession.
// Insufficient or zero balance is an expected business state, reported in
// the fields below, never as an error.
type DeductionResult struct {
	Success               bool            `json:"success"`
	AmountDeducted        decimal.Decimal `json:"amount_deducted"`
	NewBalance            decimal.Decimal `json:"new_balance"`
	ShouldGenerateInvoice bool            `json:"should_generate_invoice"`
	GeneratedInvoiceID    *uuid.UUID      `json:"generated_invoice_id,omitempty"`
	AlreadyProcessed      bool            `json:"already_processed"`
	Reason                string          `json:"reason,omitempty"`
}

// CreditResult is returned by the ledger engine's AddCredit.
type CreditResult struct {
	NewBalance        decimal.Decimal `json:"new_balance"`
	TransactionID     uuid.UUID       `json:"transaction_id"`
	SwitchedToPrepaid bool            `json:"switched_to_prepaid"`
}

// VoidResult is returned by the billing-mode transition manager. On failure,
// Error carries a specific, user-facing reason.
type VoidResult struct {
	Success             bool             `json:"success"`
	Error               string           `json:"error,omitempty"`
	RetainedCredit      decimal.Decimal  `json:"retained_credit"`
	NewBillingFrequency BillingFrequency `json:"new_billing_frequency,omitempty"`
}

// PrepaidClientSummary is one row of the operator-facing prepaid overview.
type PrepaidClientSummary struct {
	ClientID          uuid.UUID        `json:"client_id"`
	Name              string           `json:"name"`
	Balance           decimal.Decimal  `json:"balance"`
	TargetBalance     decimal.Decimal  `json:"target_balance"`
	PendingInvoiceID  *uuid.UUID       `json:"pending_invoice_id,omitempty"`
	LastTransactionAt *time.Time       `json:"last_transaction_at,omitempty"`
	BillingFrequency  BillingFrequency `json:"billing_frequency"`
}
