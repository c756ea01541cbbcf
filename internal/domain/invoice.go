/**
 * @description
 * Invoice models for prepaid top-up billing. An invoice is the output of the
 * invoice trigger: a request that the client replenish their prepaid balance
 * back to its configured target.
 *
 * @notes
 * - State machine: DRAFT/SENT -> PAID (terminal, external) or -> CANCELLED
 *   (terminal, via the billing-mode transition manager). PAID and CANCELLED
 *   never transition further.
 * - At most one non-terminal (DRAFT or SENT) prepaid top-up invoice may
 *   exist per client at any time.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "DRAFT"
	InvoiceSent      InvoiceStatus = "SENT"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

// Terminal reports whether the status permits no further transitions.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoicePaid || s == InvoiceCancelled
}

// Invoice maps to the `invoices` table.
type Invoice struct {
	ID             uuid.UUID         `json:"id"`
	ClientID       uuid.UUID         `json:"client_id"`
	TrainerID      uuid.UUID         `json:"trainer_id"`
	Status         InvoiceStatus     `json:"status"`
	IsPrepaidTopUp bool              `json:"is_prepaid_top_up"`
	Amount         decimal.Decimal   `json:"amount"`
	DueDate        time.Time         `json:"due_date"`
	LineItems      []InvoiceLineItem `json:"line_items,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// InvoiceLineItem itemizes one consumed session (or one generic top-up line)
// on an invoice.
type InvoiceLineItem struct {
	ID            uuid.UUID       `json:"id"`
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	AppointmentID *uuid.UUID      `json:"appointment_id,omitempty"`
}
