/**
 * @description
 * Read-only models owned by collaborating services: appointments (lifecycle
 * owned by the scheduler) and trainer settings (owned by the workspace
 * service). The billing core only ever reads these to classify sessions and
 * resolve rates.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AppointmentStatus is the scheduler-owned lifecycle state of an appointment.
type AppointmentStatus string

const (
	AppointmentScheduled   AppointmentStatus = "SCHEDULED"
	AppointmentCompleted   AppointmentStatus = "COMPLETED"
	AppointmentCancelled   AppointmentStatus = "CANCELLED"
	AppointmentRescheduled AppointmentStatus = "RESCHEDULED"
)

// GroupMatchingLogic selects how overlapping appointments are matched when
// deciding whether a session is shared among multiple clients.
type GroupMatchingLogic string

const (
	MatchExact      GroupMatchingLogic = "EXACT_MATCH" // identical start and end
	MatchStart      GroupMatchingLogic = "START_MATCH" // identical start only
	MatchEnd        GroupMatchingLogic = "END_MATCH"   // identical end only
	MatchAnyOverlap GroupMatchingLogic = "ANY_OVERLAP" // any time-range intersection
)

// Appointment is a scheduled training session. The billing core reads it to
// determine group membership and next-session cost; it never mutates one.
type Appointment struct {
	ID          uuid.UUID         `json:"id"`
	ClientID    uuid.UUID         `json:"client_id"`
	TrainerID   uuid.UUID         `json:"trainer_id"`
	WorkspaceID uuid.UUID         `json:"workspace_id"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
	Status      AppointmentStatus `json:"status"`
}

// TrainerSettings supplies trainer-level defaults to the rate resolver and
// the invoice generator.
type TrainerSettings struct {
	TrainerID               uuid.UUID          `json:"trainer_id"`
	DefaultGroupSessionRate *decimal.Decimal   `json:"default_group_session_rate,omitempty"`
	GroupSessionMatching    GroupMatchingLogic `json:"group_session_matching_logic"`
	DefaultInvoiceDueDays   int                `json:"default_invoice_due_days"` // 0 means the 30-day default
}

// DueDays returns the configured invoice due-days, defaulting to 30.
func (s *TrainerSettings) DueDays() int {
	if s == nil || s.DefaultInvoiceDueDays <= 0 {
		return 30
	}
	return s.DefaultInvoiceDueDays
}
