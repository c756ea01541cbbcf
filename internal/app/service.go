/**
 * @description
 * This file contains the core `Service` of the billing engine. The Service
 * orchestrates the prepaid ledger, the invoice trigger, and the billing-mode
 * transition manager, coordinating between the database repository, the
 * invoice mail sender, and the event publisher.
 *
 * Key features:
 * - Holds all engine dependencies (repository, mailer, publisher, logger);
 *   every operation is a synchronous method with no background goroutines.
 * - Expected business states (insufficient balance, nothing to invoice) are
 *   result fields, never errors. Precondition violations are sentinel errors
 *   or failure results with a specific reason.
 * - Observability is injected: the logger is a dependency, and every money
 *   decision (deduction outcome, invoice creation, void outcome) is logged.
 *
 * @dependencies
 * - context, fmt: Standard Go libraries.
 * - github.com/google/uuid: Entity identifiers.
 * - github.com/sirupsen/logrus: Injected structured logger.
 * - internal/domain, internal/store: Domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fitsched/billing-service/internal/domain"
	"github.com/fitsched/billing-service/internal/store"
)

// ErrNonPositiveCredit is returned when AddCredit is called with an amount
// that is zero or negative.
var ErrNonPositiveCredit = errors.New("credit amount must be greater than zero")

// InvoiceSender delivers an invoice to the client and reports the outcome
// synchronously. A send failure demotes the invoice to DRAFT.
type InvoiceSender interface {
	SendInvoice(ctx context.Context, invoice *domain.Invoice, clientName string) error
}

// EventPublisher publishes billing events for downstream consumers. A nil
// publisher is valid and disables event publishing.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// BillingEventsExchange is the topic exchange billing events are published to.
const BillingEventsExchange = "billing.events"

// Service provides the core business logic for prepaid billing.
type Service struct {
	repo   store.Repository
	mailer InvoiceSender
	events EventPublisher
	logger *logrus.Logger
}

// NewService creates a new billing service instance. mailer and events may be
// nil; the engine then treats every send as failed (invoices stay DRAFT) and
// skips event publishing.
func NewService(repo store.Repository, mailer InvoiceSender, events EventPublisher, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		repo:   repo,
		mailer: mailer,
		events: events,
		logger: logger,
	}
}

// GetTransactions returns a page of a client's prepaid ledger, newest first.
// Read-only; needs no special isolation.
func (s *Service) GetTransactions(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]domain.PrepaidTransaction, error) {
	transactions, err := s.repo.ListPrepaidTransactions(ctx, clientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list prepaid transactions: %w", err)
	}
	return transactions, nil
}

// GetPrepaidClientsSummary returns the operator-facing overview of a
// trainer's prepaid clients.
func (s *Service) GetPrepaidClientsSummary(ctx context.Context, trainerID uuid.UUID) ([]domain.PrepaidClientSummary, error) {
	summaries, err := s.repo.ListPrepaidClientSummaries(ctx, trainerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prepaid client summaries: %w", err)
	}
	return summaries, nil
}

// publishEvent fires a billing event, logging rather than failing on error.
// Event delivery is best effort; the ledger is the source of truth.
func (s *Service) publishEvent(ctx context.Context, routingKey string, body interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, BillingEventsExchange, routingKey, body); err != nil {
		s.logger.WithFields(logrus.Fields{
			"routing_key": routingKey,
		}).WithError(err).Warn("failed to publish billing event")
	}
}
