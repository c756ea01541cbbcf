package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fitsched/billing-service/internal/store"
)

// SchedulerEventConsumer processes appointment lifecycle events published by
// the scheduler. Malformed payloads are acknowledged and dropped; only
// infrastructure failures requeue.
type SchedulerEventConsumer struct {
	service *Service
	logger  *logrus.Logger
}

func NewSchedulerEventConsumer(service *Service, logger *logrus.Logger) *SchedulerEventConsumer {
	if logger == nil {
		logger = logrus.New()
	}
	return &SchedulerEventConsumer{service: service, logger: logger}
}

// AppointmentCompletedEvent is published when an appointment transitions to
// COMPLETED.
type AppointmentCompletedEvent struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	CompletedAt   time.Time `json:"completed_at"`
}

// AppointmentScheduledEvent is published when a new appointment is created.
type AppointmentScheduledEvent struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	ClientID      uuid.UUID `json:"client_id"`
	TrainerID     uuid.UUID `json:"trainer_id"`
}

// HandleAppointmentCompleted deducts the completed session from the client's
// prepaid balance. Returns true to acknowledge, false to requeue.
func (c *SchedulerEventConsumer) HandleAppointmentCompleted(body []byte) bool {
	var event AppointmentCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.WithError(err).Warn("scheduler-consumer: failed to unmarshal appointment.completed payload; dropping")
		return true
	}
	if event.AppointmentID == uuid.Nil {
		c.logger.Warn("scheduler-consumer: appointment.completed event missing appointment id; dropping")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := c.service.DeductSession(ctx, event.AppointmentID)
	if err != nil {
		if errors.Is(err, store.ErrAppointmentNotFound) {
			c.logger.WithField("appointment_id", event.AppointmentID).
				Warn("scheduler-consumer: unknown appointment; acknowledging to drop")
			return true
		}
		c.logger.WithField("appointment_id", event.AppointmentID).
			WithError(err).Error("scheduler-consumer: deduction failed; re-queuing")
		return false
	}
	if !result.Success {
		c.logger.WithFields(logrus.Fields{
			"appointment_id": event.AppointmentID,
			"reason":         result.Reason,
		}).Info("scheduler-consumer: deduction skipped")
	}
	return true
}

// HandleAppointmentScheduled checks the client's balance against the newly
// scheduled session and triggers a top-up invoice when it falls short.
func (c *SchedulerEventConsumer) HandleAppointmentScheduled(body []byte) bool {
	var event AppointmentScheduledEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.WithError(err).Warn("scheduler-consumer: failed to unmarshal appointment.created payload; dropping")
		return true
	}
	if event.ClientID == uuid.Nil || event.TrainerID == uuid.Nil {
		c.logger.Warn("scheduler-consumer: appointment.created event missing client or trainer id; dropping")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := c.service.CheckBalanceAndGenerateInvoiceIfNeeded(ctx, event.ClientID, event.TrainerID); err != nil {
		if errors.Is(err, store.ErrClientProfileNotFound) {
			c.logger.WithField("client_id", event.ClientID).
				Warn("scheduler-consumer: unknown client; acknowledging to drop")
			return true
		}
		c.logger.WithField("client_id", event.ClientID).
			WithError(err).Error("scheduler-consumer: balance check failed; re-queuing")
		return false
	}
	return true
}
