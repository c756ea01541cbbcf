/**
 * @description
 * This package hosts the scheduled background jobs for the billing service.
 * The only job today is the draft invoice sweep: top-up invoices that fell
 * back to DRAFT after a failed email send are periodically re-sent.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: Cron-style job scheduling.
 * - github.com/sirupsen/logrus: Structured logging.
 */
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/fitsched/billing-service/internal/app"
)

// Scheduler wraps the cron runner for billing background jobs.
type Scheduler struct {
	cron    *cron.Cron
	service *app.Service
	logger  *logrus.Logger
}

func NewScheduler(service *app.Service, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		cron:    cron.New(),
		service: service,
		logger:  logger,
	}
}

// Start registers the draft invoice sweep on the given cron spec and starts
// the scheduler. Standard 5-field cron syntax.
func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.runDraftSweep); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.WithField("spec", spec).Info("draft invoice sweep scheduled")
	return nil
}

// Stop halts the scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) runDraftSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	sent, err := s.service.RetryDraftInvoices(ctx)
	if err != nil {
		s.logger.WithError(err).Error("draft invoice sweep failed")
		return
	}
	if sent > 0 {
		s.logger.WithField("sent", sent).Info("draft invoice sweep re-sent invoices")
	}
}
