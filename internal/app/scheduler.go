/**
 * @description
 * Cron scheduler setup for the maintenance jobs.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
	}
}

// Register adds the reconciliation and ledger audit jobs. An empty schedule disables a job.
func (s *Scheduler) Register(reconcileSchedule, auditSchedule string) error {
	entries := []struct {
		name     string
		schedule string
		run      func()
	}{
		{name: "settlement reconciliation", schedule: reconcileSchedule, run: s.jobs.ReconcileSettlements},
		{name: "ledger audit", schedule: auditSchedule, run: s.jobs.AuditLedgers},
	}
	for _, entry := range entries {
		if entry.schedule == "" {
			s.logger.Info("job disabled", "job", entry.name)
			continue
		}
		if _, err := s.cron.AddFunc(entry.schedule, entry.run); err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", entry.name, err)
		}
		s.logger.Info("scheduled job", "job", entry.name, "schedule", entry.schedule)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop gracefully stops the cron scheduler. The returned context is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
