/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/jaypozo/grant-pathway/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.StalePendingSweepSchedule, s.jobs.ReportStalePendingRecords); err != nil {
		s.logger.Error("failed to schedule stale pending sweep", "error", err)
	} else {
		s.logger.Info("scheduled stale pending sweep", "schedule", s.config.StalePendingSweepSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.OutboxPurgeSchedule, s.jobs.PurgePublishedOutbox); err != nil {
		s.logger.Error("failed to schedule outbox purge", "error", err)
	} else {
		s.logger.Info("scheduled outbox purge", "schedule", s.config.OutboxPurgeSchedule)
	}

	s.cron.Start()
}

// Stop halts the scheduler, waiting for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}
