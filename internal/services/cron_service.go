package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// AttemptPruner deletes old audit rows
type AttemptPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CronConfig holds the job schedules
type CronConfig struct {
	// SweepSchedule runs the idle flow sweeper. Cron format: second minute hour day month weekday
	SweepSchedule string
	// PruneSchedule runs the attempt log cleanup
	PruneSchedule string
	// AttemptRetention is how long attempt rows are kept
	AttemptRetention time.Duration
}

// DefaultCronConfig returns default schedules
func DefaultCronConfig() CronConfig {
	return CronConfig{
		SweepSchedule:    "0 * * * * *",
		PruneSchedule:    "0 0 3 * * *",
		AttemptRetention: 90 * 24 * time.Hour,
	}
}

// CronService manages scheduled background jobs
type CronService struct {
	cron   *cron.Cron
	flows  *BookingFlowService
	pruner AttemptPruner
	config CronConfig
	logger *logrus.Logger
	now    func() time.Time
}

// NewCronService creates a new CronService. pruner may be nil when no database is configured.
func NewCronService(flows *BookingFlowService, pruner AttemptPruner, config CronConfig, logger *logrus.Logger) *CronService {
	return &CronService{
		cron:   cron.New(cron.WithSeconds()),
		flows:  flows,
		pruner: pruner,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	if _, err := s.cron.AddFunc(s.config.SweepSchedule, s.sweepIdleFlowsJob); err != nil {
		return fmt.Errorf("failed to schedule flow sweep job: %w", err)
	}
	s.logger.WithField("schedule", s.config.SweepSchedule).Info("✓ Scheduled: Sweep idle booking flows")

	if s.pruner != nil {
		if _, err := s.cron.AddFunc(s.config.PruneSchedule, s.pruneAttemptsJob); err != nil {
			return fmt.Errorf("failed to schedule attempt cleanup job: %w", err)
		}
		s.logger.WithField("schedule", s.config.PruneSchedule).Info("✓ Scheduled: Cleanup reservation attempts")
	}

	s.cron.Start()
	s.logger.Info("✓ Cron service started successfully")
	return nil
}

// Stop stops all cron jobs and waits for running ones
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("✓ Cron service stopped")
}

func (s *CronService) sweepIdleFlowsJob() {
	removed := s.flows.Sweep(s.now())
	if removed > 0 {
		s.logger.WithField("removed", removed).Info("[CRON] Swept idle booking flows")
	}
}

func (s *CronService) pruneAttemptsJob() {
	startTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := s.now().Add(-s.config.AttemptRetention)
	deleted, err := s.pruner.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("[CRON ERROR] Failed to cleanup reservation attempts")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"deleted":  deleted,
		"cutoff":   cutoff.Format(time.RFC3339),
		"duration": time.Since(startTime).String(),
	}).Info("[CRON] ✓ Cleaned up reservation attempts")
}

// RunSweepNow runs the flow sweeper immediately
func (s *CronService) RunSweepNow() int {
	return s.flows.Sweep(s.now())
}
