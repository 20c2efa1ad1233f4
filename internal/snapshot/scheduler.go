package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler rebuilds the snapshot on a cron schedule.
//
// Common expressions:
//   - "*/15 * * * *" - every 15 minutes
//   - "0 * * * *"    - hourly
//   - "@every 30s"   - fixed interval
//
// An empty schedule disables scheduled rebuilds.
type Scheduler struct {
	builder  *Builder
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *logrus.Logger
	running  bool
}

// NewScheduler creates a scheduler for builder.
func NewScheduler(builder *Builder, schedule string, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		builder:  builder,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start registers the rebuild job and starts the cron runner. The scheduler
// stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("Snapshot rebuild schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.runRebuild(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule snapshot rebuild: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.WithField("schedule", s.schedule).Info("Snapshot scheduler started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Scheduler) runRebuild(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Debug("Starting scheduled snapshot rebuild")

	if _, err := s.builder.Rebuild(ctx); err != nil {
		s.logger.WithError(err).Error("Scheduled snapshot rebuild failed")
	}
}

// Stop stops the scheduler and waits for a running rebuild to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("Snapshot scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled rebuild time.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}
