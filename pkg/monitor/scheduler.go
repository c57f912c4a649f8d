package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/tollgate/pkg/telemetry/logging"
)

// Roller advances recurring budgets whose period has ended.
// *ledger.Ledger satisfies it.
type Roller interface {
	RolloverDue(ctx context.Context) (int, error)
}

// RolloverScheduler sweeps for due period rollovers on a cron schedule.
// Rollovers also happen lazily on usage; the sweep resets alerts of budgets
// that see no traffic.
type RolloverScheduler struct {
	roller   Roller
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewRolloverScheduler creates a scheduler running roller on schedule, a
// standard five-field cron expression. An empty schedule disables it.
func NewRolloverScheduler(roller Roller, schedule string, logger *slog.Logger) *RolloverScheduler {
	return &RolloverScheduler{
		roller:   roller,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logging.Component(logger, "monitor.scheduler"),
	}
}

// Start schedules the sweep and stops it when ctx is cancelled.
//
// Common cron expressions:
//   - "*/5 * * * *" - Every 5 minutes
//   - "0 * * * *"   - Hourly
//   - "5 0 * * *"   - Daily just after midnight
func (s *RolloverScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("rollover schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule rollover: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("rollover scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// RunOnce performs one rollover sweep.
func (s *RolloverScheduler) RunOnce(ctx context.Context) int {
	rolled, err := s.roller.RolloverDue(ctx)
	if err != nil {
		s.logger.Error("scheduled rollover failed", "rolled", rolled, "error", err)
		return rolled
	}

	if rolled > 0 {
		s.logger.Info("scheduled rollover completed", "rolled", rolled)
	} else {
		s.logger.Debug("scheduled rollover completed, nothing due")
	}
	return rolled
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *RolloverScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("rollover scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is running.
func (s *RolloverScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled sweep, or nil when not scheduled.
func (s *RolloverScheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}
