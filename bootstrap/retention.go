package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/artpar/llmgate/ports"
)

// RetentionSweeper deletes usage events older than the retention window
// on a cron schedule, e.g. "0 3 * * *" for daily at 3 AM.
type RetentionSweeper struct {
	store    ports.UsageStore
	clock    ports.Clock
	logger   zerolog.Logger
	cron     *cron.Cron
	schedule string
	days     int

	mu      sync.Mutex
	running bool
}

// NewRetentionSweeper creates a sweeper. An empty schedule disables it;
// Start becomes a no-op.
func NewRetentionSweeper(store ports.UsageStore, clk ports.Clock, logger zerolog.Logger, schedule string, days int) *RetentionSweeper {
	return &RetentionSweeper{
		store:    store,
		clock:    clk,
		logger:   logger,
		cron:     cron.New(),
		schedule: schedule,
		days:     days,
	}
}

// Start begins the scheduled sweep.
func (s *RetentionSweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Debug().Msg("retention schedule not configured, sweeper disabled")
		return nil
	}
	if s.days <= 0 {
		return fmt.Errorf("retention days must be positive, got %d", s.days)
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Int("retention_days", s.days).
		Msg("usage retention sweeper started")
	return nil
}

// Sweep deletes events older than the retention window and reports how
// many were removed.
func (s *RetentionSweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().AddDate(0, 0, -s.days)
	return s.store.Cleanup(ctx, cutoff)
}

func (s *RetentionSweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deleted, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("retention sweep failed")
		return
	}

	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Msg("retention sweep completed")
	} else {
		s.logger.Debug().Msg("retention sweep completed, nothing to delete")
	}
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *RetentionSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info().Msg("usage retention sweeper stopped")
	}
}

// NextRun returns the next scheduled sweep time, if any.
func (s *RetentionSweeper) NextRun() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}, false
	}
	return entries[0].Next, true
}
