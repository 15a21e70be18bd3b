// Package jobs runs schoolhub's scheduled background work.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/keyxmakerx/schoolhub/internal/metrics"
)

// sweepTimeout bounds a single sweep so a stuck database cannot pile up runs.
const sweepTimeout = 30 * time.Second

// ExpiredResetClearer clears reset tokens whose expiry is at or before now
// and reports how many accounts were affected. auth.UserRepository
// satisfies it.
type ExpiredResetClearer interface {
	ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}

// ResetSweeper periodically clears expired password-reset tokens. The reset
// flow already refuses expired tokens; the sweep only keeps abandoned ones
// from lingering in the table.
type ResetSweeper struct {
	store   ExpiredResetClearer
	metrics *metrics.Metrics
	cron    *cron.Cron
	now     func() time.Time
}

// NewResetSweeper schedules the sweep on the given cron spec (for example
// "@every 15m" or "*/10 * * * *"). It returns an error for an invalid spec.
// Call Start to begin running. m may be nil.
func NewResetSweeper(store ExpiredResetClearer, schedule string, m *metrics.Metrics) (*ResetSweeper, error) {
	s := &ResetSweeper{
		store:   store,
		metrics: m,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		now: time.Now,
	}

	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("scheduling reset sweep %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *ResetSweeper) Start() {
	s.cron.Start()
	slog.Info("reset token sweep scheduled", slog.Time("next", s.cron.Entries()[0].Next))
}

// Stop halts the scheduler and returns a context that is done once a
// running sweep has finished.
func (s *ResetSweeper) Stop() context.Context {
	return s.cron.Stop()
}

// Sweep clears expired reset tokens once.
func (s *ResetSweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.ClearExpiredResetTokens(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweeping expired reset tokens: %w", err)
	}
	s.metrics.PasswordResetsSwept(n)
	return n, nil
}

func (s *ResetSweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	n, err := s.Sweep(ctx)
	if err != nil {
		slog.Error("reset token sweep failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		slog.Info("cleared expired reset tokens", slog.Int64("count", n))
	}
}
