package intent

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Abandoner marks stale intents as abandoned.
type Abandoner interface {
	MarkAbandoned(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper periodically abandons intents that never got linked to an order.
type Sweeper struct {
	Store    Abandoner
	After    time.Duration
	Interval time.Duration
	Now      func() time.Time
	Logger   zerolog.Logger
}

// SweepOnce abandons intents older than After and returns how many changed.
func (s Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	after := s.After
	if after <= 0 {
		after = 24 * time.Hour
	}
	n, err := s.Store.MarkAbandoned(ctx, now().Add(-after))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.Logger.Info().Int64("count", n).Dur("after", after).Msg("intents_abandoned")
	}
	return n, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.Logger.Error().Err(err).Msg("intent_sweep_failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
