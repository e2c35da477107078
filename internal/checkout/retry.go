package checkout

import (
	"context"
	"time"

	"github.com/noah-isme/storefront-checkout/internal/resilience"
)

const (
	// DefaultMaxAttempts applies when Retrier.MaxAttempts is not positive.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay applies when Retrier.BaseDelay is not positive.
	DefaultBaseDelay = time.Second
)

// Retrier bounds order creation retries. Every error is retried the same way.
type Retrier struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Sleep waits between attempts; it must return ctx.Err() when ctx ends first.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnAttempt observes each attempt outcome.
	OnAttempt func(attempt int, err error)
}

// RetryCreateOrder calls fn until it succeeds or MaxAttempts is reached. The
// delay before attempt n+1 is BaseDelay*2^(n-1). The last error is returned as is.
func RetryCreateOrder[T any](ctx context.Context, r Retrier, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	limit := r.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}
	base := r.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var (
		zero T
		err  error
	)
	for attempt := 1; attempt <= limit; attempt++ {
		var out T
		out, err = fn(ctx, attempt)
		if r.OnAttempt != nil {
			r.OnAttempt(attempt, err)
		}
		if err == nil {
			return out, nil
		}
		if attempt == limit {
			break
		}
		if serr := sleep(ctx, resilience.Backoff(base, attempt, 0)); serr != nil {
			return zero, serr
		}
	}
	return zero, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
