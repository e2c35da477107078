package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	waits []time.Duration
	err   error
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return s.err
}

func TestRetryCreateOrderSucceedsOnThirdAttempt(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	out, err := RetryCreateOrder(context.Background(), Retrier{Sleep: sleeper.Sleep}, func(_ context.Context, attempt int) (string, error) {
		calls++
		require.Equal(t, calls, attempt)
		if attempt < 3 {
			return "", errors.New("connection reset")
		}
		return "order-ids", nil
	})
	require.NoError(t, err)
	require.Equal(t, "order-ids", out)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.waits)
}

func TestRetryCreateOrderReturnsOriginalErrorAfterExhaustion(t *testing.T) {
	sleeper := &recordingSleeper{}
	boom := errors.New("duplicate key value violates unique constraint")
	calls := 0
	var observed []int
	_, err := RetryCreateOrder(context.Background(), Retrier{
		Sleep:     sleeper.Sleep,
		OnAttempt: func(attempt int, _ error) { observed = append(observed, attempt) },
	}, func(context.Context, int) (int, error) {
		calls++
		return 0, boom
	})
	require.Same(t, boom, err)
	require.Equal(t, boom.Error(), err.Error())
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2, 3}, observed)
	require.Len(t, sleeper.waits, 2)
}

func TestRetryCreateOrderHonoursCustomLimits(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	_, err := RetryCreateOrder(context.Background(), Retrier{MaxAttempts: 4, BaseDelay: 10 * time.Millisecond, Sleep: sleeper.Sleep}, func(context.Context, int) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("fail")
	})
	require.Error(t, err)
	require.Equal(t, 4, calls)
	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, sleeper.waits)
}

func TestRetryCreateOrderStopsWhenSleepIsCancelled(t *testing.T) {
	sleeper := &recordingSleeper{err: context.Canceled}
	calls := 0
	_, err := RetryCreateOrder(context.Background(), Retrier{Sleep: sleeper.Sleep}, func(context.Context, int) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestSleepCtxReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))
}
