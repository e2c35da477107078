package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T) (Limiter, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return Limiter{Client: client, Prefix: "test:", Now: func() time.Time { return now }}, &now
}

func TestLimiterAllowSlidingWindow(t *testing.T) {
	limiter, now := newLimiter(t)
	ctx := context.Background()
	window := 2 * time.Second

	for i := 0; i < 2; i++ {
		allowed, remaining, _, err := limiter.Allow(ctx, "key", window, 2)
		require.NoError(t, err)
		require.True(t, allowed, "request %d", i)
		require.Equal(t, 1-i, remaining)
		*now = now.Add(500 * time.Millisecond)
	}

	allowed, remaining, reset, err := limiter.Allow(ctx, "key", window, 2)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Zero(t, remaining)
	// The first hit happened 1s ago, so a slot frees in 1s.
	require.Equal(t, now.Add(time.Second).UnixMilli(), reset.UnixMilli())

	*now = now.Add(time.Second)
	allowed, _, _, err = limiter.Allow(ctx, "key", window, 2)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestLimiterRejectedHitsAreNotCounted(t *testing.T) {
	limiter, now := newLimiter(t)
	ctx := context.Background()

	allowed, _, _, err := limiter.Allow(ctx, "key", time.Second, 1)
	require.NoError(t, err)
	require.True(t, allowed)
	for i := 0; i < 5; i++ {
		allowed, _, _, err = limiter.Allow(ctx, "key", time.Second, 1)
		require.NoError(t, err)
		require.False(t, allowed)
	}

	*now = now.Add(time.Second)
	allowed, _, _, err = limiter.Allow(ctx, "key", time.Second, 1)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter, _ := newLimiter(t)
	ctx := context.Background()

	allowed, _, _, err := limiter.Allow(ctx, "a", time.Minute, 1)
	require.NoError(t, err)
	require.True(t, allowed)
	allowed, _, _, err = limiter.Allow(ctx, "b", time.Minute, 1)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestLimiterDisabled(t *testing.T) {
	allowed, remaining, _, err := Limiter{}.Allow(context.Background(), "key", time.Second, 5)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 5, remaining)
}
