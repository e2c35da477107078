package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims expired hits, admits the request only while under max
// and reports when the oldest hit leaves the window. Rejected requests are not
// recorded, so a client hammering the endpoint is not locked out longer.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < max then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return {1, max - count - 1, now + window}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local reset = now + window
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
return {0, 0, reset}
`)

// Limiter is a sliding window limiter over Redis sorted sets, one set per key.
type Limiter struct {
	Client redis.Cmdable
	Prefix string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Allow records a hit for key when it fits in the window. reset is when the
// next slot frees up.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	at := now()
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, at.Add(window), nil
	}

	res, err := slidingWindow.Run(ctx, l.Client, []string{l.Prefix + key},
		at.UnixMilli(), window.Milliseconds(), max, uuid.NewString()).Int64Slice()
	if err != nil {
		return false, 0, at.Add(window), fmt.Errorf("sliding window %s: %w", key, err)
	}
	if len(res) != 3 {
		return false, 0, at.Add(window), fmt.Errorf("sliding window %s: unexpected reply %v", key, res)
	}
	return res[0] == 1, int(res[1]), time.UnixMilli(res[2]), nil
}
