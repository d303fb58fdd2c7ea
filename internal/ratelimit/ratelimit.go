// Package ratelimit implements a token bucket shared across worker replicas
// through Redis.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter allows capacity events per key per window. Tokens refill evenly
// over the window.
type Limiter struct {
	rdb      redis.Cmdable
	capacity int
	window   time.Duration
	prefix   string
	now      func() time.Time
}

// New returns a Limiter. Keys are stored under "rl:"+prefix so several
// limiters can share one Redis.
func New(rdb redis.Cmdable, capacity int, window time.Duration, prefix string) *Limiter {
	if !strings.HasPrefix(prefix, "rl:") {
		prefix = "rl:" + prefix
	}
	return &Limiter{rdb: rdb, capacity: capacity, window: window, prefix: prefix, now: time.Now}
}

// Allow takes a token for key and reports whether one was available. A
// limiter without Redis or capacity allows everything.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil || l.rdb == nil || l.capacity <= 0 {
		return true, nil
	}
	refill := l.window.Milliseconds() / int64(l.capacity)
	if refill < 1 {
		refill = 1
	}
	res, err := bucket.Run(ctx, l.rdb, []string{l.prefix + key}, l.capacity, refill, l.now().UnixMilli()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// bucket keeps {tokens, ts} in a hash. Tokens are added once per refill
// interval elapsed since ts, capped at capacity. The key expires once a
// full bucket would have refilled.
var bucket = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
local gained = math.floor((now - ts) / refill)
if gained > 0 then
  tokens = math.min(capacity, tokens + gained)
  ts = ts + gained * refill
end
local ok = 0
if tokens >= 1 then
  tokens = tokens - 1
  ok = 1
end
redis.call('HSET', key, 'tokens', tokens, 'ts', ts)
redis.call('PEXPIRE', key, refill * capacity)
return ok
`)
