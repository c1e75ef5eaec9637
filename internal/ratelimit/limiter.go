// Package ratelimit enforces per-key request rates and daily model-call quotas in Redis.
// Every check fails open when Redis is absent or unreachable.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "chorus:"

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter is a sliding-window limiter over Redis sorted sets.
type Limiter struct {
	rdb *redis.Client
	now func() time.Time
}

func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb, now: time.Now}
}

// KEYS[1] is the window's sorted set. ARGV: window start, now (unix micro), limit, ttl seconds.
// Returns {entries in window, admitted (0|1), score of the oldest entry}.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local floor = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', floor)
local used = redis.call('ZCARD', key)
local admitted = 0
if used < limit then
    redis.call('ZADD', key, now, now .. '-' .. math.random(1000000))
    used = used + 1
    admitted = 1
end
redis.call('EXPIRE', key, tonumber(ARGV[4]))

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local first = now
if oldest[2] then
    first = tonumber(oldest[2])
end
return {used, admitted, first}
`)

// Check records one request in key's window and reports whether it fits under limit.
func (l *Limiter) Check(ctx context.Context, key string, limit int64, window time.Duration) (Decision, error) {
	now := l.now()
	if l.rdb == nil {
		return Decision{Allowed: true, Remaining: limit - 1, ResetAt: now.Add(window)}, nil
	}

	res, err := admitScript.Run(ctx, l.rdb, []string{keyPrefix + "rl:" + key},
		now.Add(-window).UnixMicro(), now.UnixMicro(), limit, int64(window/time.Second)+1,
	).Int64Slice()
	if err != nil || len(res) != 3 {
		return Decision{Allowed: true, Remaining: limit - 1, ResetAt: now.Add(window)}, nil
	}
	return decide(now, window, limit, res[0], res[1] == 1, time.UnixMicro(res[2])), nil
}

// decide turns the script's counters into a Decision. The window frees a slot when its
// oldest entry ages out.
func decide(now time.Time, window time.Duration, limit, used int64, admitted bool, oldest time.Time) Decision {
	d := Decision{
		Allowed:   admitted,
		Remaining: max(limit-used, 0),
		ResetAt:   oldest.Add(window),
	}
	if !admitted {
		d.RetryAfter = max(d.ResetAt.Sub(now), time.Second)
	}
	return d
}
