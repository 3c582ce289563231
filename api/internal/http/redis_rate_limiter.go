package httpx

import (
	"context"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"
)

// fixedWindow increments the counter, starts its window on the first hit and
// returns the count with the remaining window in milliseconds.
var fixedWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

const rateLimitPrefix = "minivercel:ratelimit:"

type redisRateLimiter struct {
	client  redis.Scripter
	logger  *slog.Logger
	timeout time.Duration
}

// NewRedisRateLimiter returns a limiter whose windows are shared by every
// API replica. The client is owned by the caller.
func NewRedisRateLimiter(client redis.Scripter, logger *slog.Logger) RateLimiter {
	return &redisRateLimiter{client: client, logger: logger, timeout: 250 * time.Millisecond}
}

// Allow fails open: a Redis error never rejects a request.
func (rl *redisRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), rl.timeout)
	defer cancel()

	res, err := fixedWindow.Run(ctx, rl.client, []string{rateLimitPrefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		if rl.logger != nil {
			rl.logger.Error("redis rate limiter error", "key", key, "error", err)
		}
		return rateDecision{allowed: true}
	}
	count, ttl := res[0], time.Duration(res[1])*time.Millisecond
	if ttl <= 0 {
		ttl = window
	}
	return rateDecision{
		allowed:   count <= int64(limit),
		count:     int(count),
		windowEnd: time.Now().Add(ttl),
	}
}

func (rl *redisRateLimiter) Close() {}
