package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript decrements a window counter that still exists and is positive.
var releaseScript = redis.NewScript(`
local n = tonumber(redis.call("GET", KEYS[1]) or "0")
if n > 0 then
	return redis.call("DECR", KEYS[1])
end
return 0
`)

// RedisLimiter keeps one counter per (scope, key, window start) in Redis.
// Counters expire shortly after their window closes.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisLimiter returns a limiter storing counters under prefix.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, rule Rule, key string) (Decision, error) {
	now := l.now()
	start, end := rule.Window.Bounds(now)
	redisKey := windowKey(l.prefix, rule.Scope, key, start)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireAt(ctx, redisKey, end.Add(time.Second))
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis incr %s: %w", rule.Scope, err)
	}

	return decide(rule, incr.Val(), now, start, end), nil
}

func (l *RedisLimiter) Release(ctx context.Context, rule Rule, key string, windowStart time.Time) error {
	redisKey := windowKey(l.prefix, rule.Scope, key, windowStart)
	if err := releaseScript.Run(ctx, l.client, []string{redisKey}).Err(); err != nil {
		return fmt.Errorf("ratelimit: redis release %s: %w", rule.Scope, err)
	}
	return nil
}

func windowKey(prefix, scope, key string, start time.Time) string {
	return prefix + ":" + scope + ":" + key + ":" + strconv.FormatInt(start.Unix(), 10)
}
