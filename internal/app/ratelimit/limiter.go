package ratelimit

import (
	"context"
	"math"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed     bool
	Limit       int
	Remaining   int
	WindowStart time.Time
	ResetAt     time.Time
	RetryAfter  time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	return CeilSeconds(d.RetryAfter)
}

// CeilSeconds rounds d up to whole seconds, as sent in Retry-After.
func CeilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// Limiter counts a hit for key under rule and reports whether it fits.
// Release gives back one hit counted in the window starting at
// windowStart; it never takes a counter below zero.
type Limiter interface {
	Allow(ctx context.Context, rule Rule, key string) (Decision, error)
	Release(ctx context.Context, rule Rule, key string, windowStart time.Time) error
}

func decide(rule Rule, count int64, now, start, end time.Time) Decision {
	d := Decision{
		Allowed:     count <= int64(rule.Limit),
		Limit:       rule.Limit,
		Remaining:   rule.Limit - int(count),
		WindowStart: start,
		ResetAt:     end,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = end.Sub(now)
	}
	return d
}
