package ratelimit

import (
	"context"
	"sync"
	"time"
)

const memoryPruneThreshold = 10000

// RateWindow is the counter for one key in its current window.
type RateWindow struct {
	Count       int64
	WindowStart time.Time
	WindowEnd   time.Time
}

// MemoryLimiter is an in-process Limiter. It is used when Redis is not
// configured and in tests; counts are not shared between processes.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*RateWindow
	now     func() time.Time
}

// NewMemoryLimiter returns a limiter using clock, or time.Now when nil.
func NewMemoryLimiter(clock func() time.Time) *MemoryLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLimiter{windows: make(map[string]*RateWindow), now: clock}
}

func (l *MemoryLimiter) Allow(_ context.Context, rule Rule, key string) (Decision, error) {
	now := l.now()
	start, end := rule.Window.Bounds(now)
	k := rule.Scope + ":" + key

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.windows) > memoryPruneThreshold {
		l.pruneLocked(now)
	}

	w, ok := l.windows[k]
	if !ok || !w.WindowStart.Equal(start) {
		w = &RateWindow{WindowStart: start, WindowEnd: end}
		l.windows[k] = w
	}
	w.Count++

	return decide(rule, w.Count, now, start, end), nil
}

func (l *MemoryLimiter) Release(_ context.Context, rule Rule, key string, windowStart time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[rule.Scope+":"+key]
	if ok && w.WindowStart.Equal(windowStart) && w.Count > 0 {
		w.Count--
	}
	return nil
}

func (l *MemoryLimiter) pruneLocked(now time.Time) {
	for k, w := range l.windows {
		if !now.Before(w.WindowEnd) {
			delete(l.windows, k)
		}
	}
}
