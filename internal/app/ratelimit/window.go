// Package ratelimit implements fixed-window counting keyed by scope and
// caller (owner id or client IP).
package ratelimit

import (
	"fmt"
	"time"

	"github.com/sifan077/SlotBoard/config"
)

// Window defines how time is cut into counting periods.
type Window interface {
	// Bounds returns the [start, end) period containing now.
	Bounds(now time.Time) (start, end time.Time)
}

// FixedWindow cuts time into Size-long periods aligned to the Unix epoch.
type FixedWindow struct {
	Size time.Duration
}

func (w FixedWindow) Bounds(now time.Time) (time.Time, time.Time) {
	size := w.Size.Nanoseconds()
	startNs := now.UnixNano() - now.UnixNano()%size
	start := time.Unix(0, startNs).In(now.Location())
	return start, start.Add(w.Size)
}

// CalendarDay counts per calendar day in Location.
type CalendarDay struct {
	Location *time.Location
}

func (w CalendarDay) Bounds(now time.Time) (time.Time, time.Time) {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// Rule is one quota: at most Limit hits per Window within Scope.
type Rule struct {
	Scope  string
	Limit  int
	Window Window
}

// RuleFromConfig builds a rule for scope from its config section.
func RuleFromConfig(scope string, rr config.RateRule) (Rule, error) {
	if rr.Limit <= 0 {
		return Rule{}, fmt.Errorf("ratelimit: %s: limit must be positive", scope)
	}
	if rr.CalendarDay {
		loc := time.UTC
		if rr.Timezone != "" {
			l, err := time.LoadLocation(rr.Timezone)
			if err != nil {
				return Rule{}, fmt.Errorf("ratelimit: %s: load timezone: %w", scope, err)
			}
			loc = l
		}
		return Rule{Scope: scope, Limit: rr.Limit, Window: CalendarDay{Location: loc}}, nil
	}
	if rr.Window <= 0 {
		return Rule{}, fmt.Errorf("ratelimit: %s: window must be positive", scope)
	}
	return Rule{Scope: scope, Limit: rr.Limit, Window: FixedWindow{Size: rr.Window}}, nil
}
