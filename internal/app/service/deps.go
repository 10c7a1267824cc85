package service

import (
	"context"
	"time"

	"github.com/sifan077/SlotBoard/internal/app/model"
	"github.com/sifan077/SlotBoard/internal/app/policy"
	"github.com/sifan077/SlotBoard/internal/app/ratelimit"
	"github.com/sifan077/SlotBoard/internal/app/repository"
	"github.com/sifan077/SlotBoard/internal/app/validate"
	"go.uber.org/zap"
)

const (
	defaultPromoteTimeout   = 3 * time.Second
	defaultReadSweepTimeout = 5 * time.Second
	defaultReadSweepRate    = 1.0
)

// Metrics receives queue counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	Submission(category model.Category, outcome string)
	Published(category model.Category)
	SlotFull(category model.Category)
	Expired(category model.Category, n int)
	Promoted(category model.Category, n int)
	PromotionFailed(category model.Category)
	RateLimited(scope string)
	LiveCount(category model.Category, n int64)
}

// EventPublisher ships lifecycle events. Delivery is best effort.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event model.ListingEvent) error
}

// SweepFunc reconciles and refills one category ("" for all).
type SweepFunc func(ctx context.Context, category model.Category) error

// Deps bundles what the queue components need. Only Listings and Policy are
// required; everything else has a working default.
type Deps struct {
	Logger     *zap.Logger
	Listings   repository.ListingRepository
	Policy     *policy.Policy
	Limiter    ratelimit.Limiter
	SubmitRule ratelimit.Rule
	Validator  *validate.Validator
	Guard      *DuplicateGuard
	Events     EventPublisher
	Metrics    Metrics
	Clock      func() time.Time

	// SweepSink receives read-path sweep requests. When nil the sweep runs
	// in-process.
	SweepSink        SweepFunc
	ReadSweepRate    float64
	ReadSweepTimeout time.Duration
	PromoteTimeout   time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = func() time.Time { return time.Now().UTC() }
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.NewMemoryLimiter(d.Clock)
	}
	if d.SubmitRule.Limit == 0 {
		d.SubmitRule = ratelimit.Rule{Scope: "submit", Limit: 2, Window: ratelimit.CalendarDay{}}
	}
	if d.Validator == nil {
		d.Validator = validate.Default()
	}
	if d.Events == nil {
		d.Events = nopEvents{}
	}
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if d.ReadSweepRate <= 0 {
		d.ReadSweepRate = defaultReadSweepRate
	}
	if d.ReadSweepTimeout <= 0 {
		d.ReadSweepTimeout = defaultReadSweepTimeout
	}
	if d.PromoteTimeout <= 0 {
		d.PromoteTimeout = defaultPromoteTimeout
	}
	return d
}

type nopEvents struct{}

func (nopEvents) PublishEvent(context.Context, model.ListingEvent) error { return nil }

type nopMetrics struct{}

func (nopMetrics) Submission(model.Category, string) {}
func (nopMetrics) Published(model.Category)          {}
func (nopMetrics) SlotFull(model.Category)           {}
func (nopMetrics) Expired(model.Category, int)       {}
func (nopMetrics) Promoted(model.Category, int)      {}
func (nopMetrics) PromotionFailed(model.Category)    {}
func (nopMetrics) RateLimited(string)                {}
func (nopMetrics) LiveCount(model.Category, int64)   {}
