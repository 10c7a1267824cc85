package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sifan077/SlotBoard/internal/app/model"
	"github.com/sifan077/SlotBoard/internal/app/repository"
	"go.uber.org/zap"
)

// Reconciler moves public listings whose window has elapsed to expired.
type Reconciler struct {
	repo    repository.ListingRepository
	clock   func() time.Time
	logger  *zap.Logger
	metrics Metrics
	emitter emitter
}

// NewReconciler returns a Reconciler built from deps.
func NewReconciler(deps Deps) *Reconciler {
	deps = deps.withDefaults()
	logger := deps.Logger.Named("reconciler")
	return &Reconciler{
		repo:    deps.Listings,
		clock:   deps.Clock,
		logger:  logger,
		metrics: deps.Metrics,
		emitter: emitter{events: deps.Events, logger: logger, clock: deps.Clock},
	}
}

// Reconcile expires due listings in category ("" for all) and returns how
// many were transitioned. Running it again without new writes returns 0.
func (r *Reconciler) Reconcile(ctx context.Context, category model.Category) (int, error) {
	expired, err := r.expire(ctx, category)
	return len(expired), err
}

// expire returns the listings it transitioned so callers can refill the
// categories they vacated.
func (r *Reconciler) expire(ctx context.Context, category model.Category) ([]model.Listing, error) {
	now := r.clock()
	expired, err := r.repo.ExpireDue(ctx, category, now)
	if err != nil {
		return nil, fmt.Errorf("reconcile %q: %w", category, err)
	}
	if len(expired) == 0 {
		return nil, nil
	}

	perCategory := make(map[model.Category]int)
	for i := range expired {
		l := &expired[i]
		perCategory[l.Category]++
		r.emitter.emit(ctx, model.EventExpired, l, model.StatePublic, model.StateExpired)
	}
	for cat, n := range perCategory {
		r.metrics.Expired(cat, n)
		r.logger.Info("expired public listings",
			zap.String("category", string(cat)),
			zap.Int("count", n),
			zap.Time("now", now),
		)
	}
	return expired, nil
}
