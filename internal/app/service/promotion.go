package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sifan077/SlotBoard/internal/app/model"
	"github.com/sifan077/SlotBoard/internal/app/policy"
	"github.com/sifan077/SlotBoard/internal/app/repository"
	"go.uber.org/zap"
)

// maxPromoteRounds bounds how often Promote refetches candidates after
// losing races to concurrent writers.
const maxPromoteRounds = 3

// Promoter fills free slots with the oldest pending listings.
type Promoter struct {
	repo       repository.ListingRepository
	policy     *policy.Policy
	publisher  *Publisher
	reconciler *Reconciler
	clock      func() time.Time
	logger     *zap.Logger
	metrics    Metrics
}

// NewPromoter returns a Promoter that publishes through publisher and
// reconciles through reconciler.
func NewPromoter(deps Deps, publisher *Publisher, reconciler *Reconciler) *Promoter {
	deps = deps.withDefaults()
	return &Promoter{
		repo:       deps.Listings,
		policy:     deps.Policy,
		publisher:  publisher,
		reconciler: reconciler,
		clock:      deps.Clock,
		logger:     deps.Logger.Named("promoter"),
		metrics:    deps.Metrics,
	}
}

// Promote expires due listings in category, then publishes pending ones in
// created_at order (id breaks ties) until the category is full. It returns
// ErrNoneEligible when nothing was published.
func (p *Promoter) Promote(ctx context.Context, category model.Category) ([]model.Listing, error) {
	return p.PromoteExcluding(ctx, category, "")
}

// PromoteExcluding is Promote with the listing exclude left out of the
// candidates, so a listing sent back to pending does not refill its own slot.
func (p *Promoter) PromoteExcluding(ctx context.Context, category model.Category, exclude string) ([]model.Listing, error) {
	rule, err := p.policy.Lookup(category)
	if err != nil {
		return nil, unknownCategory(category)
	}

	if _, err := p.reconciler.Reconcile(ctx, category); err != nil {
		return nil, err
	}

	var promoted []model.Listing
	for round := 0; round < maxPromoteRounds; round++ {
		live, err := p.repo.CountLive(ctx, category, p.clock())
		if err != nil {
			return promoted, fmt.Errorf("count live %s: %w", category, err)
		}
		p.metrics.LiveCount(category, live)

		headroom := rule.Capacity - int(live)
		if headroom <= 0 {
			break
		}

		fetch := headroom
		if exclude != "" {
			fetch++
		}
		candidates, err := p.repo.ListPending(ctx, category, fetch)
		if err != nil {
			return promoted, fmt.Errorf("list pending %s: %w", category, err)
		}
		candidates = withoutListing(candidates, exclude, headroom)
		if len(candidates) == 0 {
			break
		}

		full, raced, err := p.publishAll(ctx, candidates, &promoted)
		if err != nil {
			return promoted, err
		}
		if full || !raced {
			break
		}
	}

	if len(promoted) == 0 {
		return nil, ErrNoneEligible
	}

	p.metrics.Promoted(category, len(promoted))
	p.logger.Info("promoted pending listings",
		zap.String("category", string(category)),
		zap.Int("count", len(promoted)),
	)
	return promoted, nil
}

// publishAll publishes candidates in order. It stops at the first SlotFull
// and reports whether any candidate was taken by a concurrent writer.
func (p *Promoter) publishAll(ctx context.Context, candidates []model.Listing, promoted *[]model.Listing) (full, raced bool, err error) {
	for _, c := range candidates {
		l, err := p.publisher.Publish(ctx, c.ID)
		switch {
		case err == nil:
			*promoted = append(*promoted, *l)
		case errors.Is(err, ErrSlotFull):
			return true, raced, nil
		case errors.Is(err, ErrNotEligible), errors.Is(err, ErrNotFound):
			raced = true
		default:
			return false, raced, fmt.Errorf("promote %s: %w", c.ID, err)
		}
	}
	return false, raced, nil
}

// withoutListing drops id from candidates and caps the result at limit.
func withoutListing(candidates []model.Listing, id string, limit int) []model.Listing {
	out := candidates[:0]
	for _, c := range candidates {
		if c.ID == id {
			continue
		}
		out = append(out, c)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
