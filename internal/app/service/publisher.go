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

// Publisher moves pending listings into public slots.
type Publisher struct {
	repo    repository.ListingRepository
	policy  *policy.Policy
	clock   func() time.Time
	logger  *zap.Logger
	metrics Metrics
	emitter emitter
}

// NewPublisher returns a Publisher built from deps.
func NewPublisher(deps Deps) *Publisher {
	deps = deps.withDefaults()
	logger := deps.Logger.Named("publisher")
	return &Publisher{
		repo:    deps.Listings,
		policy:  deps.Policy,
		clock:   deps.Clock,
		logger:  logger,
		metrics: deps.Metrics,
		emitter: emitter{events: deps.Events, logger: logger, clock: deps.Clock},
	}
}

// Publish makes the listing public if its category has a free slot.
// It fails with ErrNotFound, ErrNotEligible (not pending) or ErrSlotFull;
// on ErrSlotFull nothing is written.
func (p *Publisher) Publish(ctx context.Context, id string) (*model.Listing, error) {
	listing, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return nil, translateRepoErr(err)
	}
	if listing.State != model.StatePending {
		return nil, fmt.Errorf("%w: listing %s is %s", ErrNotEligible, id, listing.State)
	}

	rule, err := p.policy.Lookup(listing.Category)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotEligible, err)
	}

	published, err := p.repo.TryPublish(ctx, id, rule.Capacity, p.clock(), rule.VisibilityWindow)
	if err != nil {
		err = translateRepoErr(err)
		if errors.Is(err, ErrSlotFull) {
			p.metrics.SlotFull(listing.Category)
			p.logger.Debug("publish rejected, category full",
				zap.String("listing_id", id),
				zap.String("category", string(listing.Category)),
				zap.Int("capacity", rule.Capacity),
			)
		}
		return nil, err
	}

	p.metrics.Published(published.Category)
	p.logger.Info("listing published",
		zap.String("listing_id", published.ID),
		zap.String("category", string(published.Category)),
		zap.Timep("expires_at", published.ExpiresAt),
	)
	p.emitter.emit(ctx, model.EventPublished, published, model.StatePending, model.StatePublic)
	return published, nil
}
