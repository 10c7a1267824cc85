package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/SlotBoard/internal/app/model"
	"github.com/sifan077/SlotBoard/internal/app/policy"
	"github.com/sifan077/SlotBoard/internal/app/ratelimit"
	"github.com/sifan077/SlotBoard/internal/app/repository"
	"github.com/sifan077/SlotBoard/internal/app/validate"
	"go.uber.org/zap"
)

// SubmitInput captures data required to submit a listing.
type SubmitInput struct {
	OwnerID   string         `json:"owner_id" validate:"required,max=64"`
	Category  model.Category `json:"category" validate:"required,max=32"`
	Title     string         `json:"title" validate:"required,max=60"`
	Body      string         `json:"body" validate:"required,max=1000"`
	ImagePath string         `json:"image_path,omitempty" validate:"omitempty,max=255"`
}

// AdmissionController validates, rate-limits and stores new submissions.
// It never publishes.
type AdmissionController struct {
	repo      repository.ListingRepository
	policy    *policy.Policy
	limiter   ratelimit.Limiter
	rule      ratelimit.Rule
	validator *validate.Validator
	guard     *DuplicateGuard
	clock     func() time.Time
	logger    *zap.Logger
	metrics   Metrics
	emitter   emitter
}

// NewAdmissionController returns an AdmissionController built from deps.
func NewAdmissionController(deps Deps) *AdmissionController {
	deps = deps.withDefaults()
	logger := deps.Logger.Named("admission")
	return &AdmissionController{
		repo:      deps.Listings,
		policy:    deps.Policy,
		limiter:   deps.Limiter,
		rule:      deps.SubmitRule,
		validator: deps.Validator,
		guard:     deps.Guard,
		clock:     deps.Clock,
		logger:    logger,
		metrics:   deps.Metrics,
		emitter:   emitter{events: deps.Events, logger: logger, clock: deps.Clock},
	}
}

// Submit inserts a new pending listing.
func (a *AdmissionController) Submit(ctx context.Context, input SubmitInput) (*model.Listing, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Body = strings.TrimSpace(input.Body)

	if fields := a.validator.Struct(input); fields != nil {
		a.metrics.Submission(input.Category, "invalid")
		return nil, &ValidationError{Fields: fields}
	}
	if !a.policy.Valid(input.Category) {
		a.metrics.Submission(input.Category, "invalid")
		return nil, unknownCategory(input.Category)
	}

	fp := submissionFingerprint(input.OwnerID, input.Category, input.Title, input.Body)
	if err := a.checkDuplicate(ctx, fp, input); err != nil {
		a.metrics.Submission(input.Category, "duplicate")
		return nil, err
	}

	decision, err := a.allow(ctx, input.OwnerID)
	if err != nil {
		a.metrics.Submission(input.Category, "rate_limited")
		return nil, err
	}

	listing := &model.Listing{
		ID:        uuid.New().String(),
		OwnerID:   input.OwnerID,
		Category:  input.Category,
		State:     model.StatePending,
		Title:     input.Title,
		Body:      input.Body,
		ImagePath: input.ImagePath,
		CreatedAt: a.clock(),
	}
	if err := a.repo.Create(ctx, listing); err != nil {
		a.release(ctx, input.OwnerID, decision)
		a.metrics.Submission(input.Category, "error")
		return nil, fmt.Errorf("create listing: %w", err)
	}
	if a.guard != nil {
		a.guard.Add(fp)
	}

	a.metrics.Submission(listing.Category, "accepted")
	a.logger.Info("listing submitted",
		zap.String("listing_id", listing.ID),
		zap.String("owner_id", listing.OwnerID),
		zap.String("category", string(listing.Category)),
	)
	a.emitter.emit(ctx, model.EventSubmitted, listing, "", model.StatePending)
	return listing, nil
}

// Resubmit returns an owner's hidden or expired listing to the pending
// queue. It spends the same quota as a fresh submission.
func (a *AdmissionController) Resubmit(ctx context.Context, ownerID, id string) (*model.Listing, error) {
	listing, err := a.repo.GetByID(ctx, id)
	if err != nil {
		return nil, translateRepoErr(err)
	}
	if listing.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	if listing.State != model.StateHidden && listing.State != model.StateExpired {
		return nil, fmt.Errorf("%w: listing %s is %s", ErrNotEligible, id, listing.State)
	}

	decision, err := a.allow(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	from := listing.State
	updated, err := a.repo.Transition(ctx, id, from, model.StatePending, a.clock())
	if err != nil {
		a.release(ctx, ownerID, decision)
		return nil, translateRepoErr(err)
	}

	a.logger.Info("listing resubmitted",
		zap.String("listing_id", id),
		zap.String("owner_id", ownerID),
		zap.String("from", string(from)),
	)
	a.emitter.emit(ctx, model.EventResubmitted, updated, from, model.StatePending)
	return updated, nil
}

func (a *AdmissionController) checkDuplicate(ctx context.Context, fp []byte, input SubmitInput) error {
	if a.guard != nil && !a.guard.MaybeSeen(fp) {
		return nil
	}
	dup, err := a.repo.HasActiveDuplicate(ctx, input.OwnerID, input.Category, input.Title, input.Body)
	if err != nil {
		return fmt.Errorf("check duplicate: %w", err)
	}
	if dup {
		return newValidationError("body", "an identical listing is already pending or public")
	}
	return nil
}

func (a *AdmissionController) allow(ctx context.Context, ownerID string) (ratelimit.Decision, error) {
	decision, err := a.limiter.Allow(ctx, a.rule, ownerID)
	if err != nil {
		return decision, fmt.Errorf("check submit quota: %w", err)
	}
	if !decision.Allowed {
		a.metrics.RateLimited(a.rule.Scope)
		a.logger.Debug("submission rate limited",
			zap.String("owner_id", ownerID),
			zap.Duration("retry_after", decision.RetryAfter),
		)
		return decision, &RateLimitedError{Scope: a.rule.Scope, RetryAfter: decision.RetryAfter}
	}
	return decision, nil
}

// release refunds a quota hit whose write did not land.
func (a *AdmissionController) release(ctx context.Context, ownerID string, decision ratelimit.Decision) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := a.limiter.Release(ctx, a.rule, ownerID, decision.WindowStart); err != nil {
		a.logger.Warn("failed to release submit quota",
			zap.String("owner_id", ownerID),
			zap.Error(err),
		)
	}
}
