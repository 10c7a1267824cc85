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

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// QueueService defines the operations of the publication queue.
type QueueService interface {
	Submit(ctx context.Context, input SubmitInput) (*model.Listing, error)
	Resubmit(ctx context.Context, ownerID, id string) (*model.Listing, error)
	Get(ctx context.Context, id string) (*model.Listing, error)
	Publish(ctx context.Context, id string) (*model.Listing, error)
	SetState(ctx context.Context, id string, target model.State) (*StateChange, error)
	Delete(ctx context.Context, id string) (*StateChange, error)
	Purge(ctx context.Context, category model.Category, state model.State) (int64, error)
	ListPublic(ctx context.Context, category model.Category, after *repository.PageCursor, limit int) (*PublicPage, error)
	Stats(ctx context.Context, category model.Category) (*QueueStats, error)
	Reconcile(ctx context.Context, category model.Category) (int, error)
	Promote(ctx context.Context, category model.Category) ([]model.Listing, error)
	Sweep(ctx context.Context, category model.Category) (SweepResult, error)

	// Wait blocks until in-process read-path sweeps have finished.
	Wait()
}

// StateChange reports an operator transition and the refill it triggered.
// PromotionError is set when the refill failed; the transition itself
// still committed.
type StateChange struct {
	Listing        *model.Listing
	Promoted       []model.Listing
	PromotionError error
}

// PublicPage is one newest-first page of live listings.
type PublicPage struct {
	Listings []model.Listing
	Next     *repository.PageCursor
}

// QueueStats is a side-effect free snapshot of one category.
type QueueStats struct {
	Category         model.Category
	PendingCount     int64
	PublicCount      int64
	SlotLimit        int
	VisibilityWindow time.Duration
}

// SweepResult counts what a sweep changed.
type SweepResult struct {
	Expired  int
	Promoted int
}

type queueService struct {
	repo       repository.ListingRepository
	policy     *policy.Policy
	admission  *AdmissionController
	publisher  *Publisher
	reconciler *Reconciler
	promoter   *Promoter
	dispatcher *AsyncSweeper
	clock      func() time.Time
	logger     *zap.Logger
	metrics    Metrics
	emitter    emitter

	promoteTimeout time.Duration
}

// NewQueueService wires the admission, publish, reconcile and promote
// components over one listing repository.
func NewQueueService(deps Deps) QueueService {
	deps = deps.withDefaults()
	logger := deps.Logger.Named("queue")

	publisher := NewPublisher(deps)
	reconciler := NewReconciler(deps)
	s := &queueService{
		repo:           deps.Listings,
		policy:         deps.Policy,
		admission:      NewAdmissionController(deps),
		publisher:      publisher,
		reconciler:     reconciler,
		promoter:       NewPromoter(deps, publisher, reconciler),
		clock:          deps.Clock,
		logger:         logger,
		metrics:        deps.Metrics,
		emitter:        emitter{events: deps.Events, logger: logger, clock: deps.Clock},
		promoteTimeout: deps.PromoteTimeout,
	}

	sink := deps.SweepSink
	if sink == nil {
		sink = func(ctx context.Context, category model.Category) error {
			_, err := s.Sweep(ctx, category)
			return err
		}
	}
	s.dispatcher = NewAsyncSweeper(sink, deps.ReadSweepRate, deps.ReadSweepTimeout, deps.Logger)
	return s
}

func (s *queueService) Submit(ctx context.Context, input SubmitInput) (*model.Listing, error) {
	return s.admission.Submit(ctx, input)
}

func (s *queueService) Resubmit(ctx context.Context, ownerID, id string) (*model.Listing, error) {
	return s.admission.Resubmit(ctx, ownerID, id)
}

func (s *queueService) Get(ctx context.Context, id string) (*model.Listing, error) {
	listing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", translateRepoErr(err))
	}
	return listing, nil
}

func (s *queueService) Publish(ctx context.Context, id string) (*model.Listing, error) {
	return s.publisher.Publish(ctx, id)
}

// SetState applies an operator transition. Expiring due listings first and
// leaving public both trigger a synchronous refill whose failure is only
// reported in the StateChange.
func (s *queueService) SetState(ctx context.Context, id string, target model.State) (*StateChange, error) {
	if !target.Valid() {
		return nil, newValidationError("state", fmt.Sprintf("unknown state %q", target))
	}
	if target == model.StatePublic {
		return nil, fmt.Errorf("%w: use publish to make a listing public", ErrNotEligible)
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, translateRepoErr(err)
	}

	// Bring expiry up to date first so the transition and the refill see
	// the real vacancy. The listing being moved never fills a slot here.
	change := &StateChange{}
	expired, err := s.reconciler.expire(ctx, current.Category)
	if err != nil {
		s.logger.Warn("eager reconcile failed",
			zap.String("category", string(current.Category)),
			zap.Error(err),
		)
	} else {
		change.Promoted, change.PromotionError = s.refillVacated(ctx, expired, id)
		if current, err = s.repo.GetByID(ctx, id); err != nil {
			return nil, translateRepoErr(err)
		}
	}

	if current.State == target {
		change.Listing = current
		return change, nil
	}
	if !operatorTransitionAllowed(current.State, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNotEligible, current.State, target)
	}

	from := current.State
	updated, err := s.repo.Transition(ctx, id, from, target, s.clock())
	if err != nil {
		return nil, translateRepoErr(err)
	}

	s.logger.Info("listing state changed",
		zap.String("listing_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
	)
	s.emitter.emit(ctx, eventForTarget(target), updated, from, target)

	change.Listing = updated
	if from == model.StatePublic {
		promoted, perr := s.refill(ctx, updated.Category, id)
		change.Promoted = append(change.Promoted, promoted...)
		change.PromotionError = errors.Join(change.PromotionError, perr)
		if latest, err := s.repo.GetByID(ctx, id); err == nil {
			change.Listing = latest
		}
	}
	return change, nil
}

// Delete removes a listing; deleting a public one refills its category.
func (s *queueService) Delete(ctx context.Context, id string) (*StateChange, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return nil, translateRepoErr(err)
	}

	s.logger.Info("listing deleted",
		zap.String("listing_id", id),
		zap.String("state", string(deleted.State)),
	)
	s.emitter.emit(ctx, model.EventDeleted, deleted, deleted.State, "")

	change := &StateChange{Listing: deleted}
	if deleted.State == model.StatePublic {
		change.Promoted, change.PromotionError = s.refill(ctx, deleted.Category, "")
	}
	return change, nil
}

// Purge deletes every expired or hidden listing of a category.
func (s *queueService) Purge(ctx context.Context, category model.Category, state model.State) (int64, error) {
	if !s.policy.Valid(category) {
		return 0, unknownCategory(category)
	}
	if state != model.StateExpired && state != model.StateHidden {
		return 0, fmt.Errorf("%w: only expired or hidden listings can be purged", ErrNotEligible)
	}

	n, err := s.repo.Purge(ctx, category, state)
	if err != nil {
		return 0, fmt.Errorf("purge %s/%s: %w", category, state, err)
	}
	s.logger.Info("purged listings",
		zap.String("category", string(category)),
		zap.String("state", string(state)),
		zap.Int64("count", n),
	)
	return n, nil
}

// ListPublic returns live listings newest first. It asks for a background
// sweep of the category but filters by expiry itself, so the page is
// correct whether or not the sweep has run.
func (s *queueService) ListPublic(ctx context.Context, category model.Category, after *repository.PageCursor, limit int) (*PublicPage, error) {
	if !s.policy.Valid(category) {
		return nil, unknownCategory(category)
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	s.dispatcher.Dispatch(category)

	rows, err := s.repo.ListPublic(ctx, category, s.clock(), after, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list public: %w", err)
	}

	page := &PublicPage{Listings: rows}
	if len(rows) > limit {
		page.Listings = rows[:limit]
		last := page.Listings[limit-1]
		if last.PublishedAt != nil {
			page.Next = &repository.PageCursor{PublishedAt: *last.PublishedAt, ID: last.ID}
		}
	}
	return page, nil
}

func (s *queueService) Stats(ctx context.Context, category model.Category) (*QueueStats, error) {
	rule, err := s.policy.Lookup(category)
	if err != nil {
		return nil, unknownCategory(category)
	}

	pending, err := s.repo.CountByState(ctx, category, model.StatePending)
	if err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}
	live, err := s.repo.CountLive(ctx, category, s.clock())
	if err != nil {
		return nil, fmt.Errorf("count live: %w", err)
	}
	s.metrics.LiveCount(category, live)

	return &QueueStats{
		Category:         category,
		PendingCount:     pending,
		PublicCount:      live,
		SlotLimit:        rule.Capacity,
		VisibilityWindow: rule.VisibilityWindow,
	}, nil
}

// Reconcile expires due listings and refills every category it vacated.
// Refill failures are logged; the expirations stand.
func (s *queueService) Reconcile(ctx context.Context, category model.Category) (int, error) {
	if category != "" && !s.policy.Valid(category) {
		return 0, unknownCategory(category)
	}
	expired, err := s.reconciler.expire(ctx, category)
	if err != nil {
		return 0, err
	}
	_, _ = s.refillVacated(ctx, expired, "")
	return len(expired), nil
}

func (s *queueService) Promote(ctx context.Context, category model.Category) ([]model.Listing, error) {
	return s.promoter.Promote(ctx, category)
}

// Sweep expires due listings and refills category, or every category
// when it is empty.
func (s *queueService) Sweep(ctx context.Context, category model.Category) (SweepResult, error) {
	var result SweepResult

	categories := []model.Category{category}
	if category == "" {
		categories = s.policy.Categories()
	} else if !s.policy.Valid(category) {
		return result, unknownCategory(category)
	}

	expired, err := s.reconciler.Reconcile(ctx, category)
	if err != nil {
		return result, err
	}
	result.Expired = expired

	var errs []error
	for _, cat := range categories {
		promoted, err := s.promoter.Promote(ctx, cat)
		result.Promoted += len(promoted)
		if err != nil && !errors.Is(err, ErrNoneEligible) {
			s.metrics.PromotionFailed(cat)
			errs = append(errs, fmt.Errorf("promote %s: %w", cat, err))
		}
	}
	return result, errors.Join(errs...)
}

// Wait blocks until read-path sweeps running in this process have finished.
func (s *queueService) Wait() {
	s.dispatcher.Wait()
}

// refillVacated refills each distinct category of the expired listings.
func (s *queueService) refillVacated(ctx context.Context, expired []model.Listing, exclude string) ([]model.Listing, error) {
	var (
		promoted []model.Listing
		errs     []error
		seen     = make(map[model.Category]struct{})
	)
	for _, l := range expired {
		if _, ok := seen[l.Category]; ok {
			continue
		}
		seen[l.Category] = struct{}{}
		p, err := s.refill(ctx, l.Category, exclude)
		promoted = append(promoted, p...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return promoted, errors.Join(errs...)
}

// refill promotes into a vacated category under its own deadline. The
// caller's transition has already committed, so failures are reported, not
// returned.
func (s *queueService) refill(ctx context.Context, category model.Category, exclude string) ([]model.Listing, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.promoteTimeout)
	defer cancel()

	promoted, err := s.promoter.PromoteExcluding(ctx, category, exclude)
	if err == nil || errors.Is(err, ErrNoneEligible) {
		return promoted, nil
	}

	s.metrics.PromotionFailed(category)
	s.logger.Error("promotion after vacancy failed",
		zap.String("category", string(category)),
		zap.Error(err),
	)
	return promoted, err
}

func operatorTransitionAllowed(from, to model.State) bool {
	switch to {
	case model.StateHidden:
		return true
	case model.StatePending, model.StateExpired:
		return from == model.StatePublic
	}
	return false
}

func eventForTarget(target model.State) model.EventKind {
	switch target {
	case model.StateHidden:
		return model.EventHidden
	case model.StateExpired:
		return model.EventExpired
	default:
		return model.EventUnpublished
	}
}
