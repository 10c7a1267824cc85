package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sifan077/SlotBoard/internal/app/model"
	"github.com/sifan077/SlotBoard/internal/app/policy"
	"github.com/sifan077/SlotBoard/internal/app/repository"
)

// memoryRepository is an in-memory ListingRepository. Every method holds
// the mutex for its whole body, which gives TryPublish the same
// check-and-set atomicity as the SQL implementation.
type memoryRepository struct {
	mu       sync.Mutex
	listings map[string]*model.Listing
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{listings: make(map[string]*model.Listing)}
}

func (r *memoryRepository) put(l model.Listing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := l
	r.listings[l.ID] = &cp
}

func (r *memoryRepository) Create(_ context.Context, listing *model.Listing) error {
	r.put(*listing)
	return nil
}

func (r *memoryRepository) GetByID(_ context.Context, id string) (*model.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return nil, repository.ErrListingNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *memoryRepository) countLiveLocked(category model.Category, now time.Time) int64 {
	var n int64
	for _, l := range r.listings {
		if l.Category == category && l.Live(now) {
			n++
		}
	}
	return n
}

func (r *memoryRepository) CountLive(_ context.Context, category model.Category, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLiveLocked(category, now), nil
}

func (r *memoryRepository) CountByState(_ context.Context, category model.Category, state model.State) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, l := range r.listings {
		if l.Category == category && l.State == state {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) ListPending(_ context.Context, category model.Category, limit int) ([]model.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Listing
	for _, l := range r.listings {
		if l.Category == category && l.State == model.StatePending {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) ListPublic(_ context.Context, category model.Category, now time.Time, after *repository.PageCursor, limit int) ([]model.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Listing
	for _, l := range r.listings {
		if l.Category != category || !l.Live(now) {
			continue
		}
		if after != nil {
			p := *l.PublishedAt
			if p.After(after.PublishedAt) || (p.Equal(after.PublishedAt) && l.ID >= after.ID) {
				continue
			}
		}
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := *out[i].PublishedAt, *out[j].PublishedAt
		if !pi.Equal(pj) {
			return pi.After(pj)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) HasActiveDuplicate(_ context.Context, owner string, category model.Category, title, body string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.listings {
		if l.OwnerID == owner && l.Category == category && l.Title == title && l.Body == body &&
			(l.State == model.StatePending || l.State == model.StatePublic) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepository) Transition(_ context.Context, id string, from, to model.State, now time.Time) (*model.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return nil, repository.ErrListingNotFound
	}
	if l.State != from {
		return nil, repository.ErrStateConflict
	}
	l.State = to
	l.PublishedAt = nil
	l.ExpiresAt = nil
	l.UpdatedAt = now
	cp := *l
	return &cp, nil
}

func (r *memoryRepository) TryPublish(_ context.Context, id string, capacity int, now time.Time, window time.Duration) (*model.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return nil, repository.ErrListingNotFound
	}
	if l.State != model.StatePending {
		return nil, repository.ErrStateConflict
	}
	if r.countLiveLocked(l.Category, now) >= int64(capacity) {
		return nil, repository.ErrCapacityReached
	}
	published := now
	expires := now.Add(window)
	l.State = model.StatePublic
	l.PublishedAt = &published
	l.ExpiresAt = &expires
	l.UpdatedAt = now
	cp := *l
	return &cp, nil
}

func (r *memoryRepository) ExpireDue(_ context.Context, category model.Category, now time.Time) ([]model.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Listing
	for _, l := range r.listings {
		if l.State != model.StatePublic || (category != "" && l.Category != category) {
			continue
		}
		if l.ExpiresAt == nil || l.ExpiresAt.After(now) {
			continue
		}
		l.State = model.StateExpired
		l.PublishedAt = nil
		l.ExpiresAt = nil
		l.UpdatedAt = now
		out = append(out, *l)
	}
	return out, nil
}

func (r *memoryRepository) Delete(_ context.Context, id string) (*model.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return nil, repository.ErrListingNotFound
	}
	delete(r.listings, id)
	return l, nil
}

func (r *memoryRepository) Purge(_ context.Context, category model.Category, state model.State) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, l := range r.listings {
		if l.Category == category && l.State == state {
			delete(r.listings, id)
			n++
		}
	}
	return n, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingMetrics struct {
	nopMetrics
	mu              sync.Mutex
	slotFull        int
	promotionFailed int
	rateLimited     int
	outcomes        map[string]int
}

func (m *recordingMetrics) SlotFull(model.Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slotFull++
}

func (m *recordingMetrics) PromotionFailed(model.Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promotionFailed++
}

func (m *recordingMetrics) RateLimited(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited++
}

func (m *recordingMetrics) Submission(_ model.Category, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string]int)
	}
	m.outcomes[outcome]++
}

type recordingEvents struct {
	mu     sync.Mutex
	events []model.ListingEvent
}

func (e *recordingEvents) PublishEvent(_ context.Context, ev model.ListingEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *recordingEvents) kinds() []model.EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.EventKind, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (e *recordingEvents) published() []model.ListingEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []model.ListingEvent
	for _, ev := range e.events {
		if ev.Kind == model.EventPublished {
			out = append(out, ev)
		}
	}
	return out
}

func testPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	p, err := policy.New(
		policy.Rule{Category: "female", Capacity: 10, VisibilityWindow: 48 * time.Hour},
		policy.Rule{Category: "male", Capacity: 10, VisibilityWindow: 48 * time.Hour},
		policy.Rule{Category: "priority", Capacity: 3, VisibilityWindow: 24 * time.Hour},
	)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	return p
}

type fixture struct {
	repo    *memoryRepository
	clock   *fakeClock
	metrics *recordingMetrics
	events  *recordingEvents
	deps    Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:    newMemoryRepository(),
		clock:   newFakeClock(),
		metrics: &recordingMetrics{},
		events:  &recordingEvents{},
	}
	f.deps = Deps{
		Listings: f.repo,
		Policy:   testPolicy(t),
		Metrics:  f.metrics,
		Events:   f.events,
		Clock:    f.clock.Now,
		// Read-path sweeps are exercised separately.
		SweepSink: func(context.Context, model.Category) error { return nil },
	}
	return f
}

// pending seeds a pending listing created offset after the fixture's start.
func (f *fixture) pending(id string, category model.Category, offset time.Duration) {
	f.repo.put(model.Listing{
		ID:        id,
		OwnerID:   "owner-" + id,
		Category:  category,
		State:     model.StatePending,
		Title:     "title " + id,
		Body:      "body " + id,
		CreatedAt: f.clock.Now().Add(offset),
	})
}

func (f *fixture) state(t *testing.T, id string) model.State {
	t.Helper()
	l, err := f.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return l.State
}
