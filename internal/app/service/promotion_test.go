package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sifan077/SlotBoard/internal/app/model"
)

func newTestPromoter(f *fixture) *Promoter {
	pub := NewPublisher(f.deps)
	return NewPromoter(f.deps, pub, NewReconciler(f.deps))
}

func TestPromoter_FillsInSubmissionOrder(t *testing.T) {
	f := newFixture(t)
	f.pending("c", "priority", 3*time.Second)
	f.pending("a", "priority", 1*time.Second)
	f.pending("d", "priority", 4*time.Second)
	f.pending("b", "priority", 2*time.Second)

	promoted, err := newTestPromoter(f).Promote(context.Background(), "priority")
	if err != nil {
		t.Fatalf("Promote error: %v", err)
	}
	if len(promoted) != 3 {
		t.Fatalf("expected 3 promoted, got %d", len(promoted))
	}
	for i, want := range []string{"a", "b", "c"} {
		if promoted[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, promoted[i].ID)
		}
	}
	if got := f.state(t, "d"); got != model.StatePending {
		t.Fatalf("expected d to wait, got %s", got)
	}
}

func TestPromoter_IDBreaksCreatedAtTies(t *testing.T) {
	f := newFixture(t)
	f.repo.put(model.Listing{ID: "full-1", Category: "priority", State: model.StatePending, CreatedAt: f.clock.Now().Add(-time.Hour)})
	f.repo.put(model.Listing{ID: "full-2", Category: "priority", State: model.StatePending, CreatedAt: f.clock.Now().Add(-time.Hour)})
	f.pending("y", "priority", 0)
	f.pending("x", "priority", 0)

	promoted, err := newTestPromoter(f).Promote(context.Background(), "priority")
	if err != nil {
		t.Fatalf("Promote error: %v", err)
	}
	if len(promoted) != 3 || promoted[2].ID != "x" {
		t.Fatalf("expected x to win the tie, got %v", promoted)
	}
	if got := f.state(t, "y"); got != model.StatePending {
		t.Fatalf("expected y to stay pending, got %s", got)
	}
}

func TestPromoter_ReconcilesBeforeCounting(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		f.pending(id, "priority", 0)
	}
	p := newTestPromoter(f)
	if _, err := p.Promote(context.Background(), "priority"); err != nil {
		t.Fatalf("first promote: %v", err)
	}

	f.pending("d", "priority", time.Minute)
	f.clock.Advance(25 * time.Hour)

	promoted, err := p.Promote(context.Background(), "priority")
	if err != nil {
		t.Fatalf("second promote: %v", err)
	}
	if len(promoted) != 1 || promoted[0].ID != "d" {
		t.Fatalf("expected d promoted into the vacated slot, got %v", promoted)
	}
	if got := f.state(t, "a"); got != model.StateExpired {
		t.Fatalf("expected a expired, got %s", got)
	}
}

func TestPromoter_NoneEligible(t *testing.T) {
	f := newFixture(t)
	if _, err := newTestPromoter(f).Promote(context.Background(), "male"); !errors.Is(err, ErrNoneEligible) {
		t.Fatalf("expected ErrNoneEligible on empty queue, got %v", err)
	}

	for _, id := range []string{"a", "b", "c", "d"} {
		f.pending(id, "priority", 0)
	}
	p := newTestPromoter(f)
	if _, err := p.Promote(context.Background(), "priority"); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if _, err := p.Promote(context.Background(), "priority"); !errors.Is(err, ErrNoneEligible) {
		t.Fatalf("expected ErrNoneEligible on full category, got %v", err)
	}
}

func TestPromoter_UnknownCategory(t *testing.T) {
	f := newFixture(t)
	if _, err := newTestPromoter(f).Promote(context.Background(), "unknown"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
