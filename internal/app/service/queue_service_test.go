package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sifan077/SlotBoard/internal/app/model"
	"github.com/sifan077/SlotBoard/internal/app/repository"
)

// fillPriority publishes three listings and queues one more.
func fillPriority(t *testing.T, f *fixture, svc QueueService) {
	t.Helper()
	for _, id := range []string{"a", "b", "c", "d"} {
		f.pending(id, "priority", time.Duration(len(id))*time.Second)
	}
	f.pending("e", "priority", 10*time.Second)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := svc.Publish(context.Background(), id); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}
}

func TestQueueService_HideRefillsWithFreshWindow(t *testing.T) {
	f := newFixture(t)
	svc := NewQueueService(f.deps)
	fillPriority(t, f, svc)

	f.clock.Advance(time.Hour)
	change, err := svc.SetState(context.Background(), "b", model.StateHidden)
	if err != nil {
		t.Fatalf("SetState error: %v", err)
	}
	if change.Listing.State != model.StateHidden || change.Listing.ExpiresAt != nil {
		t.Fatalf("expected hidden listing without window, got %+v", change.Listing)
	}
	if change.PromotionError != nil {
		t.Fatalf("unexpected promotion error: %v", change.PromotionError)
	}
	if len(change.Promoted) != 1 || change.Promoted[0].ID != "d" {
		t.Fatalf("expected d promoted, got %v", change.Promoted)
	}
	want := f.clock.Now().Add(24 * time.Hour)
	if !change.Promoted[0].ExpiresAt.Equal(want) {
		t.Fatalf("expected fresh window ending %s, got %s", want, change.Promoted[0].ExpiresAt)
	}
	if got := f.state(t, "e"); got != model.StatePending {
		t.Fatalf("expected e still pending, got %s", got)
	}
}

func TestQueueService_SetStateTransitions(t *testing.T) {
	f := newFixture(t)
	svc := NewQueueService(f.deps)
	fillPriority(t, f, svc)

	if _, err := svc.SetState(context.Background(), "a", model.StatePublic); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected public target to be refused, got %v", err)
	}
	if _, err := svc.SetState(context.Background(), "a", "archived"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected unknown state to be invalid, got %v", err)
	}
	if _, err := svc.SetState(context.Background(), "missing", model.StateHidden); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Same state is a no-op and promotes nothing.
	change, err := svc.SetState(context.Background(), "e", model.StatePending)
	if err != nil || len(change.Promoted) != 0 {
		t.Fatalf("expected idempotent no-op, got %+v, %v", change, err)
	}

	if _, err := svc.SetState(context.Background(), "e", model.StateHidden); err != nil {
		t.Fatalf("hide pending: %v", err)
	}
	if _, err := svc.SetState(context.Background(), "e", model.StateExpired); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected hidden -> expired refused, got %v", err)
	}

	// public -> pending returns the listing to the queue and frees its slot.
	change, err = svc.SetState(context.Background(), "a", model.StatePending)
	if err != nil {
		t.Fatalf("unpublish: %v", err)
	}
	if len(change.Promoted) != 1 {
		t.Fatalf("expected the vacated slot to be refilled, got %v", change.Promoted)
	}
	if kinds := f.events.kinds(); !containsKind(kinds, model.EventUnpublished) {
		t.Fatalf("expected unpublished event in %v", kinds)
	}
}

func containsKind(kinds []model.EventKind, want model.EventKind) bool {
	for _, k := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

func TestQueueService_DeletePublicRefills(t *testing.T) {
	f := newFixture(t)
	svc := NewQueueService(f.deps)
	fillPriority(t, f, svc)

	change, err := svc.Delete(context.Background(), "c")
	if err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if len(change.Promoted) != 1 || change.Promoted[0].ID != "d" {
		t.Fatalf("expected d promoted, got %v", change.Promoted)
	}
	if _, err := svc.Get(context.Background(), "c"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted listing to be gone, got %v", err)
	}

	change, err = svc.Delete(context.Background(), "e")
	if err != nil || len(change.Promoted) != 0 {
		t.Fatalf("deleting a pending listing must not promote, got %+v, %v", change, err)
	}
}

type failingPendingRepo struct {
	*memoryRepository
}

func (r failingPendingRepo) ListPending(context.Context, model.Category, int) ([]model.Listing, error) {
	return nil, errors.New("store unavailable")
}

func TestQueueService_PromotionFailureDoesNotFailHide(t *testing.T) {
	f := newFixture(t)
	seed := NewQueueService(f.deps)
	fillPriority(t, f, seed)

	f.deps.Listings = failingPendingRepo{f.repo}
	svc := NewQueueService(f.deps)

	change, err := svc.SetState(context.Background(), "a", model.StateHidden)
	if err != nil {
		t.Fatalf("expected hide to succeed, got %v", err)
	}
	if change.PromotionError == nil {
		t.Fatal("expected the promotion error to be reported")
	}
	if got := f.state(t, "a"); got != model.StateHidden {
		t.Fatalf("expected a hidden, got %s", got)
	}
	if f.metrics.promotionFailed != 1 {
		t.Fatalf("expected promotion failure metric, got %d", f.metrics.promotionFailed)
	}
}

func TestQueueService_ListPublicFiltersAndPaginates(t *testing.T) {
	f := newFixture(t)
	svc := NewQueueService(f.deps)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("m%d", i)
		f.pending(id, "male", time.Duration(i)*time.Second)
		if _, err := svc.Publish(context.Background(), id); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
		f.clock.Advance(time.Minute)
	}

	// m0 lapses but nothing has swept it yet.
	f.clock.Advance(48*time.Hour - 5*time.Minute)

	first, err := svc.ListPublic(context.Background(), "male", nil, 2)
	if err != nil {
		t.Fatalf("ListPublic error: %v", err)
	}
	if len(first.Listings) != 2 || first.Listings[0].ID != "m4" || first.Listings[1].ID != "m3" {
		t.Fatalf("unexpected first page: %v", first.Listings)
	}
	if first.Next == nil {
		t.Fatal("expected a next cursor")
	}

	second, err := svc.ListPublic(context.Background(), "male", first.Next, 2)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Listings) != 2 || second.Listings[0].ID != "m2" || second.Listings[1].ID != "m1" {
		t.Fatalf("unexpected second page: %v", second.Listings)
	}
	if second.Next != nil {
		t.Fatalf("expected last page, got cursor %+v", second.Next)
	}

	if _, err := svc.ListPublic(context.Background(), "robots", nil, 2); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected unknown category to be invalid, got %v", err)
	}
}

func TestQueueService_ListPublicRequestsSweep(t *testing.T) {
	f := newFixture(t)
	requested := make(chan model.Category, 1)
	f.deps.SweepSink = func(_ context.Context, category model.Category) error {
		requested <- category
		return nil
	}
	svc := NewQueueService(f.deps)

	if _, err := svc.ListPublic(context.Background(), "female", nil, 0); err != nil {
		t.Fatalf("ListPublic error: %v", err)
	}
	select {
	case got := <-requested:
		if got != "female" {
			t.Fatalf("expected sweep of female, got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a background sweep request")
	}
}

func TestQueueService_Stats(t *testing.T) {
	f := newFixture(t)
	svc := NewQueueService(f.deps)
	fillPriority(t, f, svc)

	stats, err := svc.Stats(context.Background(), "priority")
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats.PendingCount != 2 || stats.PublicCount != 3 || stats.SlotLimit != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.VisibilityWindow != 24*time.Hour {
		t.Fatalf("unexpected window: %s", stats.VisibilityWindow)
	}

	// Lapsed listings stop counting even before a sweep, and Stats itself
	// changes nothing.
	f.clock.Advance(24 * time.Hour)
	stats, _ = svc.Stats(context.Background(), "priority")
	if stats.PublicCount != 0 {
		t.Fatalf("expected lapsed listings excluded, got %d", stats.PublicCount)
	}
	if got := f.state(t, "a"); got != model.StatePublic {
		t.Fatalf("expected Stats to leave state alone, got %s", got)
	}
}

func TestQueueService_SweepAllCategories(t *testing.T) {
	f := newFixture(t)
	svc := NewQueueService(f.deps)
	fillPriority(t, f, svc)
	f.pending("f1", "female", 0)

	f.clock.Advance(24 * time.Hour)
	result, err := svc.Sweep(context.Background(), "")
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if result.Expired != 3 {
		t.Fatalf("expected 3 expired, got %d", result.Expired)
	}
	// d and e refill priority, f1 takes a female slot.
	if result.Promoted != 3 {
		t.Fatalf("expected 3 promoted, got %d", result.Promoted)
	}

	result, err = svc.Sweep(context.Background(), "")
	if err != nil || result.Expired != 0 || result.Promoted != 0 {
		t.Fatalf("expected idle second sweep, got %+v, %v", result, err)
	}
}

func TestQueueService_Purge(t *testing.T) {
	f := newFixture(t)
	svc := NewQueueService(f.deps)
	f.repo.put(model.Listing{ID: "x1", Category: "male", State: model.StateExpired})
	f.repo.put(model.Listing{ID: "x2", Category: "male", State: model.StateExpired})
	f.pending("p1", "male", 0)

	if _, err := svc.Purge(context.Background(), "male", model.StatePending); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected pending purge refused, got %v", err)
	}
	n, err := svc.Purge(context.Background(), "male", model.StateExpired)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 purged, got %d, %v", n, err)
	}
	if _, err := svc.Get(context.Background(), "p1"); err != nil {
		t.Fatalf("expected pending listing kept, got %v", err)
	}
}

var _ repository.ListingRepository = failingPendingRepo{}

func TestQueueService_UnknownCategory(t *testing.T) {
	f := newFixture(t)
	svc := NewQueueService(f.deps)

	calls := map[string]func() error{
		"stats": func() error {
			_, err := svc.Stats(context.Background(), "nope")
			return err
		},
		"list": func() error {
			_, err := svc.ListPublic(context.Background(), "nope", nil, 0)
			return err
		},
		"promote": func() error {
			_, err := svc.Promote(context.Background(), "nope")
			return err
		},
		"sweep": func() error {
			_, err := svc.Sweep(context.Background(), "nope")
			return err
		},
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			if !errors.Is(err, ErrValidation) || !errors.Is(err, ErrUnknownCategory) {
				t.Fatalf("expected unknown category validation error, got %v", err)
			}
		})
	}
}

func TestQueueService_ReconcileRefillsExpiredSlots(t *testing.T) {
	f := newFixture(t)
	svc := NewQueueService(f.deps)
	fillPriority(t, f, svc)

	f.clock.Advance(25 * time.Hour)
	n, err := svc.Reconcile(context.Background(), "priority")
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 expired, got %d", n)
	}
	for _, id := range []string{"d", "e"} {
		if got := f.state(t, id); got != model.StatePublic {
			t.Fatalf("expected %s promoted into a vacated slot, got %s", id, got)
		}
	}

	stats, err := svc.Stats(context.Background(), "priority")
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats.PublicCount != 2 || stats.PendingCount != 0 {
		t.Fatalf("expected 2 public and 0 pending, got %+v", stats)
	}
}

func TestQueueService_ReconcileAllRefillsEachCategory(t *testing.T) {
	f := newFixture(t)
	svc := NewQueueService(f.deps)
	fillPriority(t, f, svc)
	f.pending("m1", "male", 0)
	if _, err := svc.Publish(context.Background(), "m1"); err != nil {
		t.Fatalf("publish m1: %v", err)
	}
	f.pending("m2", "male", time.Second)

	f.clock.Advance(49 * time.Hour)
	n, err := svc.Reconcile(context.Background(), "")
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 expired, got %d", n)
	}
	for _, id := range []string{"d", "e", "m2"} {
		if got := f.state(t, id); got != model.StatePublic {
			t.Fatalf("expected %s public, got %s", id, got)
		}
	}
}

func TestQueueService_SetStateRefillsAfterEagerExpiry(t *testing.T) {
	f := newFixture(t)
	svc := NewQueueService(f.deps)
	fillPriority(t, f, svc)

	f.clock.Advance(25 * time.Hour)
	change, err := svc.SetState(context.Background(), "e", model.StateHidden)
	if err != nil {
		t.Fatalf("SetState error: %v", err)
	}
	if change.Listing.State != model.StateHidden {
		t.Fatalf("expected e hidden, got %s", change.Listing.State)
	}
	if len(change.Promoted) != 1 || change.Promoted[0].ID != "d" {
		t.Fatalf("expected only d promoted, got %v", change.Promoted)
	}
	if got := f.state(t, "d"); got != model.StatePublic {
		t.Fatalf("expected d public, got %s", got)
	}
	for _, ev := range f.events.published() {
		if ev.ListingID == "e" {
			t.Fatal("e must not be published on its way to hidden")
		}
	}
}

func TestQueueService_UnpublishDoesNotRepublishSameListing(t *testing.T) {
	f := newFixture(t)
	svc := NewQueueService(f.deps)
	fillPriority(t, f, svc)

	f.clock.Advance(20 * time.Hour)
	change, err := svc.SetState(context.Background(), "a", model.StatePending)
	if err != nil {
		t.Fatalf("unpublish: %v", err)
	}
	if len(change.Promoted) != 1 || change.Promoted[0].ID != "d" {
		t.Fatalf("expected d to take the vacated slot, got %v", change.Promoted)
	}
	if change.Listing.State != model.StatePending || change.Listing.ExpiresAt != nil {
		t.Fatalf("expected a pending without a window, got %+v", change.Listing)
	}
	if got := f.state(t, "a"); got != model.StatePending {
		t.Fatalf("expected stored a pending, got %s", got)
	}
}

func TestQueueService_UnpublishLastPendingLeavesSlotOpen(t *testing.T) {
	f := newFixture(t)
	svc := NewQueueService(f.deps)
	f.pending("solo", "priority", 0)
	if _, err := svc.Publish(context.Background(), "solo"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	change, err := svc.SetState(context.Background(), "solo", model.StatePending)
	if err != nil {
		t.Fatalf("unpublish: %v", err)
	}
	if len(change.Promoted) != 0 || change.PromotionError != nil {
		t.Fatalf("expected no refill, got %v, %v", change.Promoted, change.PromotionError)
	}
	if got := f.state(t, "solo"); got != model.StatePending {
		t.Fatalf("expected solo pending, got %s", got)
	}
}

func TestPromoter_WithoutListing(t *testing.T) {
	in := []model.Listing{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	got := withoutListing(in, "b", 2)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("unexpected candidates %v", got)
	}
	got = withoutListing([]model.Listing{{ID: "a"}, {ID: "b"}}, "", 1)
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("expected cap at limit, got %v", got)
	}
}

func TestQueueService_WaitDrainsInProcessSweeps(t *testing.T) {
	f := newFixture(t)
	f.deps.SweepSink = nil
	svc := NewQueueService(f.deps)
	fillPriority(t, f, svc)

	f.clock.Advance(25 * time.Hour)
	page, err := svc.ListPublic(context.Background(), "priority", nil, 0)
	if err != nil {
		t.Fatalf("ListPublic error: %v", err)
	}
	if len(page.Listings) != 0 {
		t.Fatalf("expected expired listings filtered from the page, got %d", len(page.Listings))
	}

	svc.Wait()
	if got := f.state(t, "d"); got != model.StatePublic {
		t.Fatalf("expected the sweep to have refilled d before Wait returned, got %s", got)
	}
}
