package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sifan077/SlotBoard/internal/app/model"
)

func TestPublisher_PublishSetsWindow(t *testing.T) {
	f := newFixture(t)
	f.pending("a", "priority", 0)

	l, err := NewPublisher(f.deps).Publish(context.Background(), "a")
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if l.State != model.StatePublic {
		t.Fatalf("expected public, got %s", l.State)
	}
	if l.PublishedAt == nil || !l.PublishedAt.Equal(f.clock.Now()) {
		t.Fatalf("expected publishedAt = now, got %v", l.PublishedAt)
	}
	if l.ExpiresAt == nil || !l.ExpiresAt.Equal(f.clock.Now().Add(24*time.Hour)) {
		t.Fatalf("expected expiresAt = now+24h, got %v", l.ExpiresAt)
	}
	if kinds := f.events.kinds(); len(kinds) != 1 || kinds[0] != model.EventPublished {
		t.Fatalf("expected one published event, got %v", kinds)
	}
}

func TestPublisher_SlotFullLeavesListingPending(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		f.pending(fmt.Sprintf("p%d", i), "priority", time.Duration(i)*time.Second)
	}
	pub := NewPublisher(f.deps)

	for i := 0; i < 3; i++ {
		if _, err := pub.Publish(context.Background(), fmt.Sprintf("p%d", i)); err != nil {
			t.Fatalf("publish p%d: %v", i, err)
		}
	}

	_, err := pub.Publish(context.Background(), "p3")
	if !errors.Is(err, ErrSlotFull) {
		t.Fatalf("expected ErrSlotFull, got %v", err)
	}
	if got := f.state(t, "p3"); got != model.StatePending {
		t.Fatalf("expected p3 to stay pending, got %s", got)
	}
	if f.metrics.slotFull != 1 {
		t.Fatalf("expected one slot-full metric, got %d", f.metrics.slotFull)
	}
}

func TestPublisher_NotEligible(t *testing.T) {
	f := newFixture(t)
	f.pending("a", "male", 0)
	pub := NewPublisher(f.deps)

	if _, err := pub.Publish(context.Background(), "a"); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if _, err := pub.Publish(context.Background(), "a"); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
}

func TestPublisher_NotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := NewPublisher(f.deps).Publish(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPublisher_ExpiredSlotIsReusable(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		f.pending(fmt.Sprintf("p%d", i), "priority", time.Duration(i)*time.Second)
	}
	pub := NewPublisher(f.deps)
	for i := 0; i < 3; i++ {
		if _, err := pub.Publish(context.Background(), fmt.Sprintf("p%d", i)); err != nil {
			t.Fatalf("publish p%d: %v", i, err)
		}
	}

	// Not yet reconciled, but past the window: the slot counts as free.
	f.clock.Advance(24 * time.Hour)
	if _, err := pub.Publish(context.Background(), "p3"); err != nil {
		t.Fatalf("expected publish into lapsed slot, got %v", err)
	}
}

func TestPublisher_ConcurrentPublishRespectsCapacity(t *testing.T) {
	f := newFixture(t)
	const n = 25
	for i := 0; i < n; i++ {
		f.pending(fmt.Sprintf("c%02d", i), "priority", time.Duration(i)*time.Millisecond)
	}
	pub := NewPublisher(f.deps)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		published int
		full      int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := pub.Publish(context.Background(), id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				published++
			case errors.Is(err, ErrSlotFull):
				full++
			default:
				t.Errorf("unexpected error for %s: %v", id, err)
			}
		}(fmt.Sprintf("c%02d", i))
	}
	wg.Wait()

	if published != 3 {
		t.Fatalf("expected exactly 3 published, got %d", published)
	}
	if full != n-3 {
		t.Fatalf("expected %d slot-full rejections, got %d", n-3, full)
	}
	live, _ := f.repo.CountLive(context.Background(), "priority", f.clock.Now())
	if live != 3 {
		t.Fatalf("expected 3 live listings, got %d", live)
	}
}
