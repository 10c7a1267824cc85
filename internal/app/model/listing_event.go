package model

import "time"

// EventKind names a lifecycle transition.
type EventKind string

const (
	EventSubmitted   EventKind = "submitted"
	EventResubmitted EventKind = "resubmitted"
	EventPublished   EventKind = "published"
	EventUnpublished EventKind = "unpublished"
	EventHidden      EventKind = "hidden"
	EventExpired     EventKind = "expired"
	EventDeleted     EventKind = "deleted"
)

// ListingEvent is emitted on every state transition.
type ListingEvent struct {
	ID        string     `json:"id"`
	Kind      EventKind  `json:"kind"`
	ListingID string     `json:"listing_id"`
	OwnerID   string     `json:"owner_id"`
	Category  Category   `json:"category"`
	From      State      `json:"from,omitempty"`
	To        State      `json:"to,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// SweepRequest asks a worker to reconcile and refill one category.
type SweepRequest struct {
	ID          string    `json:"id"`
	Category    Category  `json:"category"`
	RequestedAt time.Time `json:"requested_at"`
}

const (
	ListingStreamName     = "LISTINGS"
	ListingEventSubject   = "listings.events"
	ListingSweepSubject   = "listings.sweep"
	SweepConsumerName     = "listing-sweeper"
	ListingStreamMaxBytes = 1024 * 1024 * 100 // 100MB
	ListingStreamMaxAge   = 72 * time.Hour
)

// EventSubject returns the subject a given event kind is published on.
func EventSubject(kind EventKind) string {
	return ListingEventSubject + "." + string(kind)
}
