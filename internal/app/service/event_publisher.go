package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sifan077/SlotBoard/internal/app/model"
)

// ListingEventPublisher publishes lifecycle events to NATS JetStream.
type ListingEventPublisher struct {
	js nats.JetStreamContext
}

// NewListingEventPublisher creates a new lifecycle event publisher
func NewListingEventPublisher(js nats.JetStreamContext) *ListingEventPublisher {
	return &ListingEventPublisher{js: js}
}

// PublishEvent publishes an event without waiting for the stream ack.
func (p *ListingEventPublisher) PublishEvent(_ context.Context, event model.ListingEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = p.js.PublishAsync(model.EventSubject(event.Kind), data, nats.MsgId(event.ID))
	return err
}

// SweepRequestPublisher hands read-path sweep requests to the sweep
// consumer so only workers touch the store on behalf of readers.
type SweepRequestPublisher struct {
	js    nats.JetStreamContext
	clock func() time.Time
}

// NewSweepRequestPublisher creates a publisher for listings.sweep.
func NewSweepRequestPublisher(js nats.JetStreamContext) *SweepRequestPublisher {
	return &SweepRequestPublisher{js: js, clock: time.Now}
}

// RequestSweep matches SweepFunc.
func (p *SweepRequestPublisher) RequestSweep(ctx context.Context, category model.Category) error {
	req := model.SweepRequest{
		ID:          uuid.New().String(),
		Category:    category,
		RequestedAt: p.clock().UTC(),
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	if _, err := p.js.Publish(model.ListingSweepSubject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish sweep request: %w", err)
	}
	return nil
}
