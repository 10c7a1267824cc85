package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/SlotBoard/internal/app/model"
	"go.uber.org/zap"
)

type emitter struct {
	events EventPublisher
	logger *zap.Logger
	clock  func() time.Time
}

func (e emitter) emit(ctx context.Context, kind model.EventKind, l *model.Listing, from, to model.State) {
	ev := model.ListingEvent{
		ID:        uuid.New().String(),
		Kind:      kind,
		ListingID: l.ID,
		OwnerID:   l.OwnerID,
		Category:  l.Category,
		From:      from,
		To:        to,
		ExpiresAt: l.ExpiresAt,
		Timestamp: e.clock(),
	}
	if err := e.events.PublishEvent(ctx, ev); err != nil {
		e.logger.Warn("failed to publish listing event",
			zap.String("kind", string(kind)),
			zap.String("listing_id", l.ID),
			zap.Error(err),
		)
	}
}
