package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/SlotBoard/internal/app/model"
	"go.uber.org/zap"
)

const (
	sweepFetchBatch   = 10
	sweepFetchMaxWait = 5 * time.Second
)

// SweepConsumer runs sweeps requested over NATS JetStream.
type SweepConsumer struct {
	js      nats.JetStreamContext
	logger  *zap.Logger
	queue   QueueService
	timeout time.Duration
	done    chan struct{}
}

// NewSweepConsumer creates a new sweep request consumer
func NewSweepConsumer(js nats.JetStreamContext, logger *zap.Logger, queue QueueService, timeout time.Duration) *SweepConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultReadSweepTimeout
	}
	return &SweepConsumer{
		js:      js,
		logger:  logger.Named("sweep_consumer"),
		queue:   queue,
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Start begins consuming sweep requests until ctx is cancelled.
func (c *SweepConsumer) Start(ctx context.Context) error {
	// Create consumer if not exists
	_, err := c.js.ConsumerInfo(model.ListingStreamName, model.SweepConsumerName)
	if err != nil {
		_, err = c.js.AddConsumer(model.ListingStreamName, &nats.ConsumerConfig{
			Durable:       model.SweepConsumerName,
			AckPolicy:     nats.AckExplicitPolicy,
			FilterSubject: model.ListingSweepSubject,
		})
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe(model.ListingSweepSubject, model.SweepConsumerName, nats.Bind(model.ListingStreamName, model.SweepConsumerName))
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go c.consume(ctx, sub)
	return nil
}

// Done is closed once the consume loop has exited.
func (c *SweepConsumer) Done() <-chan struct{} {
	return c.done
}

func (c *SweepConsumer) consume(ctx context.Context, sub *nats.Subscription) {
	defer close(c.done)
	defer sub.Unsubscribe()

	for {
		if ctx.Err() != nil {
			c.logger.Info("sweep consumer stopped")
			return
		}

		msgs, err := sub.Fetch(sweepFetchBatch, nats.MaxWait(sweepFetchMaxWait))
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				c.logger.Info("sweep consumer stopped", zap.Error(err))
				return
			}
			c.logger.Error("failed to fetch sweep requests", zap.Error(err))
			continue
		}

		// Requests for the same category within one batch collapse into a
		// single sweep.
		seen := make(map[model.Category]error, len(msgs))
		for _, msg := range msgs {
			var req model.SweepRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				c.logger.Error("failed to unmarshal sweep request", zap.Error(err))
				msg.Term()
				continue
			}

			sweepErr, done := seen[req.Category]
			if !done {
				sweepErr = c.sweep(ctx, req)
				seen[req.Category] = sweepErr
			}

			if sweepErr != nil {
				msg.Nak()
				continue
			}
			msg.Ack()
		}
	}
}

func (c *SweepConsumer) sweep(ctx context.Context, req model.SweepRequest) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.queue.Sweep(ctx, req.Category)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			// Unknown category; retrying cannot help.
			c.logger.Warn("dropping sweep request", zap.String("id", req.ID), zap.Error(err))
			return nil
		}
		c.logger.Error("failed to sweep category",
			zap.String("id", req.ID),
			zap.String("category", string(req.Category)),
			zap.Error(err))
		return err
	}

	c.logger.Debug("sweep request handled",
		zap.String("id", req.ID),
		zap.String("category", string(req.Category)),
		zap.Int("expired", result.Expired),
		zap.Int("promoted", result.Promoted),
		zap.Time("requested_at", req.RequestedAt),
	)
	return nil
}
