package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically reconciles and refills every category so vacated
// slots are reused even when nobody reads the board.
type Sweeper struct {
	logger   *zap.Logger
	queue    QueueService
	interval time.Duration
	timeout  time.Duration
	stopChan chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper ticking every interval.
func NewSweeper(logger *zap.Logger, queue QueueService, interval time.Duration) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		logger:   logger.Named("sweeper"),
		queue:    queue,
		interval: interval,
		timeout:  interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the periodic sweep.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop stops the periodic sweep and waits for an in-flight pass.
func (s *Sweeper) Stop() {
	close(s.stopChan)
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stopChan:
			s.logger.Info("sweeper stopped")
			return
		}
	}
}

func (s *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	result, err := s.queue.Sweep(ctx, "")
	if err != nil {
		s.logger.Error("periodic sweep failed", zap.Error(err))
		return
	}

	if result.Expired > 0 || result.Promoted > 0 {
		s.logger.Info("periodic sweep",
			zap.Int("expired", result.Expired),
			zap.Int("promoted", result.Promoted),
		)
	}
}
