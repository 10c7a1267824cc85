package service

import (
	"context"
	"sync"
	"time"

	"github.com/sifan077/SlotBoard/internal/app/model"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// AsyncSweeper runs sweeps requested from read paths without blocking the
// reader. Requests are throttled per category and concurrent requests for
// the same category share one run.
type AsyncSweeper struct {
	run     SweepFunc
	logger  *zap.Logger
	timeout time.Duration
	rps     float64

	mu       sync.Mutex
	limiters map[model.Category]*rate.Limiter
	group    singleflight.Group
	wg       sync.WaitGroup
}

// NewAsyncSweeper returns a dispatcher invoking run at most rps times per
// second per category, each run bounded by timeout.
func NewAsyncSweeper(run SweepFunc, rps float64, timeout time.Duration, logger *zap.Logger) *AsyncSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncSweeper{
		run:      run,
		logger:   logger.Named("async_sweeper"),
		timeout:  timeout,
		rps:      rps,
		limiters: make(map[model.Category]*rate.Limiter),
	}
}

// Dispatch schedules a sweep of category and returns immediately. It
// reports whether a sweep was scheduled.
func (d *AsyncSweeper) Dispatch(category model.Category) bool {
	if !d.limiter(category).Allow() {
		return false
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_, err, _ := d.group.Do(string(category), func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			return nil, d.run(ctx, category)
		})
		if err != nil {
			d.logger.Warn("background sweep failed",
				zap.String("category", string(category)),
				zap.Error(err),
			)
		}
	}()
	return true
}

// Wait blocks until every dispatched sweep has finished.
func (d *AsyncSweeper) Wait() {
	d.wg.Wait()
}

func (d *AsyncSweeper) limiter(category model.Category) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[category]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.rps), 1)
		d.limiters[category] = l
	}
	return l
}
