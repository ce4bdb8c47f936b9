package rmt

import (
	"context"
	"time"

	"github.com/megaagent/memcore/internal/observability"
)

// Sweeper periodically purges expired buffers from a Store.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper. interval <= 0 defaults to 10 minutes.
func NewSweeper(store Store, interval time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Call Stop to terminate it.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop terminates the loop and waits for the in-flight sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	swept, err := s.store.Sweep(sweepCtx)
	if err != nil {
		s.logger.Warn(ctx, "buffer sweep failed", "error", err)
		return
	}
	if swept > 0 {
		s.logger.Info(ctx, "swept expired buffers", "count", swept)
		if s.metrics != nil {
			s.metrics.RMTBuffersSwept.Add(float64(swept))
		}
	}
}
