package consolidate

import (
	"context"
	"time"

	"github.com/megaagent/memcore/internal/observability"
	"github.com/megaagent/memcore/pkg/models"
)

// Runner is the consolidation surface the worker drives.
type Runner interface {
	Run(ctx context.Context, userID string) (*models.ConsolidationResult, error)
}

// Worker adapts the engine to a periodic scheduler. Each tick consolidates
// the whole namespace under its own deadline; failures are logged, never
// propagated, so one bad run does not stop the cadence.
type Worker struct {
	runner  Runner
	logger  *observability.Logger
	timeout time.Duration
}

// NewWorker creates a scheduler tick runner. timeout <= 0 defaults to
// DefaultDeadline.
func NewWorker(runner Runner, logger *observability.Logger, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = DefaultDeadline
	}
	return &Worker{runner: runner, logger: logger, timeout: timeout}
}

// Tick runs one whole-namespace consolidation pass.
func (w *Worker) Tick(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if _, err := w.runner.Run(runCtx, ""); err != nil {
		w.logger.Warn(ctx, "background consolidation failed", "error", err)
	}
}
