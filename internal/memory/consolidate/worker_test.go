package consolidate

import (
	"context"
	"errors"
	"testing"

	"github.com/megaagent/memcore/internal/observability"
	"github.com/megaagent/memcore/pkg/models"
)

type fakeRunner struct {
	userIDs     []string
	hadDeadline bool
	err         error
}

func (f *fakeRunner) Run(ctx context.Context, userID string) (*models.ConsolidationResult, error) {
	f.userIDs = append(f.userIDs, userID)
	_, f.hadDeadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	return &models.ConsolidationResult{}, nil
}

func TestWorkerTickRunsWholeNamespace(t *testing.T) {
	runner := &fakeRunner{}
	worker := NewWorker(runner, observability.Nop(), 0)

	worker.Tick(context.Background())

	if len(runner.userIDs) != 1 || runner.userIDs[0] != "" {
		t.Errorf("runs = %v, want one whole-namespace run", runner.userIDs)
	}
	if !runner.hadDeadline {
		t.Error("tick ran without a deadline")
	}
}

func TestWorkerTickSwallowsErrors(t *testing.T) {
	runner := &fakeRunner{err: errors.New("store down")}
	worker := NewWorker(runner, observability.Nop(), 0)

	worker.Tick(context.Background())
	worker.Tick(context.Background())

	if len(runner.userIDs) != 2 {
		t.Errorf("runs = %d, want 2; a failed tick must not stop the cadence", len(runner.userIDs))
	}
}
