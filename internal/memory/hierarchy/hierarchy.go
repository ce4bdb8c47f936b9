// Package hierarchy composes the semantic, episodic, and working-memory
// stores into one context-loading primitive for agent orchestrators.
package hierarchy

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/megaagent/memcore/internal/memerr"
	"github.com/megaagent/memcore/internal/memory/rmt"
	"github.com/megaagent/memcore/internal/observability"
	"github.com/megaagent/memcore/pkg/models"
)

// Defaults for LoadContext when the request leaves them zero.
const (
	DefaultTopK  = 8
	DefaultSince = 6 * time.Hour
)

// SemanticStore is the slice of the semantic store the hierarchy needs.
type SemanticStore interface {
	Search(ctx context.Context, query, userID string, topK int, filters *models.SearchFilters) ([]models.SearchResult, error)
	Insert(ctx context.Context, records []*models.MemoryRecord) (int, error)
	ListByThread(ctx context.Context, threadID string) ([]*models.MemoryRecord, error)
}

// EpisodicStore is the slice of the episodic store the hierarchy needs.
type EpisodicStore interface {
	Query(ctx context.Context, q models.EpisodicQuery) ([]*models.AuditEvent, error)
	GetThreadEvents(ctx context.Context, threadID string, limit int) ([]*models.AuditEvent, error)
}

// LoadContextRequest describes one context load. Zero TopK and Since fall
// back to the defaults above.
type LoadContextRequest struct {
	ThreadID string
	// Query, when set, triggers semantic retrieval scoped to UserID.
	Query  string
	UserID string
	TopK   int
	Since  time.Duration
}

// Hierarchy is the single entry point composing the three stores. It owns
// no state of its own.
type Hierarchy struct {
	semantic  SemanticStore
	episodic  EpisodicStore
	working   rmt.Store
	reflector Reflector
	logger    *observability.Logger
	now       func() time.Time
}

// Option customizes a Hierarchy.
type Option func(*Hierarchy)

// WithReflector replaces the default heuristic reflector.
func WithReflector(r Reflector) Option {
	return func(h *Hierarchy) { h.reflector = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Hierarchy) { h.now = now }
}

// New composes the three stores.
func New(semantic SemanticStore, episodic EpisodicStore, working rmt.Store, logger *observability.Logger, opts ...Option) *Hierarchy {
	h := &Hierarchy{
		semantic:  semantic,
		episodic:  episodic,
		working:   working,
		reflector: HeuristicReflector{},
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// LoadContext assembles the full context view for one thread: semantic
// retrieval when a query is present, the recent episodic window, a record
// reflected from the newest event, and the current working-memory slots.
// Retrieval, the episodic query, and the buffer fetch run in parallel.
func (h *Hierarchy) LoadContext(ctx context.Context, req LoadContextRequest) (*models.ContextBundle, error) {
	if req.ThreadID == "" {
		return nil, memerr.New(memerr.KindValidation, "empty thread_id")
	}
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	if req.Since <= 0 {
		req.Since = DefaultSince
	}
	now := h.now()

	bundle := &models.ContextBundle{RMTSlots: map[string]string{}}
	var events []*models.AuditEvent

	g, gctx := errgroup.WithContext(ctx)
	if req.Query != "" {
		g.Go(func() error {
			hits, err := h.semantic.Search(gctx, req.Query, req.UserID, req.TopK, nil)
			if err != nil {
				return err
			}
			bundle.Retrieved = make([]*models.SearchResult, len(hits))
			for i := range hits {
				bundle.Retrieved[i] = &hits[i]
			}
			return nil
		})
	}
	g.Go(func() error {
		var err error
		events, err = h.episodic.Query(gctx, models.EpisodicQuery{
			ThreadID: req.ThreadID,
			UserID:   req.UserID,
			Since:    now.Add(-req.Since),
			Until:    now,
		})
		return err
	})
	g.Go(func() error {
		buffer, ok, err := h.working.GetBuffer(gctx, req.ThreadID)
		if err != nil {
			return err
		}
		if ok {
			bundle.RMTSlots = buffer.Slots
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bundle.EpisodicEvents = events
	if len(events) > 0 {
		bundle.Reflected = h.reflect(ctx, events[len(events)-1])
	}
	return bundle, nil
}

// reflect upserts records derived from the newest event. A failed upsert
// degrades to a warning; the caller still gets the reflected view.
func (h *Hierarchy) reflect(ctx context.Context, latest *models.AuditEvent) []*models.MemoryRecord {
	records := h.reflector.Reflect(latest)
	if len(records) == 0 {
		return nil
	}
	if _, err := h.semantic.Insert(ctx, records); err != nil {
		h.logger.Warn(ctx, "reflection upsert failed",
			"event_id", latest.EventID, "error", err)
	}
	return records
}

// SnapshotThread gathers everything the stores hold for one thread.
func (h *Hierarchy) SnapshotThread(ctx context.Context, threadID string) (*models.ThreadSnapshot, error) {
	if threadID == "" {
		return nil, memerr.New(memerr.KindValidation, "empty thread_id")
	}

	snapshot := &models.ThreadSnapshot{ThreadID: threadID}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snapshot.Events, err = h.episodic.GetThreadEvents(gctx, threadID, 0)
		return err
	})
	g.Go(func() error {
		buffer, ok, err := h.working.GetBuffer(gctx, threadID)
		if err != nil {
			return err
		}
		if ok {
			snapshot.Buffer = buffer
		}
		return nil
	})
	g.Go(func() error {
		var err error
		snapshot.Records, err = h.semantic.ListByThread(gctx, threadID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snapshot, nil
}
