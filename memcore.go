// Package memcore is the memory and retrieval core of a multi-agent
// assistant: semantic memory over pgvector, an append-only episodic
// timeline, per-thread working-memory buffers, and hybrid retrieval with
// consolidation. MemoryStore is the facade orchestrators talk to.
package memcore

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/megaagent/memcore/internal/config"
	"github.com/megaagent/memcore/internal/memerr"
	"github.com/megaagent/memcore/internal/memory/consolidate"
	"github.com/megaagent/memcore/internal/memory/hierarchy"
	"github.com/megaagent/memcore/internal/memory/rmt"
	"github.com/megaagent/memcore/internal/observability"
	"github.com/megaagent/memcore/internal/rag/ingest"
	"github.com/megaagent/memcore/pkg/models"
)

var errNoIngestor = memerr.New(memerr.KindConfig, "facade built without an ingestion service")

// SemanticStore is the semantic surface the facade composes.
type SemanticStore interface {
	hierarchy.SemanticStore
	HealthCheck(ctx context.Context) error
}

// EpisodicStore is the episodic surface the facade composes.
type EpisodicStore interface {
	hierarchy.EpisodicStore
	Append(ctx context.Context, event *models.AuditEvent) error
	HealthCheck(ctx context.Context) error
}

// Consolidator compacts semantic memory for one user or the whole
// namespace.
type Consolidator interface {
	Run(ctx context.Context, userID string) (*models.ConsolidationResult, error)
}

// MemoryStore is the single facade over the three stores, the hierarchy,
// and consolidation. It owns the background maintenance jobs.
type MemoryStore struct {
	semantic     SemanticStore
	episodic     EpisodicStore
	working      rmt.Store
	hierarchy    *hierarchy.Hierarchy
	consolidator Consolidator
	ingestor     *ingest.Service
	logger       *observability.Logger

	scheduler *cron.Cron
	sweeper   *rmt.Sweeper
	closers   []func()
}

// StoreOption customizes a MemoryStore.
type StoreOption func(*MemoryStore)

// WithIngestService attaches a document ingestion pipeline.
func WithIngestService(s *ingest.Service) StoreOption {
	return func(m *MemoryStore) { m.ingestor = s }
}

// WithHierarchyOptions forwards options to the composed hierarchy.
func WithHierarchyOptions(opts ...hierarchy.Option) StoreOption {
	return func(m *MemoryStore) {
		m.hierarchy = hierarchy.New(m.semantic, m.episodic, m.working, m.logger, opts...)
	}
}

// New composes a facade from already-constructed stores. Open wires the
// full stack from configuration; New exists for callers that bring their
// own (a Redis working store, a fake embedder, an LLM reflector).
func New(semantic SemanticStore, episodic EpisodicStore, working rmt.Store, consolidator Consolidator, logger *observability.Logger, opts ...StoreOption) *MemoryStore {
	m := &MemoryStore{
		semantic:     semantic,
		episodic:     episodic,
		working:      working,
		consolidator: consolidator,
		logger:       logger,
	}
	m.hierarchy = hierarchy.New(semantic, episodic, working, logger)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartMaintenance launches the background jobs: consolidation on the
// configured cadence and the working-memory TTL sweep. Either interval at
// zero disables that job. Call Close to stop them.
func (m *MemoryStore) StartMaintenance(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) error {
	if cfg.ConsolidationInterval > 0 && m.consolidator != nil {
		worker := consolidate.NewWorker(m.consolidator, m.logger, 0)
		m.scheduler = cron.New()
		_, err := m.scheduler.AddFunc("@every "+cfg.ConsolidationInterval.String(), func() {
			worker.Tick(ctx)
		})
		if err != nil {
			return err
		}
		m.scheduler.Start()
		m.closers = append(m.closers, func() { <-m.scheduler.Stop().Done() })
	}

	if cfg.RMTSweepInterval > 0 {
		m.sweeper = rmt.NewSweeper(m.working, cfg.RMTSweepInterval, m.logger, metrics)
		m.sweeper.Start(ctx)
		m.closers = append(m.closers, m.sweeper.Stop)
	}
	return nil
}

// Write persists memory records, embedding any that arrive without a
// vector. Returns how many records were written.
func (m *MemoryStore) Write(ctx context.Context, records []*models.MemoryRecord) (int, error) {
	return m.semantic.Insert(ctx, records)
}

// LogAudit appends one event to the episodic timeline.
func (m *MemoryStore) LogAudit(ctx context.Context, event *models.AuditEvent) error {
	return m.episodic.Append(ctx, event)
}

// Retrieve runs a semantic similarity search scoped to userID.
func (m *MemoryStore) Retrieve(ctx context.Context, query, userID string, topK int, filters *models.SearchFilters) ([]models.SearchResult, error) {
	return m.semantic.Search(ctx, query, userID, topK, filters)
}

// History queries the episodic timeline.
func (m *MemoryStore) History(ctx context.Context, q models.EpisodicQuery) ([]*models.AuditEvent, error) {
	return m.episodic.Query(ctx, q)
}

// SetRMT replaces a thread's working-memory slots. ttl <= 0 means no
// expiry.
func (m *MemoryStore) SetRMT(ctx context.Context, threadID string, slots map[string]string, ttl time.Duration) error {
	return m.working.SetBuffer(ctx, threadID, slots, ttl)
}

// GetRMT fetches a thread's working-memory buffer. The second return is
// false when the thread has none.
func (m *MemoryStore) GetRMT(ctx context.Context, threadID string) (*models.RMTBuffer, bool, error) {
	return m.working.GetBuffer(ctx, threadID)
}

// DeleteRMT drops a thread's working-memory buffer.
func (m *MemoryStore) DeleteRMT(ctx context.Context, threadID string) error {
	return m.working.DeleteBuffer(ctx, threadID)
}

// Consolidate compacts semantic memory for one user, or everything when
// userID is empty.
func (m *MemoryStore) Consolidate(ctx context.Context, userID string) (*models.ConsolidationResult, error) {
	return m.consolidator.Run(ctx, userID)
}

// LoadContext assembles the composed context view for one thread.
func (m *MemoryStore) LoadContext(ctx context.Context, req hierarchy.LoadContextRequest) (*models.ContextBundle, error) {
	return m.hierarchy.LoadContext(ctx, req)
}

// SnapshotThread gathers everything held for one thread.
func (m *MemoryStore) SnapshotThread(ctx context.Context, threadID string) (*models.ThreadSnapshot, error) {
	return m.hierarchy.SnapshotThread(ctx, threadID)
}

// Ingest runs the document pipeline. It errors when the facade was built
// without an ingestion service.
func (m *MemoryStore) Ingest(ctx context.Context, data []byte, filename string, opts ingest.Options) (*models.IngestionResult, error) {
	if m.ingestor == nil {
		return nil, errNoIngestor
	}
	return m.ingestor.Ingest(ctx, data, filename, opts)
}

// HealthCheck probes every store. It never returns an error; an
// unreachable store reports false.
func (m *MemoryStore) HealthCheck(ctx context.Context) models.Health {
	health := models.Health{}
	if err := m.semantic.HealthCheck(ctx); err == nil {
		health.Semantic = true
	} else {
		m.logger.Warn(ctx, "semantic store unhealthy", "error", err)
	}
	if err := m.episodic.HealthCheck(ctx); err == nil {
		health.Episodic = true
	} else {
		m.logger.Warn(ctx, "episodic store unhealthy", "error", err)
	}
	if err := m.working.HealthCheck(ctx); err == nil {
		health.Working = true
	} else {
		m.logger.Warn(ctx, "working store unhealthy", "error", err)
	}
	return health
}

// Close stops background maintenance and releases anything Open created,
// including the connection pool. Stores passed to New are left to their
// owner.
func (m *MemoryStore) Close() {
	for i := len(m.closers) - 1; i >= 0; i-- {
		m.closers[i]()
	}
	m.closers = nil
}
