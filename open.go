package memcore

import (
	"context"

	"github.com/megaagent/memcore/internal/config"
	"github.com/megaagent/memcore/internal/embeddings"
	"github.com/megaagent/memcore/internal/memory/consolidate"
	"github.com/megaagent/memcore/internal/memory/episodic"
	"github.com/megaagent/memcore/internal/memory/rmt"
	"github.com/megaagent/memcore/internal/memory/semantic"
	"github.com/megaagent/memcore/internal/observability"
	"github.com/megaagent/memcore/internal/postgres"
	"github.com/megaagent/memcore/internal/rag/ingest"
)

// openConfig collects the overrides Open accepts.
type openConfig struct {
	embedder    embeddings.Provider
	working     rmt.Store
	metrics     *observability.Metrics
	consolidate consolidate.Config
}

// OpenOption customizes Open.
type OpenOption func(*openConfig)

// WithEmbedder overrides the embedding provider built from configuration.
func WithEmbedder(p embeddings.Provider) OpenOption {
	return func(o *openConfig) { o.embedder = p }
}

// WithWorkingStore substitutes the working-memory backend, e.g. Redis
// instead of Postgres.
func WithWorkingStore(s rmt.Store) OpenOption {
	return func(o *openConfig) { o.working = s }
}

// WithMetrics attaches metrics to every component Open builds.
func WithMetrics(m *observability.Metrics) OpenOption {
	return func(o *openConfig) { o.metrics = m }
}

// WithConsolidationConfig overrides the consolidation tuning.
func WithConsolidationConfig(cfg consolidate.Config) OpenOption {
	return func(o *openConfig) { o.consolidate = cfg }
}

// Open wires the full memory core from configuration: connection pool,
// migrations, vector index, embedding provider, the three stores,
// consolidation, ingestion, and the background maintenance jobs. The
// returned facade owns the pool; Close releases everything.
func Open(ctx context.Context, cfg *config.Config, logger *observability.Logger, opts ...OpenOption) (*MemoryStore, error) {
	oc := &openConfig{consolidate: consolidate.DefaultConfig()}
	for _, opt := range opts {
		opt(oc)
	}

	pool, err := postgres.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := pool.EnsureVectorIndex(ctx, cfg.EmbeddingDimension); err != nil {
		pool.Close()
		return nil, err
	}

	embedder := oc.embedder
	if embedder == nil {
		if cfg.EmbeddingsURL != "" {
			embedder = embeddings.NewHTTPClient(
				cfg.EmbeddingsURL, cfg.EmbeddingsAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimension,
				logger, embeddings.WithMetrics(oc.metrics))
		} else {
			embedder = embeddings.NewOpenAIProvider(
				cfg.EmbeddingsAPIKey, "", cfg.EmbeddingModel, cfg.EmbeddingDimension)
		}
	}

	semanticStore := semantic.New(pool, embedder, cfg.Namespace, logger,
		semantic.WithMetrics(oc.metrics))
	episodicStore := episodic.New(pool, logger,
		episodic.WithMetrics(oc.metrics))
	working := oc.working
	if working == nil {
		working = rmt.NewPostgresStore(pool, logger)
	}
	engine := consolidate.New(semanticStore, oc.consolidate, logger,
		consolidate.WithMetrics(oc.metrics))
	ingestor := ingest.NewService(semanticStore, pool, logger,
		ingest.WithMetrics(oc.metrics))

	store := New(semanticStore, episodicStore, working, engine, logger,
		WithIngestService(ingestor))
	store.closers = append(store.closers, pool.Close)

	if err := store.StartMaintenance(ctx, cfg, oc.metrics); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
