// Package rerank re-orders retrieval candidates with a cross-encoder style
// scoring model behind a pluggable interface.
package rerank

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/megaagent/memcore/internal/observability"
	"github.com/megaagent/memcore/pkg/models"
)

// DefaultBatchSize is how many (query, text) pairs go to the scorer at once.
const DefaultBatchSize = 32

// Scorer scores (query, text) pairs. Implementations may be remote (HTTP)
// or in-process.
type Scorer interface {
	// Score returns one score per text, higher meaning more relevant.
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// ScorerLoader constructs a Scorer on first use. Model loading can be
// expensive, so it is deferred until the first Rerank call.
type ScorerLoader func(ctx context.Context) (Scorer, error)

// CrossEncoder reranks candidates with a lazily loaded scoring model. The
// first call blocks on model initialization; later calls reuse it without
// locking.
type CrossEncoder struct {
	loader    ScorerLoader
	batchSize int
	logger    *observability.Logger

	once    sync.Once
	scorer  Scorer
	loadErr error
}

// CrossEncoderOption customizes a CrossEncoder.
type CrossEncoderOption func(*CrossEncoder)

// WithBatchSize overrides the scoring batch size.
func WithBatchSize(n int) CrossEncoderOption {
	return func(c *CrossEncoder) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// NewCrossEncoder creates a reranker whose model loads on first use.
func NewCrossEncoder(loader ScorerLoader, logger *observability.Logger, opts ...CrossEncoderOption) *CrossEncoder {
	c := &CrossEncoder{
		loader:    loader,
		batchSize: DefaultBatchSize,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rerank scores every candidate in batches and returns them sorted by
// reranker score descending, truncated to topK when topK > 0. Ties break by
// DocID so the order is deterministic.
func (c *CrossEncoder) Rerank(ctx context.Context, query string, candidates []models.RetrievalResult, topK int) ([]models.RetrievalResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	c.once.Do(func() {
		start := time.Now()
		c.scorer, c.loadErr = c.loader(ctx)
		if c.loadErr == nil {
			c.logger.Info(ctx, "reranker model loaded", "took", time.Since(start))
		}
	})
	if c.loadErr != nil {
		return nil, c.loadErr
	}

	out := make([]models.RetrievalResult, len(candidates))
	copy(out, candidates)

	for start := 0; start < len(out); start += c.batchSize {
		end := min(start+c.batchSize, len(out))
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = out[i].Content
		}
		scores, err := c.scorer.Score(ctx, query, texts)
		if err != nil {
			return nil, err
		}
		for i := start; i < end; i++ {
			out[i].Score = scores[i-start]
		}
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		return out[a].DocID < out[b].DocID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}
