package rerank

import (
	"context"
	"time"

	"github.com/megaagent/memcore/internal/observability"
	"github.com/megaagent/memcore/pkg/models"
)

// DefaultRerankTopK is how many candidates the first-stage retriever
// produces for the reranker to score.
const DefaultRerankTopK = 100

// Retriever is the first-stage candidate source, usually the hybrid
// sparse+dense retriever.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]models.RetrievalResult, error)
}

// ContentLookup resolves a document ID to its full text. Candidates carry
// the text that was indexed, which may be a chunk or snippet; scoring the
// full document improves cross-encoder quality.
type ContentLookup func(docID string) (string, bool)

// RerankingRetriever runs two-stage retrieval: over-retrieve with the
// first-stage retriever, then rescore with a cross-encoder and truncate.
type RerankingRetriever struct {
	retriever  Retriever
	encoder    *CrossEncoder
	lookup     ContentLookup
	rerankTopK int
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// RetrieverOption customizes a RerankingRetriever.
type RetrieverOption func(*RerankingRetriever)

// WithRerankTopK sets how many first-stage candidates get scored.
func WithRerankTopK(n int) RetrieverOption {
	return func(r *RerankingRetriever) {
		if n > 0 {
			r.rerankTopK = n
		}
	}
}

// WithContentLookup attaches a doc ID to full-content resolver.
func WithContentLookup(lookup ContentLookup) RetrieverOption {
	return func(r *RerankingRetriever) { r.lookup = lookup }
}

// WithRetrieverMetrics attaches retrieval metrics.
func WithRetrieverMetrics(m *observability.Metrics) RetrieverOption {
	return func(r *RerankingRetriever) { r.metrics = m }
}

// NewRerankingRetriever wraps a first-stage retriever with cross-encoder
// reranking.
func NewRerankingRetriever(retriever Retriever, encoder *CrossEncoder, logger *observability.Logger, opts ...RetrieverOption) *RerankingRetriever {
	r := &RerankingRetriever{
		retriever:  retriever,
		encoder:    encoder,
		rerankTopK: DefaultRerankTopK,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search retrieves rerankTopK candidates, rescores them, and returns the
// top topK by reranker score.
func (r *RerankingRetriever) Search(ctx context.Context, query string, topK int) ([]models.RetrievalResult, error) {
	if topK <= 0 {
		topK = 8
	}
	start := time.Now()

	candidates, err := r.retriever.Search(ctx, query, r.rerankTopK)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if r.lookup != nil {
		for i := range candidates {
			if full, ok := r.lookup(candidates[i].DocID); ok && full != "" {
				candidates[i].Content = full
			}
		}
	}

	out, err := r.encoder.Rerank(ctx, query, candidates, topK)
	if err != nil {
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.RetrievalDuration.WithLabelValues("reranked").Observe(time.Since(start).Seconds())
		r.metrics.RetrievalResults.WithLabelValues("reranked").Observe(float64(len(out)))
	}
	return out, nil
}
