// Package retriever orchestrates parallel sparse and dense retrieval fused
// by reciprocal rank.
package retriever

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/megaagent/memcore/internal/observability"
	"github.com/megaagent/memcore/internal/rag/fusion"
	"github.com/megaagent/memcore/internal/rag/sparse"
	"github.com/megaagent/memcore/pkg/models"
)

// DefaultOverRetrieval is the factor applied to topK on each leg before
// fusion.
const DefaultOverRetrieval = 2

// DefaultDeadline bounds one retrieval end to end.
const DefaultDeadline = 10 * time.Second

// DenseSearcher is the dense (vector) leg of hybrid retrieval.
type DenseSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]models.RetrievalResult, error)
}

// Hybrid fans a query out to a BM25 index and a dense searcher, fuses the
// rankings with weighted RRF, and truncates to topK. Both legs run in
// parallel; if either fails or the deadline passes, both are cancelled.
type Hybrid struct {
	sparse       *sparse.Index
	dense        DenseSearcher
	sparseWeight float64
	denseWeight  float64
	overFactor   int
	logger       *observability.Logger
	metrics      *observability.Metrics
}

// HybridOption customizes a Hybrid retriever.
type HybridOption func(*Hybrid)

// WithWeights sets the sparse and dense weights. They are normalized to sum
// to 1 at query time.
func WithWeights(sparseWeight, denseWeight float64) HybridOption {
	return func(h *Hybrid) {
		h.sparseWeight = sparseWeight
		h.denseWeight = denseWeight
	}
}

// WithOverRetrieval overrides the per-leg over-retrieval factor.
func WithOverRetrieval(factor int) HybridOption {
	return func(h *Hybrid) {
		if factor > 0 {
			h.overFactor = factor
		}
	}
}

// WithMetrics attaches retrieval metrics.
func WithMetrics(m *observability.Metrics) HybridOption {
	return func(h *Hybrid) { h.metrics = m }
}

// NewHybrid creates a hybrid retriever with equal weights.
func NewHybrid(sparseIndex *sparse.Index, dense DenseSearcher, logger *observability.Logger, opts ...HybridOption) *Hybrid {
	h := &Hybrid{
		sparse:       sparseIndex,
		dense:        dense,
		sparseWeight: 1,
		denseWeight:  1,
		overFactor:   DefaultOverRetrieval,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Search retrieves topK fused results.
func (h *Hybrid) Search(ctx context.Context, query string, topK int) ([]models.RetrievalResult, error) {
	if topK <= 0 {
		topK = 8
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultDeadline)
		defer cancel()
	}
	ctx, span := observability.StartSpan(ctx, "retriever.hybrid",
		attribute.Int("topk", topK))
	var retErr error
	defer func() { observability.EndSpan(span, retErr) }()
	start := time.Now()

	fetch := h.overFactor * topK
	var sparseHits []sparse.Result
	var denseHits []models.RetrievalResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// BM25 scoring is CPU-bound; honor cancellation before starting.
		if err := gctx.Err(); err != nil {
			return err
		}
		sparseHits = h.sparse.Search(query, fetch)
		return nil
	})
	g.Go(func() error {
		var err error
		denseHits, err = h.dense.Search(gctx, query, fetch)
		return err
	})
	if retErr = g.Wait(); retErr != nil {
		return nil, retErr
	}

	sparseRanked := make([]fusion.Ranked, len(sparseHits))
	content := make(map[string]string, len(sparseHits)+len(denseHits))
	for i, hit := range sparseHits {
		sparseRanked[i] = fusion.Ranked{ID: hit.ID, Score: hit.Score, Metadata: hit.Metadata}
		content[hit.ID] = hit.Text
	}
	denseRanked := make([]fusion.Ranked, len(denseHits))
	for i, hit := range denseHits {
		denseRanked[i] = fusion.Ranked{ID: hit.DocID, Score: hit.Score, Metadata: hit.Metadata}
		if _, ok := content[hit.DocID]; !ok {
			content[hit.DocID] = hit.Content
		}
	}

	weights := fusion.NormalizeWeights([]float64{h.sparseWeight, h.denseWeight}, 2)
	fused, err := fusion.FuseWithMetadata([][]fusion.Ranked{sparseRanked, denseRanked}, weights, fusion.DefaultK)
	if err != nil {
		retErr = err
		return nil, err
	}

	out := make([]models.RetrievalResult, 0, topK)
	for _, r := range fused {
		if len(out) == topK {
			break
		}
		out = append(out, models.RetrievalResult{
			DocID:    r.ID,
			Score:    r.Score,
			Content:  content[r.ID],
			Metadata: r.Metadata,
		})
	}

	if h.metrics != nil {
		h.metrics.RetrievalDuration.WithLabelValues("hybrid").Observe(time.Since(start).Seconds())
		h.metrics.RetrievalResults.WithLabelValues("hybrid").Observe(float64(len(out)))
	}
	return out, nil
}
