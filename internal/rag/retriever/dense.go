package retriever

import (
	"context"

	"github.com/megaagent/memcore/internal/memory/semantic"
	"github.com/megaagent/memcore/pkg/models"
)

// SemanticDense adapts the semantic store to the dense retrieval leg with
// preset scoping.
type SemanticDense struct {
	store   *semantic.Store
	userID  string
	filters *models.SearchFilters
}

// NewSemanticDense wraps a semantic store. userID and filters may be empty.
func NewSemanticDense(store *semantic.Store, userID string, filters *models.SearchFilters) *SemanticDense {
	return &SemanticDense{store: store, userID: userID, filters: filters}
}

func (d *SemanticDense) Search(ctx context.Context, query string, topK int) ([]models.RetrievalResult, error) {
	hits, err := d.store.Search(ctx, query, d.userID, topK, d.filters)
	if err != nil {
		return nil, err
	}
	out := make([]models.RetrievalResult, len(hits))
	for i, hit := range hits {
		out[i] = models.RetrievalResult{
			DocID:    hit.Record.ID,
			Score:    hit.Score,
			Content:  hit.Record.Text,
			Metadata: hit.Record.Metadata,
		}
	}
	return out, nil
}
