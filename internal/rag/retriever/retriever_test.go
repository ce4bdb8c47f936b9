package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/megaagent/memcore/internal/observability"
	"github.com/megaagent/memcore/internal/rag/sparse"
	"github.com/megaagent/memcore/pkg/models"
)

// fakeDense returns canned results and records the topK it was asked for.
type fakeDense struct {
	results []models.RetrievalResult
	err     error
	gotTopK int
}

func (f *fakeDense) Search(_ context.Context, _ string, topK int) ([]models.RetrievalResult, error) {
	f.gotTopK = topK
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > topK {
		return f.results[:topK], nil
	}
	return f.results, nil
}

func buildIndex() *sparse.Index {
	idx := sparse.NewIndex()
	idx.Build([]sparse.Document{
		{ID: "contract", Text: "Contract law governs agreements"},
		{ID: "immigration", Text: "Immigration law deals with visas"},
	})
	return idx
}

func TestHybridFusesBothLegs(t *testing.T) {
	dense := &fakeDense{results: []models.RetrievalResult{
		{DocID: "immigration", Score: 0.9, Content: "Immigration law deals with visas"},
		{DocID: "dense-only", Score: 0.5, Content: "a dense-only hit"},
	}}
	h := NewHybrid(buildIndex(), dense, observability.Nop())

	out, err := h.Search(context.Background(), "visas law", 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(out) == 0 || len(out) > 3 {
		t.Fatalf("got %d results", len(out))
	}
	if out[0].DocID != "immigration" {
		t.Errorf("top result = %s, want immigration (present in both legs)", out[0].DocID)
	}
	seen := map[string]bool{}
	for _, r := range out {
		if seen[r.DocID] {
			t.Errorf("duplicate %s", r.DocID)
		}
		seen[r.DocID] = true
		if r.Content == "" {
			t.Errorf("result %s lost its content", r.DocID)
		}
	}
}

func TestHybridOverRetrieves(t *testing.T) {
	dense := &fakeDense{}
	h := NewHybrid(buildIndex(), dense, observability.Nop())

	if _, err := h.Search(context.Background(), "law", 5); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if dense.gotTopK != 10 {
		t.Errorf("dense leg asked for %d, want 2x5", dense.gotTopK)
	}
}

func TestHybridDenseFailureCancelsQuery(t *testing.T) {
	dense := &fakeDense{err: errors.New("provider down")}
	h := NewHybrid(buildIndex(), dense, observability.Nop())

	if _, err := h.Search(context.Background(), "law", 3); err == nil {
		t.Error("expected error when dense leg fails")
	}
}

func TestHybridEmptySparseLeg(t *testing.T) {
	dense := &fakeDense{results: []models.RetrievalResult{
		{DocID: "d1", Score: 0.8, Content: "only dense"},
	}}
	h := NewHybrid(buildIndex(), dense, observability.Nop())

	out, err := h.Search(context.Background(), "zzz nonmatching qqq", 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(out) != 1 || out[0].DocID != "d1" {
		t.Errorf("results = %v", out)
	}
}

func TestHybridWeightNormalization(t *testing.T) {
	dense := &fakeDense{results: []models.RetrievalResult{
		{DocID: "dense-doc", Score: 0.9},
	}}
	// Un-normalized weights still work; sparse gets 3/4 share.
	h := NewHybrid(buildIndex(), dense, observability.Nop(), WithWeights(3, 1))

	out, err := h.Search(context.Background(), "visas", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d results", len(out))
	}
	// Both docs are rank 1 in their leg; the sparse doc's higher weight wins.
	if out[0].DocID != "immigration" {
		t.Errorf("top = %s, want sparse-weighted immigration", out[0].DocID)
	}
}

func TestHybridDeterministic(t *testing.T) {
	dense := &fakeDense{results: []models.RetrievalResult{
		{DocID: "immigration", Score: 0.9},
		{DocID: "contract", Score: 0.8},
	}}
	h := NewHybrid(buildIndex(), dense, observability.Nop())

	first, err := h.Search(context.Background(), "law agreements visas", 4)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for i := 0; i < 20; i++ {
		again, _ := h.Search(context.Background(), "law agreements visas", 4)
		if len(again) != len(first) {
			t.Fatal("result count changed between runs")
		}
		for j := range first {
			if again[j].DocID != first[j].DocID || again[j].Score != first[j].Score {
				t.Fatalf("run %d differs at %d", i, j)
			}
		}
	}
}
