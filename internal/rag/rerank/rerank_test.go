package rerank

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/megaagent/memcore/internal/observability"
	"github.com/megaagent/memcore/pkg/models"
)

// fakeScorer scores by term overlap with the query and records batch sizes.
type fakeScorer struct {
	mu      sync.Mutex
	batches []int
	err     error
}

func (f *fakeScorer) Score(_ context.Context, query string, texts []string) ([]float64, error) {
	f.mu.Lock()
	f.batches = append(f.batches, len(texts))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	terms := strings.Fields(strings.ToLower(query))
	scores := make([]float64, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		for _, term := range terms {
			if strings.Contains(lower, term) {
				scores[i]++
			}
		}
	}
	return scores, nil
}

func newEncoder(scorer Scorer, opts ...CrossEncoderOption) *CrossEncoder {
	return NewCrossEncoder(func(context.Context) (Scorer, error) {
		return scorer, nil
	}, observability.Nop(), opts...)
}

func candidates(n int) []models.RetrievalResult {
	out := make([]models.RetrievalResult, n)
	for i := range out {
		out[i] = models.RetrievalResult{
			DocID:   string(rune('a'+i/26)) + string(rune('a'+i%26)),
			Content: "filler text",
		}
	}
	return out
}

func TestRerankOrdersByScore(t *testing.T) {
	enc := newEncoder(&fakeScorer{})
	in := []models.RetrievalResult{
		{DocID: "d1", Content: "nothing relevant here"},
		{DocID: "d2", Content: "nobel prize in chemistry"},
		{DocID: "d3", Content: "the prize committee"},
	}

	out, err := enc.Rerank(context.Background(), "nobel prize", in, 0)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d results", len(out))
	}
	if out[0].DocID != "d2" || out[1].DocID != "d3" || out[2].DocID != "d1" {
		t.Errorf("order = %s %s %s", out[0].DocID, out[1].DocID, out[2].DocID)
	}
	if out[0].Score <= out[1].Score || out[1].Score <= out[2].Score {
		t.Errorf("scores not descending: %v %v %v", out[0].Score, out[1].Score, out[2].Score)
	}
}

func TestRerankBatches(t *testing.T) {
	scorer := &fakeScorer{}
	enc := newEncoder(scorer)

	if _, err := enc.Rerank(context.Background(), "q", candidates(70), 0); err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	want := []int{32, 32, 6}
	if len(scorer.batches) != len(want) {
		t.Fatalf("batches = %v", scorer.batches)
	}
	for i, n := range want {
		if scorer.batches[i] != n {
			t.Errorf("batch %d = %d, want %d", i, scorer.batches[i], n)
		}
	}
}

func TestRerankTopKTruncates(t *testing.T) {
	enc := newEncoder(&fakeScorer{}, WithBatchSize(8))

	out, err := enc.Rerank(context.Background(), "q", candidates(20), 5)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(out) != 5 {
		t.Errorf("got %d results, want 5", len(out))
	}
}

func TestRerankEmptyInput(t *testing.T) {
	var loads atomic.Int32
	enc := NewCrossEncoder(func(context.Context) (Scorer, error) {
		loads.Add(1)
		return &fakeScorer{}, nil
	}, observability.Nop())

	out, err := enc.Rerank(context.Background(), "q", nil, 3)
	if err != nil || out != nil {
		t.Errorf("empty input: out=%v err=%v", out, err)
	}
	if loads.Load() != 0 {
		t.Error("empty input should not load the model")
	}
}

func TestRerankLoadsModelOnce(t *testing.T) {
	var loads atomic.Int32
	enc := NewCrossEncoder(func(context.Context) (Scorer, error) {
		loads.Add(1)
		return &fakeScorer{}, nil
	}, observability.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			enc.Rerank(context.Background(), "q", candidates(3), 0)
		}()
	}
	wg.Wait()
	if loads.Load() != 1 {
		t.Errorf("model loaded %d times", loads.Load())
	}
}

func TestRerankLoadFailureSticks(t *testing.T) {
	enc := NewCrossEncoder(func(context.Context) (Scorer, error) {
		return nil, errors.New("model download failed")
	}, observability.Nop())

	for i := 0; i < 2; i++ {
		if _, err := enc.Rerank(context.Background(), "q", candidates(2), 0); err == nil {
			t.Fatal("expected load error")
		}
	}
}

func TestRerankScorerError(t *testing.T) {
	enc := newEncoder(&fakeScorer{err: errors.New("scoring failed")})
	if _, err := enc.Rerank(context.Background(), "q", candidates(2), 0); err == nil {
		t.Error("expected scorer error")
	}
}

// fakeRetriever returns canned first-stage candidates.
type fakeRetriever struct {
	results []models.RetrievalResult
	gotTopK int
}

func (f *fakeRetriever) Search(_ context.Context, _ string, topK int) ([]models.RetrievalResult, error) {
	f.gotTopK = topK
	if len(f.results) > topK {
		return f.results[:topK], nil
	}
	return f.results, nil
}

func TestRerankingRetrieverTwoStage(t *testing.T) {
	first := &fakeRetriever{results: []models.RetrievalResult{
		{DocID: "chunk-1", Score: 0.9, Content: "snippet one"},
		{DocID: "chunk-2", Score: 0.8, Content: "snippet two"},
		{DocID: "chunk-3", Score: 0.7, Content: "snippet three"},
	}}
	fullText := map[string]string{
		"chunk-2": "the full text mentions the nobel prize explicitly",
	}
	r := NewRerankingRetriever(first, newEncoder(&fakeScorer{}), observability.Nop(),
		WithContentLookup(func(id string) (string, bool) {
			s, ok := fullText[id]
			return s, ok
		}),
		WithRerankTopK(50))

	out, err := r.Search(context.Background(), "nobel prize", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if first.gotTopK != 50 {
		t.Errorf("first stage asked for %d, want 50", first.gotTopK)
	}
	if len(out) != 2 {
		t.Fatalf("got %d results", len(out))
	}
	// Only chunk-2's full content matches the query terms.
	if out[0].DocID != "chunk-2" {
		t.Errorf("top = %s, want chunk-2 after content attachment", out[0].DocID)
	}
	if out[0].Score != 2 {
		t.Errorf("top score = %v, want 2 matched terms", out[0].Score)
	}
}

func TestRerankingRetrieverEmptyFirstStage(t *testing.T) {
	r := NewRerankingRetriever(&fakeRetriever{}, newEncoder(&fakeScorer{}), observability.Nop())
	out, err := r.Search(context.Background(), "anything", 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if out != nil {
		t.Errorf("out = %v, want nil", out)
	}
}
