package sparse

import (
	"fmt"
	"sync"
	"testing"
)

func legalCorpus() []Document {
	return []Document{
		{ID: "contract", Text: "Contract law governs agreements"},
		{ID: "immigration", Text: "Immigration law deals with visas"},
	}
}

func TestKeywordMatch(t *testing.T) {
	idx := NewIndex()
	idx.Build(legalCorpus())

	results := idx.Search("visa requirements", 2)
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].ID != "immigration" {
		t.Errorf("top result = %s, want immigration", results[0].ID)
	}
}

func TestZeroOverlapReturnsEmpty(t *testing.T) {
	idx := NewIndex()
	idx.Build(legalCorpus())

	results := idx.Search("quantum chromodynamics", 5)
	if len(results) != 0 {
		t.Errorf("zero-overlap query returned %v", results)
	}
}

func TestEmptyIndexAndEmptyQuery(t *testing.T) {
	idx := NewIndex()
	if got := idx.Search("anything", 5); got != nil {
		t.Errorf("empty index returned %v", got)
	}

	idx.Build(legalCorpus())
	if got := idx.Search("   ", 5); got != nil {
		t.Errorf("empty query returned %v", got)
	}
}

func TestTopKTruncation(t *testing.T) {
	docs := make([]Document, 10)
	for i := range docs {
		docs[i] = Document{ID: fmt.Sprintf("d%d", i), Text: "shared term plus filler"}
	}
	idx := NewIndex()
	idx.Build(docs)

	results := idx.Search("shared term", 3)
	if len(results) != 3 {
		t.Errorf("got %d results, want 3", len(results))
	}
	// Equal scores break ties by ID.
	if results[0].ID != "d0" || results[1].ID != "d1" {
		t.Errorf("tiebreak order = %v", results)
	}
}

func TestUpdateIndexAppends(t *testing.T) {
	idx := NewIndex()
	idx.Build(legalCorpus())

	idx.UpdateIndex([]Document{{ID: "tax", Text: "Tax law covers income and deductions"}})

	stats := idx.Stats()
	if stats.DocumentCount != 3 {
		t.Errorf("DocumentCount = %d, want 3", stats.DocumentCount)
	}
	results := idx.Search("income deductions", 1)
	if len(results) != 1 || results[0].ID != "tax" {
		t.Errorf("new document not searchable: %v", results)
	}
}

func TestStats(t *testing.T) {
	idx := NewIndex()
	idx.Build([]Document{
		{ID: "a", Text: "one two three"},
		{ID: "b", Text: "four five"},
	})

	stats := idx.Stats()
	if stats.DocumentCount != 2 || stats.TotalTokens != 5 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.AverageLength != 2.5 {
		t.Errorf("AverageLength = %v, want 2.5", stats.AverageLength)
	}
}

func TestScoresFavorRarerTerms(t *testing.T) {
	idx := NewIndex()
	idx.Build([]Document{
		{ID: "common1", Text: "law law law"},
		{ID: "common2", Text: "law and order"},
		{ID: "rare", Text: "law visas"},
	})

	results := idx.Search("visas", 3)
	if len(results) != 1 || results[0].ID != "rare" {
		t.Errorf("rare-term query = %v", results)
	}
}

func TestConcurrentSearchDuringUpdate(t *testing.T) {
	idx := NewIndex()
	idx.Build(legalCorpus())

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				idx.Search("visas law", 2)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			idx.UpdateIndex([]Document{{ID: fmt.Sprintf("extra%d", i), Text: "more law text"}})
		}
	}()
	wg.Wait()

	if idx.Stats().DocumentCount != 22 {
		t.Errorf("DocumentCount = %d, want 22", idx.Stats().DocumentCount)
	}
}

func TestCustomTokenizer(t *testing.T) {
	idx := NewIndex(WithTokenizer(func(s string) []string {
		return DefaultTokenizer(s) // same behavior, exercises the option
	}), WithParams(1.2, 0.5))
	idx.Build(legalCorpus())

	if got := idx.Search("visas", 1); len(got) != 1 {
		t.Errorf("custom tokenizer search = %v", got)
	}
}
