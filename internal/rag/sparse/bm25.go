// Package sparse implements in-memory Okapi BM25 keyword retrieval.
package sparse

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// Default Okapi parameters.
const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// Document is one indexed unit.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// Result is one scored hit. Scores are raw BM25, not normalized; downstream
// fusion is rank-based.
type Result struct {
	ID       string
	Text     string
	Score    float64
	Metadata map[string]any
}

// Stats describes the indexed corpus.
type Stats struct {
	DocumentCount int
	AverageLength float64
	TotalTokens   int
}

// Tokenizer splits text into index terms.
type Tokenizer func(string) []string

// DefaultTokenizer lowercases and splits on whitespace.
func DefaultTokenizer(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Index is a mutable in-memory BM25 index. Build and UpdateIndex take an
// exclusive lock; Search takes a shared lock, so queries issued during a
// rebuild wait for the new index rather than reading a partial one.
type Index struct {
	mu       sync.RWMutex
	k1       float64
	b        float64
	tokenize Tokenizer

	docs        []Document
	docTokens   []map[string]int
	docLens     []int
	df          map[string]int
	avgLen      float64
	totalTokens int
}

// Option customizes an Index.
type Option func(*Index)

// WithTokenizer replaces the default tokenizer.
func WithTokenizer(t Tokenizer) Option {
	return func(i *Index) { i.tokenize = t }
}

// WithParams overrides the Okapi k1 and b parameters.
func WithParams(k1, b float64) Option {
	return func(i *Index) {
		i.k1 = k1
		i.b = b
	}
}

// NewIndex creates an empty index.
func NewIndex(opts ...Option) *Index {
	i := &Index{
		k1:       DefaultK1,
		b:        DefaultB,
		tokenize: DefaultTokenizer,
		df:       map[string]int{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Build replaces the corpus.
func (i *Index) Build(docs []Document) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.docs = nil
	i.rebuild(docs)
}

// UpdateIndex appends documents and rebuilds statistics. Rebuild is O(N);
// acceptable because updates happen offline relative to queries.
func (i *Index) UpdateIndex(newDocs []Document) {
	i.mu.Lock()
	defer i.mu.Unlock()
	combined := append(append([]Document{}, i.docs...), newDocs...)
	i.docs = nil
	i.rebuild(combined)
}

// rebuild recomputes all statistics. Caller holds the write lock.
func (i *Index) rebuild(docs []Document) {
	i.docs = docs
	i.docTokens = make([]map[string]int, len(docs))
	i.docLens = make([]int, len(docs))
	i.df = map[string]int{}
	i.totalTokens = 0

	for d, doc := range docs {
		tokens := i.tokenize(doc.Text)
		counts := make(map[string]int, len(tokens))
		for _, t := range tokens {
			counts[t]++
		}
		i.docTokens[d] = counts
		i.docLens[d] = len(tokens)
		i.totalTokens += len(tokens)
		for t := range counts {
			i.df[t]++
		}
	}
	if len(docs) > 0 {
		i.avgLen = float64(i.totalTokens) / float64(len(docs))
	} else {
		i.avgLen = 0
	}
}

// Search scores the corpus against the query and returns the topK hits,
// score descending with document ID as tiebreak. Queries with no term
// overlap return an empty result, never an error.
func (i *Index) Search(query string, topK int) []Result {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.docs) == 0 || topK <= 0 {
		return nil
	}
	queryTokens := i.tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	n := float64(len(i.docs))
	var results []Result
	for d, doc := range i.docs {
		var score float64
		for _, t := range queryTokens {
			tf := float64(i.docTokens[d][t])
			if tf == 0 {
				continue
			}
			df := float64(i.df[t])
			idf := math.Log((n-df+0.5)/(df+0.5) + 1)
			norm := 1 - i.b + i.b*float64(i.docLens[d])/i.avgLen
			score += idf * (tf * (i.k1 + 1)) / (tf + i.k1*norm)
		}
		if score > 0 {
			results = append(results, Result{ID: doc.ID, Text: doc.Text, Score: score, Metadata: doc.Metadata})
		}
	}

	sort.Slice(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].ID < results[b].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Stats reports corpus-level numbers.
func (i *Index) Stats() Stats {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return Stats{
		DocumentCount: len(i.docs),
		AverageLength: i.avgLen,
		TotalTokens:   i.totalTokens,
	}
}
