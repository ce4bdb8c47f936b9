// Package embeddings defines the embedding provider contract and the
// concrete clients the memory core ships with.
package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"
)

// Provider produces fixed-dimension embeddings for documents and queries.
// Implementations must return one vector per input text, each of length
// Dimension().
type Provider interface {
	// EmbedDocuments embeds a batch of document texts. An empty input
	// returns an empty slice without any provider call.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single query. An empty query returns a zero
	// vector of length Dimension(), never an error.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension is the length of every vector this provider emits.
	Dimension() int

	// Model identifies the backing model for provenance recording.
	Model() string
}

// CosineSimilarity computes the cosine of the angle between a and b.
// Mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Fake is a deterministic in-process provider for tests. Distinct texts map
// to distinct directions; identical texts map to identical vectors. Token
// overlap between texts produces positive similarity, so relevance-style
// assertions behave sensibly.
type Fake struct {
	dim int

	mu    sync.Mutex
	calls int
}

// NewFake creates a fake provider with the given dimension.
func NewFake(dim int) *Fake {
	return &Fake{dim: dim}
}

// Calls reports how many embed invocations the fake has served.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.embed(t)
	}
	return out, nil
}

func (f *Fake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, f.dim), nil
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.embed(text), nil
}

func (f *Fake) Dimension() int { return f.dim }
func (f *Fake) Model() string  { return "fake-embedder" }

// embed hashes each token into a bucket so shared vocabulary produces
// shared components, then L2-normalizes.
func (f *Fake) embed(text string) []float32 {
	vec := make([]float32, f.dim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(token))
		bucket := int(binary.BigEndian.Uint32(sum[:4])) % f.dim
		if bucket < 0 {
			bucket += f.dim
		}
		vec[bucket] += 1
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
