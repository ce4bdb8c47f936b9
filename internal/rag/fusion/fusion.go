// Package fusion implements Reciprocal Rank Fusion for combining rankings
// from multiple retrievers without score calibration.
package fusion

import (
	"math"
	"sort"

	"github.com/megaagent/memcore/internal/memerr"
)

// DefaultK is the standard RRF smoothing constant.
const DefaultK = 60

// Ranked is one entry of an input or output ranking.
type Ranked struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Fuse combines rankings by reciprocal rank: each document accumulates
// w_i / (k + rank_i) over every ranking containing it, where rank_i is its
// 1-based position. Missing documents contribute nothing; empty rankings are
// permitted. weights may be nil for equal weighting; otherwise its length
// must match len(rankings).
//
// Output is sorted by fused score descending. Ties break by the lowest
// minimum rank across inputs, then by lexicographic ID, so the result is
// deterministic for fixed inputs.
func Fuse(rankings [][]Ranked, weights []float64, k int) ([]Ranked, error) {
	if k <= 0 {
		k = DefaultK
	}
	if weights == nil {
		weights = make([]float64, len(rankings))
		for i := range weights {
			weights[i] = 1.0 / float64(len(rankings))
		}
	}
	if len(weights) != len(rankings) {
		return nil, memerr.New(memerr.KindConfig,
			"weight count %d does not match ranking count %d", len(weights), len(rankings))
	}

	type entry struct {
		fused    float64
		minRank  int
		metadata map[string]any
	}
	entries := make(map[string]*entry)

	for i, ranking := range rankings {
		for pos, doc := range ranking {
			rank := pos + 1
			e, ok := entries[doc.ID]
			if !ok {
				e = &entry{minRank: math.MaxInt32, metadata: doc.Metadata}
				entries[doc.ID] = e
			}
			e.fused += weights[i] / float64(k+rank)
			if rank < e.minRank {
				e.minRank = rank
			}
		}
	}

	out := make([]Ranked, 0, len(entries))
	ranks := make(map[string]int, len(entries))
	for id, e := range entries {
		out = append(out, Ranked{ID: id, Score: e.fused, Metadata: e.metadata})
		ranks[id] = e.minRank
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		if ranks[out[a].ID] != ranks[out[b].ID] {
			return ranks[out[a].ID] < ranks[out[b].ID]
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

// FuseWithMetadata is Fuse with the guarantee that a document's metadata
// comes from the first ranking that contained it (stable first-occurrence).
// Fuse already provides this; the name exists for call sites that rely on
// the metadata contract.
func FuseWithMetadata(rankings [][]Ranked, weights []float64, k int) ([]Ranked, error) {
	return Fuse(rankings, weights, k)
}

// NormalizeWeights scales weights to sum to 1. All-zero or empty input
// yields equal weights.
func NormalizeWeights(weights []float64, n int) []float64 {
	if len(weights) != n {
		weights = nil
	}
	if weights == nil {
		weights = make([]float64, n)
		for i := range weights {
			weights[i] = 1
		}
	}
	var sum float64
	for _, w := range weights {
		sum += w
	}
	out := make([]float64, n)
	if sum == 0 {
		for i := range out {
			out[i] = 1.0 / float64(n)
		}
		return out
	}
	for i, w := range weights {
		out[i] = w / sum
	}
	return out
}
