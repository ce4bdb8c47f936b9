// Package backoff provides jittered exponential backoff and retry helpers
// used by the store and embedding layers.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the base backoff duration in milliseconds.
	InitialMs float64
	// MaxMs caps the computed backoff in milliseconds.
	MaxMs float64
	// Factor is the exponential multiplier applied per attempt.
	Factor float64
	// Jitter is the randomization factor in [0, 1] added on top of the base.
	Jitter float64
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
}

// StorePolicy is the retry policy for transient database errors:
// base 100ms, cap 2s, 5 attempts.
func StorePolicy() Policy {
	return Policy{InitialMs: 100, MaxMs: 2000, Factor: 2, Jitter: 0.2, MaxAttempts: 5}
}

// EmbeddingPolicy is the retry policy for embedding-provider calls:
// base 500ms, cap 5s, 3 attempts.
func EmbeddingPolicy() Policy {
	return Policy{InitialMs: 500, MaxMs: 5000, Factor: 2, Jitter: 0.2, MaxAttempts: 3}
}

// Delay calculates the backoff duration for a 1-indexed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// delayWithRand computes the delay using a caller-provided random value in
// [0, 1), for deterministic tests.
func (p Policy) delayWithRand(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := p.InitialMs * math.Pow(p.Factor, exp)
	jitter := base * p.Jitter * randomValue
	total := math.Min(p.MaxMs, base+jitter)
	return time.Duration(math.Round(total)) * time.Millisecond
}
