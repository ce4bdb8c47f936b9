package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/megaagent/memcore/internal/backoff"
	"github.com/megaagent/memcore/internal/memerr"
	"github.com/megaagent/memcore/internal/observability"
)

// HTTPScorer scores (query, text) pairs against a remote cross-encoder
// service. It retries transient failures and validates that the response
// carries one score per input text.
type HTTPScorer struct {
	url    string
	apiKey string
	model  string
	client *http.Client
	logger *observability.Logger
	policy backoff.Policy
}

// HTTPScorerOption customizes an HTTPScorer.
type HTTPScorerOption func(*HTTPScorer)

// WithScorerTimeout overrides the total per-call deadline (default 30s).
func WithScorerTimeout(d time.Duration) HTTPScorerOption {
	return func(s *HTTPScorer) { s.client.Timeout = d }
}

// NewHTTPScorer creates a scorer for the given endpoint.
func NewHTTPScorer(url, apiKey, model string, logger *observability.Logger, opts ...HTTPScorerOption) *HTTPScorer {
	s := &HTTPScorer{
		url:    url,
		apiKey: apiKey,
		model:  model,
		logger: logger,
		policy: backoff.EmbeddingPolicy(),
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type scoreRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

// scoreResponse accepts the two shapes rerank services use: a flat scores
// array and TEI-style results[i].{index, score}.
type scoreResponse struct {
	Scores  []float64 `json:"scores"`
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// Score sends one scoring request for the whole slice. Batching is the
// caller's concern.
func (s *HTTPScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return []float64{}, nil
	}
	return backoff.Retry(ctx, s.policy, func(ctx context.Context, attempt int) ([]float64, error) {
		if attempt > 1 {
			s.logger.Debug(ctx, "retrying rerank request", "attempt", attempt, "texts", len(texts))
		}
		return s.doRequest(ctx, query, texts)
	})
}

func (s *HTTPScorer) doRequest(ctx context.Context, query string, texts []string) ([]float64, error) {
	body, err := json.Marshal(scoreRequest{Query: query, Texts: texts, Model: s.model})
	if err != nil {
		return nil, memerr.Wrap(memerr.KindEmbedding, err, "marshal rerank request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, memerr.Wrap(memerr.KindEmbedding, err, "build rerank request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, memerr.FromContext(ctx.Err())
		}
		return nil, memerr.Transient(memerr.KindEmbedding, err, "rerank request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, memerr.Transient(memerr.KindEmbedding, err, "read rerank response")
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, memerr.Transient(memerr.KindEmbedding,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 200)),
			"rerank service unavailable")
	case resp.StatusCode != http.StatusOK:
		return nil, memerr.New(memerr.KindEmbedding,
			"rerank service rejected request: status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var parsed scoreResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, memerr.Wrap(memerr.KindEmbedding, err, "decode rerank response")
	}

	scores := parsed.Scores
	if len(scores) == 0 && len(parsed.Results) > 0 {
		scores = make([]float64, len(texts))
		for _, r := range parsed.Results {
			if r.Index < 0 || r.Index >= len(texts) {
				return nil, memerr.New(memerr.KindEmbedding,
					"rerank result index %d out of range for %d texts", r.Index, len(texts))
			}
			scores[r.Index] = r.Score
		}
	}
	if len(scores) != len(texts) {
		return nil, memerr.New(memerr.KindEmbedding,
			"rerank score count mismatch: sent %d texts, got %d scores", len(texts), len(scores))
	}
	return scores, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
