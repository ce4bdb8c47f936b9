package embeddings

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

// maxBatchSize is the largest number of inputs sent in one provider request.
const maxBatchSize = 64

// HTTPClient talks to an OpenAI-compatible embedding endpoint. It batches
// arbitrary-length input, retries transient failures, and validates every
// response against the configured dimension.
type HTTPClient struct {
	url       string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
	logger    *observability.Logger
	metrics   *observability.Metrics
	policy    backoff.Policy
}

// HTTPClientOption customizes an HTTPClient.
type HTTPClientOption func(*HTTPClient)

// WithHTTPTimeout overrides the total per-call deadline (default 30s).
func WithHTTPTimeout(d time.Duration) HTTPClientOption {
	return func(c *HTTPClient) { c.client.Timeout = d }
}

// WithMetrics attaches embedding metrics.
func WithMetrics(m *observability.Metrics) HTTPClientOption {
	return func(c *HTTPClient) { c.metrics = m }
}

// NewHTTPClient creates a client for the given endpoint. Connection timeout
// is 10s; total call deadline defaults to 30s.
func NewHTTPClient(url, apiKey, model string, dimension int, logger *observability.Logger, opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		url:       url,
		apiKey:    apiKey,
		model:     model,
		dimension: dimension,
		logger:    logger,
		policy:    backoff.EmbeddingPolicy(),
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) Dimension() int { return c.dimension }
func (c *HTTPClient) Model() string  { return c.model }

// EmbedDocuments embeds texts in batches of at most 64. An empty input
// returns an empty slice without touching the network.
func (c *HTTPClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := min(start+maxBatchSize, len(texts))
		vectors, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedQuery embeds a single query. Empty input returns a zero vector.
func (c *HTTPClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, c.dimension), nil
	}
	vectors, err := c.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// embedResponse accepts the two response shapes providers use: OpenAI's
// data[i].embedding and the vector-service embeddings[i].vector.
type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Embeddings []struct {
		Vector []float32 `json:"vector"`
	} `json:"embeddings"`
}

func (c *HTTPClient) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := backoff.Retry(ctx, c.policy, func(ctx context.Context, attempt int) ([][]float32, error) {
		if attempt > 1 {
			c.logger.Debug(ctx, "retrying embedding request", "attempt", attempt, "batch", len(texts))
		}
		return c.doRequest(ctx, texts)
	})

	if c.metrics != nil {
		c.metrics.EmbeddingBatchDuration.WithLabelValues(c.model).Observe(time.Since(start).Seconds())
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.EmbeddingTexts.WithLabelValues(c.model, status).Add(float64(len(texts)))
	}
	return vectors, err
}

func (c *HTTPClient) doRequest(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Input: texts, Model: c.model})
	if err != nil {
		return nil, memerr.Wrap(memerr.KindEmbedding, err, "marshal embedding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, memerr.Wrap(memerr.KindEmbedding, err, "build embedding request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, memerr.FromContext(ctx.Err())
		}
		return nil, memerr.Transient(memerr.KindEmbedding, err, "embedding request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, memerr.Transient(memerr.KindEmbedding, err, "read embedding response")
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, memerr.Transient(memerr.KindEmbedding,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 200)),
			"embedding provider unavailable")
	case resp.StatusCode != http.StatusOK:
		return nil, memerr.New(memerr.KindEmbedding,
			"embedding provider rejected request: status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, memerr.Wrap(memerr.KindEmbedding, err, "decode embedding response")
	}

	vectors := make([][]float32, 0, len(texts))
	switch {
	case len(parsed.Data) > 0:
		for _, d := range parsed.Data {
			vectors = append(vectors, d.Embedding)
		}
	case len(parsed.Embeddings) > 0:
		for _, e := range parsed.Embeddings {
			vectors = append(vectors, e.Vector)
		}
	}

	if len(vectors) != len(texts) {
		return nil, memerr.New(memerr.KindEmbedding,
			"embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != c.dimension {
			return nil, memerr.New(memerr.KindEmbedding,
				"vector %d has dimension %d, expected %d", i, len(v), c.dimension)
		}
	}
	return vectors, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
