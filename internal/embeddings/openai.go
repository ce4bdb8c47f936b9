package embeddings

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/megaagent/memcore/internal/backoff"
	"github.com/megaagent/memcore/internal/memerr"
)

// OpenAIProvider embeds via the official OpenAI API using its SDK. Use
// HTTPClient instead for self-hosted OpenAI-compatible endpoints.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	dimension int
	policy    backoff.Policy
}

// NewOpenAIProvider creates a provider for the given model and dimension.
// baseURL is optional; when set it targets an alternative API host.
func NewOpenAIProvider(apiKey, baseURL, model string, dimension int) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		dimension: dimension,
		policy:    backoff.EmbeddingPolicy(),
	}
}

func (p *OpenAIProvider) Dimension() int { return p.dimension }
func (p *OpenAIProvider) Model() string  { return p.model }

func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := min(start+maxBatchSize, len(texts))
		vectors, err := p.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, p.dimension), nil
	}
	vectors, err := p.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *OpenAIProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return backoff.Retry(ctx, p.policy, func(ctx context.Context, _ int) ([][]float32, error) {
		resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: texts,
			Model: openai.EmbeddingModel(p.model),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, memerr.FromContext(ctx.Err())
			}
			if apiErr, ok := err.(*openai.APIError); ok && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != 429 {
				return nil, memerr.Wrap(memerr.KindEmbedding, err, "embedding request rejected")
			}
			return nil, memerr.Transient(memerr.KindEmbedding, err, "embedding request failed")
		}

		if len(resp.Data) != len(texts) {
			return nil, memerr.New(memerr.KindEmbedding,
				"embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(resp.Data))
		}
		vectors := make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			if len(d.Embedding) != p.dimension {
				return nil, memerr.New(memerr.KindEmbedding,
					"vector %d has dimension %d, expected %d", i, len(d.Embedding), p.dimension)
			}
			vectors[i] = d.Embedding
		}
		return vectors, nil
	})
}
