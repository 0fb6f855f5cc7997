package vectorizer

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"

	openai "github.com/sashabaranov/go-openai"
)

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the embedder name.
	Name() string

	// Dimension returns the embedding dimension.
	Dimension() int
}

// OpenAIEmbedder implements Embedder using OpenAI's embedding models.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// OpenAIEmbedderConfig configures the OpenAI embedder.
type OpenAIEmbedderConfig struct {
	APIKey  string
	BaseURL string // optional custom base URL
	Model   string // text-embedding-3-small or text-embedding-3-large
}

// NewOpenAIEmbedder creates an OpenAI-backed embedder.
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(config),
		model:  cfg.Model,
	}, nil
}

// Name returns the embedder name.
func (e *OpenAIEmbedder) Name() string {
	return "openai"
}

// Dimension returns the embedding dimension for the configured model.
func (e *OpenAIEmbedder) Dimension() int {
	switch e.model {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	results := make([][]float32, len(resp.Data))
	for _, data := range resp.Data {
		results[data.Index] = data.Embedding
	}
	return results, nil
}

// FallbackEmbedder produces deterministic pseudo-random unit vectors seeded
// by the text. Used in tests and as a degraded mode when the real embedder
// is unreachable; identical texts always map to identical vectors.
type FallbackEmbedder struct {
	dimension int
}

var _ Embedder = (*FallbackEmbedder)(nil)

// NewFallbackEmbedder creates a deterministic embedder of the given
// dimension (1536 when dim <= 0).
func NewFallbackEmbedder(dim int) *FallbackEmbedder {
	if dim <= 0 {
		dim = 1536
	}
	return &FallbackEmbedder{dimension: dim}
}

func (e *FallbackEmbedder) Name() string   { return "fallback" }
func (e *FallbackEmbedder) Dimension() int { return e.dimension }

// Embed returns a unit vector derived from an FNV hash of the text.
func (e *FallbackEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, e.dimension)
	var norm float64
	for i := range vec {
		v := rng.Float64()*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (e *FallbackEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
