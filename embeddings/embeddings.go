package embeddings

import (
	"context"
	"fmt"

	"github.com/avidal-labs/docintel/config"
)

// Embedder produces fixed-length dense vectors, deterministic per model.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SparseVector is a weighted term vector in parallel index/value form,
// matching what sparse-capable vector backends store.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// SparseEncoder produces sparse lexical vectors for keyword matching.
type SparseEncoder interface {
	Encode(text string) SparseVector
}

type Options struct {
	Provider  string
	Model     string
	Dimension int

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func NewEmbedder(cfg config.Config) (Embedder, error) {
	opts := Options{
		Provider:      cfg.Embeddings.Provider,
		Model:         cfg.Embeddings.Model,
		Dimension:     cfg.Embeddings.Dimension,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaEmbedder(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIEmbedder(opts), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}
}
