package search

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Embedder turns text into a fixed-dimension vector.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Embed must honor cancellation/deadlines.
// - Errors: missing credentials or endpoints return ErrConfiguration so the
//   searcher can fall back to keyword ranking; other errors propagate.
type Embedder interface {
	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name identifies the backend and model, e.g. "genai:gemini-embedding-001".
	Name() string
}

// Backend names accepted by NewEmbedder.
const (
	BackendNone   = "none"
	BackendGenAI  = "genai"
	BackendOllama = "ollama"
)

// EmbedderConfig selects and configures an embedding backend.
type EmbedderConfig struct {
	// Backend is one of BackendNone, BackendGenAI or BackendOllama.
	Backend string

	// APIKey is the GenAI API key.
	APIKey string

	// Model overrides the backend's default model.
	Model string

	// Endpoint is the Ollama base URL.
	Endpoint string

	// TaskType is the GenAI embedding task type.
	TaskType string
}

// NewEmbedder builds the configured backend. BackendNone (or "") returns
// nil, which the searcher treats as keyword-only.
func NewEmbedder(cfg EmbedderConfig) (Embedder, error) {
	switch cfg.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendGenAI:
		e, err := NewGenAIEmbedder(cfg.APIKey, cfg.Model, cfg.TaskType)
		if err != nil {
			return nil, err
		}
		return e, nil
	case BackendOllama:
		return NewOllamaEmbedder(cfg.Endpoint, cfg.Model), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding backend %q", ErrConfiguration, cfg.Backend)
	}
}

// IsConfigurationError reports whether err means the backend is unusable
// rather than failing.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// CosineSimilarity returns the cosine of the angle between a and b. Vectors
// of different length, or with zero magnitude, score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, aMag, bMag float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		aMag += x * x
		bMag += y * y
	}
	if aMag == 0 || bMag == 0 {
		return 0
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag))
}
