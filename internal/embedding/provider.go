// Package embedding abstracts text-embedding providers behind a capability
// interface. Providers are selected by configuration; the mock variant keeps
// the rest of the system testable without network access.
package embedding

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/tabrecall/tabrecall/internal/config"
)

// Provider generates embedding vectors for texts.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Name() string
}

// New builds the provider named by the config section.
func New(cfg config.EmbeddingsConfig) (Provider, error) {
	switch cfg.Provider {
	case "mock", "":
		return NewMock(8), nil
	case "voyage":
		apiKey := os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("environment variable %s not set", cfg.APIKeyEnv)
		}
		return NewVoyage(apiKey, cfg.Model), nil
	case "ollama":
		return NewOllama(cfg.OllamaURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// Cosine computes cosine similarity between two vectors. Mismatched or
// zero-norm vectors score 0.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
