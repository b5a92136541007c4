package embedding

import (
	"context"
	"crypto/sha256"
)

// Mock is a deterministic in-process provider for tests and development.
// Vectors are derived from a hash of the input text, so identical texts
// always embed identically.
type Mock struct {
	dimensions int
}

// NewMock creates a Mock provider emitting vectors of the given dimension.
func NewMock(dimensions int) *Mock {
	return &Mock{dimensions: dimensions}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Embed(_ context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		sum := sha256.Sum256([]byte(text))
		vec := make([]float64, m.dimensions)
		for d := 0; d < m.dimensions; d++ {
			vec[d] = float64(sum[d%len(sum)])/255.0*2 - 1
		}
		vectors[i] = vec
	}
	return vectors, nil
}
