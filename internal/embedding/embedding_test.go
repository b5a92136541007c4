package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabrecall/tabrecall/internal/config"
)

func TestMock_Deterministic(t *testing.T) {
	m := NewMock(8)
	ctx := context.Background()

	v1, err := m.Embed(ctx, []string{"golang concurrency"})
	require.NoError(t, err)
	v2, err := m.Embed(ctx, []string{"golang concurrency"})
	require.NoError(t, err)

	assert.Equal(t, v1, v2, "same text must embed identically")
	assert.Len(t, v1[0], 8)
}

func TestMock_DifferentTextsDiffer(t *testing.T) {
	m := NewMock(8)
	ctx := context.Background()

	vs, err := m.Embed(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.NotEqual(t, vs[0], vs[1])
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 0}, []float64{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float64{1, 0}, []float64{-1, 0}), 1e-9)

	// Mismatched or zero vectors score 0
	assert.Equal(t, 0.0, Cosine([]float64{1, 0}, []float64{1}))
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 0}))
}

func TestNew_SelectsProvider(t *testing.T) {
	p, err := New(config.EmbeddingsConfig{Provider: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())

	p, err = New(config.EmbeddingsConfig{Provider: "ollama", OllamaURL: "http://localhost:11434"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())

	_, err = New(config.EmbeddingsConfig{Provider: "voyage", APIKeyEnv: "TABRECALL_TEST_MISSING_KEY"})
	assert.Error(t, err, "voyage without API key must fail at construction")

	_, err = New(config.EmbeddingsConfig{Provider: "whatever"})
	assert.Error(t, err)
}

func TestOllama_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "")
	vectors, err := o.Embed(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vectors[0])
}

func TestOllama_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "missing")
	_, err := o.Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestVoyage_DefaultsModel(t *testing.T) {
	v := NewVoyage("key", "")
	assert.Equal(t, "voyage-3-lite", v.model)
}
