package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 1000, cfg.Agent.BufferCapacity)
	assert.Equal(t, 50, cfg.Agent.BatchSize)
	assert.Equal(t, 5, cfg.Agent.SyncIntervalMinutes)
	assert.Equal(t, 10, cfg.Agent.SyncThreshold)
	assert.Equal(t, "127.0.0.1", cfg.Agent.Host)
	assert.Equal(t, 8731, cfg.Agent.Port)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8730, cfg.Server.Port)
	assert.Empty(t, cfg.Server.AuthSecret)

	assert.Equal(t, 3, cfg.Clustering.SemanticShiftWeight)
	assert.Equal(t, 2, cfg.Clustering.MajorityChangedWeight)
	assert.Equal(t, 1, cfg.Clustering.IdleGapWeight)
	assert.Equal(t, 3, cfg.Clustering.WindowChangedWeight)
	assert.Equal(t, 2, cfg.Clustering.StableCandidateWeight)
	assert.Equal(t, 5, cfg.Clustering.PromotionThreshold)
	assert.Equal(t, 0.6, cfg.Clustering.SimilarityThreshold)
	assert.Equal(t, 20, cfg.Clustering.IdleLimitMinutes)
	assert.Equal(t, "loose", cfg.Clustering.Mode)
	assert.Equal(t, "token_overlap", cfg.Clustering.Similarity)

	assert.False(t, cfg.Embeddings.Enabled)
	assert.Equal(t, "mock", cfg.Embeddings.Provider)
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.NotEmpty(t, cfg.Capture.IgnoreSchemes)
	assert.NotEmpty(t, cfg.Capture.DenylistDomains)
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Minute, cfg.Agent.SyncInterval())
	assert.Equal(t, 20*time.Minute, cfg.Clustering.IdleLimit())
}

func TestDefaultDenylistIsPopulated(t *testing.T) {
	domains := DefaultDenylistDomains()
	assert.Greater(t, len(domains), 10)

	assert.Contains(t, domains, "chase.com")
	assert.Contains(t, domains, "1password.com")
	assert.Contains(t, domains, "accounts.google.com")
}

func TestLoadValidYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
agent:
  batch_size: 25
  sync_threshold: 5
server:
  port: 9999
  auth_secret: "testing-secret"
clustering:
  promotion_threshold: 7
  mode: "strict"
logging:
  level: "debug"
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, 25, cfg.Agent.BatchSize)
	assert.Equal(t, 5, cfg.Agent.SyncThreshold)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "testing-secret", cfg.Server.AuthSecret)
	assert.Equal(t, 7, cfg.Clustering.PromotionThreshold)
	assert.Equal(t, "strict", cfg.Clustering.Mode)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched values keep defaults
	assert.Equal(t, 1000, cfg.Agent.BufferCapacity)
	assert.Equal(t, 5, cfg.Agent.SyncIntervalMinutes)
	assert.Equal(t, 0.6, cfg.Clustering.SimilarityThreshold)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAMLFails(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("agent: [not a map"), 0644))

	_, err := Load(cfgPath)
	assert.Error(t, err)
}

func TestLoadOrCreateAtWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "nested", "config.yaml")

	cfg, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Agent.BufferCapacity)

	// File now exists and round-trips
	_, err = os.Stat(cfgPath)
	require.NoError(t, err)

	again, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, cfg.Clustering, again.Clustering)
}

func TestValidateAgent(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ValidateAgent())

	cfg.Agent.BatchSize = 0
	assert.Error(t, cfg.ValidateAgent())

	cfg.Agent.BatchSize = 101
	assert.Error(t, cfg.ValidateAgent())

	cfg = DefaultConfig()
	cfg.Agent.ServerURL = ""
	assert.Error(t, cfg.ValidateAgent())

	cfg = DefaultConfig()
	cfg.Agent.BufferCapacity = -1
	assert.Error(t, cfg.ValidateAgent())
}

func TestValidateServerRequiresSecret(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ValidateServer()
	require.Error(t, err, "missing auth secret must fail fast at startup")
	assert.Contains(t, err.Error(), "auth_secret")

	cfg.Server.AuthSecret = "s"
	require.NoError(t, cfg.ValidateServer())
}

func TestValidateClustering(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ValidateClustering())

	cfg.Clustering.Mode = "fuzzy"
	assert.Error(t, cfg.ValidateClustering())

	cfg = DefaultConfig()
	cfg.Clustering.PromotionThreshold = 0
	assert.Error(t, cfg.ValidateClustering())

	cfg = DefaultConfig()
	cfg.Clustering.SimilarityThreshold = 1.5
	assert.Error(t, cfg.ValidateClustering())
}

func TestWatchWeightsReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("clustering:\n  promotion_threshold: 5\n  mode: loose\n"), 0644))

	updates := make(chan ClusteringConfig, 4)
	w, err := WatchWeights(cfgPath, func(c ClusteringConfig) { updates <- c })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(cfgPath, []byte("clustering:\n  promotion_threshold: 8\n  mode: loose\n"), 0644))

	select {
	case got := <-updates:
		assert.Equal(t, 8, got.PromotionThreshold)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for weights reload")
	}
}

func TestWatchWeightsIgnoresInvalidEdit(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("clustering:\n  promotion_threshold: 5\n  mode: loose\n"), 0644))

	updates := make(chan ClusteringConfig, 4)
	w, err := WatchWeights(cfgPath, func(c ClusteringConfig) { updates <- c })
	require.NoError(t, err)
	defer w.Close()

	// Invalid mode: previous weights must stay in effect, no callback.
	require.NoError(t, os.WriteFile(cfgPath, []byte("clustering:\n  promotion_threshold: 8\n  mode: bogus\n"), 0644))

	select {
	case got := <-updates:
		t.Fatalf("unexpected reload with invalid config: %+v", got)
	case <-time.After(500 * time.Millisecond):
	}
}
