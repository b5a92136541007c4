package config

import "github.com/tabrecall/tabrecall/internal/event"

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			StatePath:           "~/.config/tabrecall/agent-state.json",
			ServerURL:           "http://localhost:8730",
			Host:                "127.0.0.1",
			Port:                8731,
			BufferCapacity:      1000,
			BatchSize:           50,
			SyncIntervalMinutes: 5,
			SyncThreshold:       10,
		},
		Server: ServerConfig{
			Host:       "127.0.0.1",
			Port:       8730,
			SQLiteFile: "~/.config/tabrecall/tabrecall.db",
			AuthSecret: "",
		},
		Capture: CaptureConfig{
			IgnoreSchemes:   event.DefaultIgnoredSchemes(),
			DenylistDomains: DefaultDenylistDomains(),
		},
		Clustering: ClusteringConfig{
			SemanticShiftWeight:   3,
			MajorityChangedWeight: 2,
			IdleGapWeight:         1,
			WindowChangedWeight:   3,
			StableCandidateWeight: 2,
			PromotionThreshold:    5,
			SimilarityThreshold:   0.6,
			IdleLimitMinutes:      20,
			Mode:                  "loose",
			Similarity:            "token_overlap",
		},
		Embeddings: EmbeddingsConfig{
			Enabled:   false,
			Provider:  "mock",
			OllamaURL: "http://localhost:11434",
			APIKeyEnv: "VOYAGE_API_KEY",
			Model:     "nomic-embed-text",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
