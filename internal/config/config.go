package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/tabrecall/config.yaml"

// Config holds all tabrecall configuration.
type Config struct {
	Agent      AgentConfig      `yaml:"agent"`
	Server     ServerConfig     `yaml:"server"`
	Capture    CaptureConfig    `yaml:"capture"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// AgentConfig configures the client agent: the local activity daemon, the
// event buffer, and the sync engine.
type AgentConfig struct {
	StatePath           string `yaml:"state_path"`
	ServerURL           string `yaml:"server_url"`
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	BufferCapacity      int    `yaml:"buffer_capacity"`
	BatchSize           int    `yaml:"batch_size"`
	SyncIntervalMinutes int    `yaml:"sync_interval_minutes"`
	SyncThreshold       int    `yaml:"sync_threshold"`
}

// SyncInterval returns the periodic sync interval as a duration.
func (a AgentConfig) SyncInterval() time.Duration {
	return time.Duration(a.SyncIntervalMinutes) * time.Minute
}

type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	SQLiteFile string `yaml:"sqlite_file"`
	AuthSecret string `yaml:"auth_secret"`
}

type CaptureConfig struct {
	IgnoreSchemes   []string `yaml:"ignore_schemes"`
	DenylistDomains []string `yaml:"denylist_domains"`
}

// ClusteringConfig is the weight table for the session boundary detector.
// Each weight contributes to the score when its signal fires; a total at or
// above PromotionThreshold starts a new session.
type ClusteringConfig struct {
	SemanticShiftWeight   int     `yaml:"semantic_shift_weight"`
	MajorityChangedWeight int     `yaml:"majority_changed_weight"`
	IdleGapWeight         int     `yaml:"idle_gap_weight"`
	WindowChangedWeight   int     `yaml:"window_changed_weight"`
	StableCandidateWeight int     `yaml:"stable_candidate_weight"`
	PromotionThreshold    int     `yaml:"promotion_threshold"`
	SimilarityThreshold   float64 `yaml:"similarity_threshold"`
	IdleLimitMinutes      int     `yaml:"idle_limit_minutes"`
	Mode                  string  `yaml:"mode"`       // "strict" or "loose"
	Similarity            string  `yaml:"similarity"` // "token_overlap" or "embedding"
}

// IdleLimit returns the idle gap limit as a duration.
func (c ClusteringConfig) IdleLimit() time.Duration {
	return time.Duration(c.IdleLimitMinutes) * time.Minute
}

type EmbeddingsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Provider  string `yaml:"provider"` // "mock", "voyage", "ollama"
	OllamaURL string `yaml:"ollama_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read or contains invalid YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// ExpandPath replaces a leading ~ with the user's home directory.
// Config values like state_path and sqlite_file accept ~ paths.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := expandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}

// ValidateAgent checks settings the agent needs at startup. Fatal
// misconfiguration fails here, not on the first sync.
func (c *Config) ValidateAgent() error {
	if c.Agent.ServerURL == "" {
		return fmt.Errorf("agent.server_url is required")
	}
	if c.Agent.BufferCapacity <= 0 {
		return fmt.Errorf("agent.buffer_capacity must be positive, got %d", c.Agent.BufferCapacity)
	}
	if c.Agent.BatchSize <= 0 || c.Agent.BatchSize > 100 {
		return fmt.Errorf("agent.batch_size must be in 1..100, got %d", c.Agent.BatchSize)
	}
	if c.Agent.SyncIntervalMinutes <= 0 {
		return fmt.Errorf("agent.sync_interval_minutes must be positive, got %d", c.Agent.SyncIntervalMinutes)
	}
	return nil
}

// ValidateServer checks settings the server needs at startup.
func (c *Config) ValidateServer() error {
	if c.Server.AuthSecret == "" {
		return fmt.Errorf("server.auth_secret is required (set it in the config file)")
	}
	if c.Server.SQLiteFile == "" {
		return fmt.Errorf("server.sqlite_file is required")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive, got %d", c.Server.Port)
	}
	return c.ValidateClustering()
}

// ValidateClustering checks the weight table.
func (c *Config) ValidateClustering() error {
	cl := c.Clustering
	if cl.Mode != "strict" && cl.Mode != "loose" {
		return fmt.Errorf("clustering.mode must be %q or %q, got %q", "strict", "loose", cl.Mode)
	}
	if cl.PromotionThreshold <= 0 {
		return fmt.Errorf("clustering.promotion_threshold must be positive, got %d", cl.PromotionThreshold)
	}
	if cl.SimilarityThreshold < 0 || cl.SimilarityThreshold > 1 {
		return fmt.Errorf("clustering.similarity_threshold must be in [0,1], got %v", cl.SimilarityThreshold)
	}
	return nil
}
