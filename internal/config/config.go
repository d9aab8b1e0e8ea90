// Package config loads and validates testNERD configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"testnerd/internal/logging"
)

// Config holds all testNERD configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration for the semantic validator
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine for corpus retrieval
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Matching thresholds and pipeline parallelism
	Matching MatchingConfig `yaml:"matching"`

	// Plan persistence
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging logging.Options `yaml:"logging"`
}

// LLMConfig configures the LLM used for semantic match validation.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, openai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`

	// Minimum interval between requests, serialized across goroutines.
	MinCallInterval string `yaml:"min_call_interval"`
	MaxRetries      int    `yaml:"max_retries"`
}

// EmbeddingConfig configures the embedding engine used for retrieval.
// An empty provider (or a missing API key for genai) disables embeddings
// and the index falls back to lexical search.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // genai, ollama, or empty
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"` // ollama only
}

// MatchingConfig holds retrieval and validation tuning.
type MatchingConfig struct {
	// TopK is how many candidates retrieval returns per requirement.
	TopK int `yaml:"top_k"`
	// ValidateTop is how many of those are shown to the validator.
	ValidateTop int `yaml:"validate_top"`
	// PartialScoreThreshold: above this retrieval score, a failed
	// validation degrades to a partial match instead of not_found.
	PartialScoreThreshold float64 `yaml:"partial_score_threshold"`
	// LinkScoreThreshold: minimum retrieval score to link a test ID in a
	// degraded match.
	LinkScoreThreshold float64 `yaml:"link_score_threshold"`
	// MaxGaps bounds the coverage gap list per test.
	MaxGaps int `yaml:"max_gaps"`
	// Parallelism bounds concurrent per-test matching in the pipeline.
	Parallelism int `yaml:"parallelism"`
}

// StoreConfig configures the SQLite plan store and embedding cache.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "testnerd",
		Version: "0.1.0",

		LLM: LLMConfig{
			Provider:        "gemini",
			Model:           "gemini-2.5-flash",
			BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
			Timeout:         "120s",
			MinCallInterval: "600ms",
			MaxRetries:      3,
		},

		Embedding: EmbeddingConfig{
			Provider: "genai",
			Model:    "gemini-embedding-001",
			BaseURL:  "http://localhost:11434",
		},

		Matching: MatchingConfig{
			TopK:                  5,
			ValidateTop:           3,
			PartialScoreThreshold: 0.5,
			LinkScoreThreshold:    0.3,
			MaxGaps:               10,
			Parallelism:           4,
		},

		Store: StoreConfig{
			Enabled: true,
			Path:    "testnerd.db",
		},

		Logging: logging.Options{
			Level: "info",
			Dir:   "logs",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.Embedding.APIKey == "" {
			c.Embedding.APIKey = key
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("TESTNERD_LLM_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("TESTNERD_EMBEDDING_API_KEY"); key != "" {
		c.Embedding.APIKey = key
	}
	if model := os.Getenv("TESTNERD_LLM_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		c.Embedding.BaseURL = url
	}
	if path := os.Getenv("TESTNERD_DB"); path != "" {
		c.Store.Path = path
	}
}

// Validate checks threshold and parallelism sanity.
func (c *Config) Validate() error {
	m := c.Matching
	if m.TopK < 1 {
		return fmt.Errorf("matching.top_k must be >= 1, got %d", m.TopK)
	}
	if m.ValidateTop < 1 || m.ValidateTop > m.TopK {
		return fmt.Errorf("matching.validate_top must be in [1, top_k], got %d", m.ValidateTop)
	}
	if m.PartialScoreThreshold < 0 || m.PartialScoreThreshold > 1 {
		return fmt.Errorf("matching.partial_score_threshold must be in [0,1], got %v", m.PartialScoreThreshold)
	}
	if m.LinkScoreThreshold < 0 || m.LinkScoreThreshold > 1 {
		return fmt.Errorf("matching.link_score_threshold must be in [0,1], got %v", m.LinkScoreThreshold)
	}
	if m.Parallelism < 1 {
		return fmt.Errorf("matching.parallelism must be >= 1, got %d", m.Parallelism)
	}
	return nil
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetMinCallInterval returns the minimum LLM call interval as a duration.
func (c *Config) GetMinCallInterval() time.Duration {
	d, err := time.ParseDuration(c.LLM.MinCallInterval)
	if err != nil {
		return 600 * time.Millisecond
	}
	return d
}
