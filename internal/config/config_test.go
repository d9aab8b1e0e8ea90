package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "testnerd" {
		t.Errorf("expected Name=testnerd, got %s", cfg.Name)
	}
	if cfg.LLM.Provider != "gemini" {
		t.Errorf("expected Provider=gemini, got %s", cfg.LLM.Provider)
	}
	if cfg.Matching.TopK != 5 {
		t.Errorf("expected TopK=5, got %d", cfg.Matching.TopK)
	}
	if cfg.Matching.ValidateTop != 3 {
		t.Errorf("expected ValidateTop=3, got %d", cfg.Matching.ValidateTop)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	// Ensure no env vars interfere
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("TESTNERD_LLM_API_KEY", "")
	t.Setenv("TESTNERD_DB", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "sk-test"
	cfg.Matching.TopK = 8

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.LLM.Provider != "openai" {
		t.Errorf("expected Provider=openai, got %s", loaded.LLM.Provider)
	}
	if loaded.LLM.APIKey != "sk-test" {
		t.Errorf("expected APIKey=sk-test, got %s", loaded.LLM.APIKey)
	}
	if loaded.Matching.TopK != 8 {
		t.Errorf("expected TopK=8, got %d", loaded.Matching.TopK)
	}
}

func TestConfig_LoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Matching.TopK != 5 {
		t.Errorf("expected default TopK=5, got %d", cfg.Matching.TopK)
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "env-gemini-key")
	t.Setenv("TESTNERD_DB", "/tmp/plans.db")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.LLM.APIKey != "env-gemini-key" {
		t.Errorf("expected APIKey=env-gemini-key, got %s", cfg.LLM.APIKey)
	}
	if cfg.Embedding.APIKey != "env-gemini-key" {
		t.Errorf("expected embedding APIKey to inherit gemini key, got %s", cfg.Embedding.APIKey)
	}
	if cfg.Store.Path != "/tmp/plans.db" {
		t.Errorf("expected Store.Path=/tmp/plans.db, got %s", cfg.Store.Path)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero top_k", func(c *Config) { c.Matching.TopK = 0 }, true},
		{"validate_top above top_k", func(c *Config) { c.Matching.ValidateTop = 9 }, true},
		{"bad partial threshold", func(c *Config) { c.Matching.PartialScoreThreshold = 1.5 }, true},
		{"negative link threshold", func(c *Config) { c.Matching.LinkScoreThreshold = -0.1 }, true},
		{"zero parallelism", func(c *Config) { c.Matching.Parallelism = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.GetMinCallInterval(); got != 600*time.Millisecond {
		t.Errorf("expected 600ms interval, got %v", got)
	}

	cfg.LLM.Timeout = "garbage"
	if got := cfg.GetLLMTimeout(); got != 120*time.Second {
		t.Errorf("expected 120s fallback timeout, got %v", got)
	}
}
