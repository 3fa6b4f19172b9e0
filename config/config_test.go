package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func noEnv(string) (string, bool) { return "", false }

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Search.MaxResults != 10 {
		t.Errorf("expected MaxResults=10, got %d", cfg.Search.MaxResults)
	}
	if cfg.Search.OverfetchMargin != 4 {
		t.Errorf("expected OverfetchMargin=4, got %d", cfg.Search.OverfetchMargin)
	}
	if cfg.Search.DefaultResults != 3 {
		t.Errorf("expected DefaultResults=3, got %d", cfg.Search.DefaultResults)
	}
	if cfg.Search.MaxQueryLength != 1000 {
		t.Errorf("expected MaxQueryLength=1000, got %d", cfg.Search.MaxQueryLength)
	}
	if cfg.Embedding.Dimension != 4096 {
		t.Errorf("expected Dimension=4096, got %d", cfg.Embedding.Dimension)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "chai.yaml")

	content := `
embedding:
  model: text-embedding-3-small
  dimension: 1536
search:
  max_results: 5
  stage_timeout: 15s
index:
  backend: qdrant
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("expected model override, got %q", cfg.Embedding.Model)
	}
	if cfg.Embedding.Dimension != 1536 {
		t.Errorf("expected Dimension=1536, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Search.MaxResults != 5 {
		t.Errorf("expected MaxResults=5, got %d", cfg.Search.MaxResults)
	}
	if cfg.Search.StageTimeout != 15*time.Second {
		t.Errorf("expected StageTimeout=15s, got %s", cfg.Search.StageTimeout)
	}
	if cfg.Index.Backend != "qdrant" {
		t.Errorf("expected qdrant backend, got %q", cfg.Index.Backend)
	}
	// Untouched sections keep their defaults
	if cfg.Search.OverfetchMargin != 4 {
		t.Errorf("expected OverfetchMargin=4, got %d", cfg.Search.OverfetchMargin)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "chai.yaml")
	if err := os.WriteFile(configPath, []byte("search: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "chai.yaml")

	content := `
sync:
  parallelism: 8
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sync.Parallelism != 8 {
		t.Errorf("expected Parallelism=8, got %d", cfg.Sync.Parallelism)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"EMBEDDING_MODEL":       "custom/embed",
		"VECTOR_SIZE":           "768",
		"CHAI_MAX_RESULTS":      "7",
		"CHAI_OVERFETCH_MARGIN": "2",
		"CHAI_STAGE_TIMEOUT":    "5s",
		"CHAI_INDEX_BACKEND":    "qdrant",
		"CHAI_LLM_PROVIDER":     "anthropic",
		"OPENROUTER_BASE_URL":   "http://localhost:9999/v1",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Embedding.Model != "custom/embed" {
		t.Errorf("expected embedding model override, got %q", cfg.Embedding.Model)
	}
	if cfg.Embedding.Dimension != 768 {
		t.Errorf("expected Dimension=768, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Search.MaxResults != 7 || cfg.Search.OverfetchMargin != 2 {
		t.Errorf("unexpected search limits: %+v", cfg.Search)
	}
	if cfg.Search.StageTimeout != 5*time.Second {
		t.Errorf("expected StageTimeout=5s, got %s", cfg.Search.StageTimeout)
	}
	if cfg.Index.Backend != "qdrant" {
		t.Errorf("expected qdrant backend, got %q", cfg.Index.Backend)
	}
	if cfg.LLM.APIKeyEnv != "ANTHROPIC_API_KEY" {
		t.Errorf("expected anthropic key env, got %q", cfg.LLM.APIKeyEnv)
	}
	if cfg.Embedding.BaseURL != "http://localhost:9999/v1" || cfg.LLM.BaseURL != "http://localhost:9999/v1" {
		t.Errorf("base url override not applied: %q %q", cfg.Embedding.BaseURL, cfg.LLM.BaseURL)
	}
}

func TestApplyEnv_InvalidNumber(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "VECTOR_SIZE" {
			return "big", true
		}
		return "", false
	})
	if err == nil {
		t.Error("expected error for non-numeric VECTOR_SIZE")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }, false},
		{"zero max results", func(c *Config) { c.Search.MaxResults = 0 }, false},
		{"negative margin", func(c *Config) { c.Search.OverfetchMargin = -1 }, false},
		{"zero margin", func(c *Config) { c.Search.OverfetchMargin = 0 }, true},
		{"unknown driver", func(c *Config) { c.Content.Driver = "mongo" }, false},
		{"sqlite driver", func(c *Config) { c.Content.Driver = "sqlite" }, true},
		{"unknown backend", func(c *Config) { c.Index.Backend = "faiss" }, false},
		{"zero parallelism", func(c *Config) { c.Sync.Parallelism = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			_ = cfg.applyEnv(noEnv)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidate_ClampsDefaultResults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Search.MaxResults = 2
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Search.DefaultResults != 2 {
		t.Errorf("expected DefaultResults clamped to 2, got %d", cfg.Search.DefaultResults)
	}
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.ResolveDataDir("/srv"); got != filepath.Join("/srv", ".chai") {
		t.Errorf("unexpected data dir %q", got)
	}
	cfg.DataDir = "/var/lib/chai"
	if got := cfg.ResolveDataDir("/srv"); got != "/var/lib/chai" {
		t.Errorf("absolute data dir should be kept, got %q", got)
	}
	if IndexDBPath("/d") != "/d/index.db" || ContentDBPath("/d") != "/d/content.db" {
		t.Error("unexpected database paths")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	for _, key := range []string{"CHAI_MAX_RESULTS", "CHAI_STAGE_TIMEOUT", "CHAI_INDEX_BACKEND"} {
		t.Setenv(key, "")
	}
	path := filepath.Join(t.TempDir(), ".chai", "config.yaml")

	cfg := DefaultConfig()
	cfg.Search.MaxResults = 7
	cfg.Search.StageTimeout = 45 * time.Second
	cfg.Fetch.Excludes = []string{"**/probnik*"}
	cfg.Index.Backend = "qdrant"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Search.MaxResults != 7 {
		t.Errorf("expected MaxResults=7, got %d", loaded.Search.MaxResults)
	}
	if loaded.Search.StageTimeout != 45*time.Second {
		t.Errorf("expected StageTimeout=45s, got %s", loaded.Search.StageTimeout)
	}
	if len(loaded.Fetch.Excludes) != 1 || loaded.Fetch.Excludes[0] != "**/probnik*" {
		t.Errorf("unexpected excludes: %v", loaded.Fetch.Excludes)
	}
	if loaded.Index.Backend != "qdrant" {
		t.Errorf("expected backend qdrant, got %q", loaded.Index.Backend)
	}
}
