package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the chai tool.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Content   ContentConfig   `yaml:"content"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Search    SearchConfig    `yaml:"search"`
	Sync      SyncConfig      `yaml:"sync"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ContentConfig selects the content store backend.
type ContentConfig struct {
	Driver string `yaml:"driver"` // "bolt" or "sqlite"
}

// IndexConfig selects and configures the vector index.
type IndexConfig struct {
	Backend string       `yaml:"backend"` // "bolt" or "qdrant"
	Qdrant  QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig contains connection details for a Qdrant vector index.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider       string  `yaml:"provider"` // "openrouter", "openai", "ollama", "mock"
	Model          string  `yaml:"model"`
	BaseURL        string  `yaml:"base_url"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	Dimension      int     `yaml:"dimension"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	TimeoutSecs    int     `yaml:"timeout_secs"`
}

// LLMConfig holds language model configuration for the planner and selector.
type LLMConfig struct {
	Provider           string  `yaml:"provider"` // "openrouter", "openai", "anthropic"
	Model              string  `yaml:"model"`
	BaseURL            string  `yaml:"base_url"`
	APIKeyEnv          string  `yaml:"api_key_env"`
	Temperature        float64 `yaml:"temperature"`
	PlanMaxTokens      int     `yaml:"plan_max_tokens"`
	SelectionMaxTokens int     `yaml:"selection_max_tokens"`
}

// SearchConfig holds query pipeline limits.
type SearchConfig struct {
	MaxResults        int           `yaml:"max_results"`
	DefaultResults    int           `yaml:"default_results"`
	OverfetchMargin   int           `yaml:"overfetch_margin"`
	StageTimeout      time.Duration `yaml:"stage_timeout"`
	SampleLookupLimit time.Duration `yaml:"sample_lookup_timeout"`
	MaxQueryLength    int           `yaml:"max_query_length"`
	QueryCacheSize    int           `yaml:"query_cache_size"`
	QueryCacheTTL     time.Duration `yaml:"query_cache_ttl"`
}

// SyncConfig holds ingestion settings.
type SyncConfig struct {
	Parallelism int `yaml:"parallelism"`
}

// FetchConfig configures the page fetcher used by the cache command.
type FetchConfig struct {
	SitemapURL     string   `yaml:"sitemap_url"`
	Includes       []string `yaml:"includes"`
	Excludes       []string `yaml:"excludes"`
	UserAgent      string   `yaml:"user_agent"`
	RequestsPerSec float64  `yaml:"requests_per_sec"`
	TimeoutSecs    int      `yaml:"timeout_secs"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: ".chai",
		Content: ContentConfig{
			Driver: "bolt",
		},
		Index: IndexConfig{
			Backend: "bolt",
			Qdrant: QdrantConfig{
				URL:         "http://localhost:6333",
				APIKeyEnv:   "QDRANT_API_KEY",
				Collection:  "teas",
				TimeoutSecs: 15,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:       "openrouter",
			Model:          "qwen/qwen3-embedding-8b",
			BaseURL:        "https://openrouter.ai/api/v1",
			APIKeyEnv:      "OPENROUTER_API_KEY",
			Dimension:      4096,
			RequestsPerSec: 5,
			TimeoutSecs:    120,
		},
		LLM: LLMConfig{
			Provider:           "openrouter",
			Model:              "google/gemini-2.5-flash-lite",
			BaseURL:            "https://openrouter.ai/api/v1",
			APIKeyEnv:          "OPENROUTER_API_KEY",
			Temperature:        0.7,
			PlanMaxTokens:      300,
			SelectionMaxTokens: 1200,
		},
		Search: SearchConfig{
			MaxResults:        10,
			DefaultResults:    3,
			OverfetchMargin:   4,
			StageTimeout:      60 * time.Second,
			SampleLookupLimit: 10 * time.Second,
			MaxQueryLength:    1000,
			QueryCacheSize:    256,
			QueryCacheTTL:     10 * time.Minute,
		},
		Sync: SyncConfig{
			Parallelism: 4,
		},
		Fetch: FetchConfig{
			SitemapURL:     "https://beliyles.com/sitemap-store.xml",
			Includes:       []string{"**/tproduct/**"},
			Excludes:       []string{"**/constructor/**", "**/card/**"},
			UserAgent:      "Mozilla/5.0 (compatible; chai/1.0)",
			RequestsPerSec: 3,
			TimeoutSecs:    60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file and applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrapf(err, "config: read %s", path)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, eris.Wrapf(err, "config: parse %s", path)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for chai.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "chai.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".chai", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	// Defaults plus environment
	return Load(filepath.Join(dir, "chai.yaml"))
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return eris.Wrapf(err, "config: invalid %s", key)
		}
		*dst = n
		return nil
	}

	str("CHAI_DATA_DIR", &c.DataDir)
	str("CHAI_CONTENT_DRIVER", &c.Content.Driver)
	str("CHAI_INDEX_BACKEND", &c.Index.Backend)
	str("QDRANT_URL", &c.Index.Qdrant.URL)
	str("QDRANT_COLLECTION", &c.Index.Qdrant.Collection)
	str("EMBEDDING_PROVIDER", &c.Embedding.Provider)
	str("EMBEDDING_MODEL", &c.Embedding.Model)
	str("OPENROUTER_BASE_URL", &c.Embedding.BaseURL)
	str("OPENROUTER_BASE_URL", &c.LLM.BaseURL)
	str("CHAI_LLM_PROVIDER", &c.LLM.Provider)
	str("CHAI_LLM_MODEL", &c.LLM.Model)
	str("CHAI_LOG_LEVEL", &c.Logging.Level)
	str("CHAI_LOG_FORMAT", &c.Logging.Format)

	if err := num("VECTOR_SIZE", &c.Embedding.Dimension); err != nil {
		return err
	}
	if err := num("CHAI_MAX_RESULTS", &c.Search.MaxResults); err != nil {
		return err
	}
	if err := num("CHAI_OVERFETCH_MARGIN", &c.Search.OverfetchMargin); err != nil {
		return err
	}
	if err := num("CHAI_SYNC_PARALLELISM", &c.Sync.Parallelism); err != nil {
		return err
	}

	if v, ok := lookup("CHAI_STAGE_TIMEOUT"); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return eris.Wrap(err, "config: invalid CHAI_STAGE_TIMEOUT")
		}
		c.Search.StageTimeout = d
	}

	// The anthropic provider reads its own key unless configured otherwise.
	if c.LLM.Provider == "anthropic" && c.LLM.APIKeyEnv == "OPENROUTER_API_KEY" {
		c.LLM.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	return nil
}

// Validate checks the configuration for values the pipeline cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.Embedding.Dimension <= 0:
		return eris.Errorf("config: vector dimension must be positive, got %d", c.Embedding.Dimension)
	case c.Search.MaxResults < 1:
		return eris.Errorf("config: max_results must be at least 1, got %d", c.Search.MaxResults)
	case c.Search.OverfetchMargin < 0:
		return eris.Errorf("config: overfetch_margin must not be negative, got %d", c.Search.OverfetchMargin)
	case c.Search.StageTimeout <= 0:
		return eris.Errorf("config: stage_timeout must be positive, got %s", c.Search.StageTimeout)
	case c.Sync.Parallelism < 1:
		return eris.Errorf("config: sync parallelism must be at least 1, got %d", c.Sync.Parallelism)
	}
	if c.Search.DefaultResults < 1 || c.Search.DefaultResults > c.Search.MaxResults {
		c.Search.DefaultResults = min(3, c.Search.MaxResults)
	}
	switch c.Content.Driver {
	case "bolt", "sqlite":
	default:
		return eris.Errorf("config: unsupported content driver %q", c.Content.Driver)
	}
	switch c.Index.Backend {
	case "bolt", "qdrant":
	default:
		return eris.Errorf("config: unsupported index backend %q", c.Index.Backend)
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "config: marshal")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return eris.Wrapf(err, "config: create directory for %s", path)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return eris.Wrapf(err, "config: write %s", path)
	}
	return nil
}

// ResolveDataDir returns the data directory, relative paths taken against root.
func (c *Config) ResolveDataDir(root string) string {
	if filepath.IsAbs(c.DataDir) {
		return c.DataDir
	}
	return filepath.Join(root, c.DataDir)
}

// IndexDBPath returns the path to the bbolt database.
func IndexDBPath(dataDir string) string {
	return filepath.Join(dataDir, "index.db")
}

// ContentDBPath returns the path to the SQLite content database.
func ContentDBPath(dataDir string) string {
	return filepath.Join(dataDir, "content.db")
}

// EnsureDataDir ensures the data directory exists.
func EnsureDataDir(dataDir string) error {
	return os.MkdirAll(dataDir, 0755)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LoggingConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapCfg.OutputPaths = []string{"stderr"}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
