package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"chai/config"
	"chai/internal/adapter/cache"
	"chai/internal/adapter/embedding"
	"chai/internal/adapter/fetch"
	"chai/internal/adapter/llm"
	"chai/internal/adapter/qdrant"
	"chai/internal/adapter/store"
	"chai/internal/port"
)

// app holds the stores and clients one command works with.
type app struct {
	cfg      *config.Config
	dataDir  string
	meta     *store.BoltStore
	pages    port.ContentStore
	index    port.VectorIndex
	embedder port.Embedder
	closers  []func() error
}

// openApp opens the data directory. The vector index and embedder are only
// set up when withIndex is true, so the cache command works without an
// embedding key.
func openApp(ctx context.Context, withIndex bool) (*app, error) {
	cfg := GetConfig()
	dataDir := cfg.ResolveDataDir(GetRootDir())
	if err := config.EnsureDataDir(dataDir); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	meta, err := store.NewBoltStore(config.IndexDBPath(dataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}
	a := &app{cfg: cfg, dataDir: dataDir, meta: meta, closers: []func() error{meta.Close}}

	migration, err := meta.CheckMigration()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to check migration: %w", err)
	}
	if migration.NeedsMigration {
		zap.L().Info("store: migrating", zap.String("reason", migration.Reason))
		if err := meta.Migrate(); err != nil {
			a.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}

	switch cfg.Content.Driver {
	case "sqlite":
		pages, err := store.NewSQLiteContentStore(ctx, config.ContentDBPath(dataDir))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open content store: %w", err)
		}
		a.pages = pages
		a.closers = append(a.closers, pages.Close)
	default:
		a.pages = meta
	}

	if !withIndex {
		return a, nil
	}

	a.embedder, err = newEmbedder(cfg.Embedding)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	a.index, err = openIndex(ctx, cfg.Index, meta, a.embedder.Dimension())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}
	return a, nil
}

// Close releases the stores in reverse order of opening.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// queryEmbedder serves repeated query phrases from memory.
func (a *app) queryEmbedder() *cache.CachedEmbedder {
	c := cache.NewEmbeddingCache(a.cfg.Search.QueryCacheSize, a.cfg.Search.QueryCacheTTL)
	return cache.NewCachedEmbedder(a.embedder, c)
}

func openIndex(ctx context.Context, cfg config.IndexConfig, meta *store.BoltStore, dimension int) (port.VectorIndex, error) {
	switch cfg.Backend {
	case "qdrant":
		idx := qdrant.NewIndex(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     os.Getenv(cfg.Qdrant.APIKeyEnv),
			Collection: cfg.Qdrant.Collection,
			Dimension:  dimension,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		})
		if err := idx.Init(ctx); err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return store.NewBoltVectorStore(meta.DB(), dimension)
	}
}

func newEmbedder(cfg config.EmbeddingConfig) (port.Embedder, error) {
	opts := embedding.Options{
		APIKeyEnv:      cfg.APIKeyEnv,
		Model:          cfg.Model,
		BaseURL:        cfg.BaseURL,
		Dimension:      cfg.Dimension,
		RequestsPerSec: cfg.RequestsPerSec,
		Timeout:        time.Duration(cfg.TimeoutSecs) * time.Second,
	}
	switch cfg.Provider {
	case "openrouter", "openai":
		return embedding.NewOpenAICompatibleEmbedder(opts)
	case "ollama":
		return embedding.NewOllamaEmbedder(opts)
	case "mock":
		return embedding.NewMockEmbedder(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

func newLLM(cfg config.LLMConfig, timeout time.Duration) (port.LLM, error) {
	switch cfg.Provider {
	case "openrouter", "openai":
		return llm.NewChatClient(llm.ChatOptions{
			BaseURL:   cfg.BaseURL,
			APIKeyEnv: cfg.APIKeyEnv,
			Model:     cfg.Model,
			Timeout:   timeout,
		})
	case "ollama":
		return llm.NewChatClient(llm.ChatOptions{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: timeout,
		})
	case "anthropic":
		return llm.NewAnthropicClient(llm.AnthropicOptions{
			APIKeyEnv: cfg.APIKeyEnv,
			Model:     cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

func newFetcher(cfg config.FetchConfig) *fetch.Fetcher {
	return fetch.NewFetcher(fetch.Options{
		SitemapURL:     cfg.SitemapURL,
		Includes:       cfg.Includes,
		Excludes:       cfg.Excludes,
		UserAgent:      cfg.UserAgent,
		RequestsPerSec: cfg.RequestsPerSec,
		Timeout:        time.Duration(cfg.TimeoutSecs) * time.Second,
	})
}
