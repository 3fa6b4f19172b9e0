package port

import (
	"context"

	"chai/internal/domain"
)

// ContentStore is the durable cache of scraped pages.
type ContentStore interface {
	// PutPage stores or overwrites a page, recomputing its content hash.
	PutPage(ctx context.Context, sourceID, rawHTML string) error

	// GetPage returns the page or domain.ErrNotFound.
	GetPage(ctx context.Context, sourceID string) (domain.CachedPage, error)

	// ListPages returns every cached page ordered by source ID.
	ListPages(ctx context.Context) ([]domain.CachedPage, error)

	// HasPage reports whether a page is cached.
	HasPage(ctx context.Context, sourceID string) (bool, error)

	// Stats summarizes the cached pages.
	Stats(ctx context.Context) (domain.ContentStats, error)

	Close() error
}

// Extractor turns a cached page into catalog fields.
type Extractor interface {
	// Extract returns the tea described by the page. Embedding and SourceHash
	// are left for the caller to fill.
	Extract(page domain.CachedPage) (domain.TeaRecord, error)
}

// PageFetcher downloads source pages for the content store.
type PageFetcher interface {
	// ListSources returns the source IDs (URLs) to cache.
	ListSources(ctx context.Context) ([]string, error)

	// Fetch downloads one page.
	Fetch(ctx context.Context, sourceID string) (string, error)
}

// SchemaStore remembers which embedding model and vector size the index was
// built with.
type SchemaStore interface {
	CheckSchema(ctx context.Context, model string, dimension int) (domain.SchemaCheck, error)
	RecordSchema(ctx context.Context, model string, dimension int) error
}
