package port

import (
	"context"

	"chai/internal/domain"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates embeddings for the given texts.
	// Returns a slice of vectors, one per input text, each of length Dimension().
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorIndex stores one record per tea and answers nearest-neighbour queries.
type VectorIndex interface {
	// Upsert inserts or replaces the record keyed by its ID. The replacement is
	// atomic per ID: concurrent readers see either the old or the new record.
	Upsert(ctx context.Context, record domain.TeaRecord) error

	// Get returns the record with the given ID or domain.ErrNotFound.
	Get(ctx context.Context, id string) (domain.TeaRecord, error)

	// QueryNearest returns up to k records ordered by descending cosine
	// similarity. The filter is only honoured when SupportsPushdown is true.
	QueryNearest(ctx context.Context, vector []float32, k int, filter *domain.Filter) ([]domain.Candidate, error)

	// SupportsPushdown reports whether QueryNearest evaluates filters itself.
	SupportsPushdown() bool

	// Delete removes records by ID. Missing IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// IDs lists every stored record ID.
	IDs(ctx context.Context) ([]string, error)

	// Stats summarizes the stored records.
	Stats(ctx context.Context) (domain.IndexStats, error)

	// Reset drops every record and prepares the index for vectors of the
	// given dimension.
	Reset(ctx context.Context, dimension int) error
}
