package usecase

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"chai/internal/adapter/extract"
	"chai/internal/domain"
	"chai/internal/port"
)

// StatsReport describes both stores.
type StatsReport struct {
	Index   domain.IndexStats   `json:"index"`
	Content domain.ContentStats `json:"content"`
	// SchemaWarning is set when the index was built with another embedding
	// model or vector size than configured.
	SchemaWarning string `json:"schema_warning,omitempty"`
}

// StatsUseCase reports on the stores and looks up single records.
type StatsUseCase struct {
	pages    port.ContentStore
	index    port.VectorIndex
	schema   port.SchemaStore
	embedder port.Embedder
}

// NewStatsUseCase creates a stats use case. schema may be nil.
func NewStatsUseCase(pages port.ContentStore, index port.VectorIndex, schema port.SchemaStore, embedder port.Embedder) *StatsUseCase {
	return &StatsUseCase{
		pages:    pages,
		index:    index,
		schema:   schema,
		embedder: embedder,
	}
}

func (u *StatsUseCase) Stats(ctx context.Context) (*StatsReport, error) {
	idx, err := u.index.Stats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "stats: index")
	}
	content, err := u.pages.Stats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "stats: content store")
	}
	report := &StatsReport{Index: idx, Content: content}

	if u.schema != nil {
		check, err := u.schema.CheckSchema(ctx, u.embedder.ModelName(), u.embedder.Dimension())
		if err != nil {
			return nil, eris.Wrap(err, "stats: embedding schema")
		}
		if report.Index.EmbeddingModel == "" {
			report.Index.EmbeddingModel = check.StoredModel
		}
		if check.Reembed {
			report.SchemaWarning = check.Reason + "; run sync to re-embed"
		}
	}
	return report, nil
}

// Lookup returns the record synced from the given source URL.
func (u *StatsUseCase) Lookup(ctx context.Context, sourceURL string) (domain.TeaRecord, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return domain.TeaRecord{}, eris.Wrap(domain.ErrInvalidQuery, "lookup: empty url")
	}
	rec, err := u.index.Get(ctx, extract.TeaID(sourceURL))
	if err != nil {
		return domain.TeaRecord{}, eris.Wrapf(err, "lookup: %s", sourceURL)
	}
	rec.Embedding = nil
	return rec, nil
}
