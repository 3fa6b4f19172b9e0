package usecase

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"chai/internal/domain"
	"chai/internal/port"
)

// DefaultOverfetchMargin is the number of extra candidates fetched beyond the
// requested count to absorb filter elimination.
const DefaultOverfetchMargin = 4

// Retriever runs the similarity stage of a search.
type Retriever struct {
	embedder port.Embedder
	index    port.VectorIndex
	margin   int
}

// NewRetriever creates a retriever. A negative margin is treated as zero.
func NewRetriever(embedder port.Embedder, index port.VectorIndex, margin int) *Retriever {
	if margin < 0 {
		margin = 0
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		margin:   margin,
	}
}

// Retrieve embeds the search phrase and fetches RequestedCount+margin
// nearest records. The filter is handed to the index only when it can
// evaluate it; otherwise the caller must run ApplyFilter. The pool is
// ordered by descending score, ties by ascending ID. There is exactly one
// index round-trip: a pool thinned by filtering is returned as is.
func (r *Retriever) Retrieve(ctx context.Context, intent domain.QueryIntent) ([]domain.Candidate, error) {
	vectors, err := r.embedder.Embed(ctx, []string{intent.SearchPhrase})
	if err != nil {
		return nil, r.fail(err)
	}
	if len(vectors) != 1 {
		return nil, r.fail(&domain.EmbeddingError{
			Model: r.embedder.ModelName(),
			Err:   eris.Errorf("expected 1 vector, got %d", len(vectors)),
		})
	}

	k := intent.RequestedCount + r.margin
	var filter *domain.Filter
	if r.index.SupportsPushdown() && !intent.Filter.IsZero() {
		f := intent.Filter
		filter = &f
	}

	pool, err := r.index.QueryNearest(ctx, vectors[0], k, filter)
	if err != nil {
		return nil, r.fail(err)
	}
	domain.SortCandidates(pool)

	zap.L().Debug("retriever: candidates",
		zap.Int("k", k),
		zap.Bool("pushdown", filter != nil),
		zap.Int("returned", len(pool)),
	)
	return pool, nil
}

func (r *Retriever) fail(err error) error {
	return domain.NewStageError(domain.StageRetrieval, err)
}
