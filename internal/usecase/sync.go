package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chai/internal/adapter/extract"
	"chai/internal/domain"
	"chai/internal/port"
)

// SyncOptions controls one sync run.
type SyncOptions struct {
	// Force re-embeds every record even when its page is unchanged.
	Force bool
	// Prune deletes records whose page is no longer cached.
	Prune bool
	// Limit processes only the first N pages when positive.
	Limit int
}

// ProgressFunc is called after each record has been processed.
type ProgressFunc func(done, total int)

// SyncUseCase reconciles the content store against the vector index.
type SyncUseCase struct {
	pages       port.ContentStore
	index       port.VectorIndex
	embedder    port.Embedder
	extractor   port.Extractor
	schema      port.SchemaStore
	parallelism int
	now         func() time.Time
}

// NewSyncUseCase creates a sync use case. schema may be nil, in which case
// embedding model changes are not detected.
func NewSyncUseCase(
	pages port.ContentStore,
	index port.VectorIndex,
	embedder port.Embedder,
	extractor port.Extractor,
	schema port.SchemaStore,
	parallelism int,
) *SyncUseCase {
	if parallelism < 1 {
		parallelism = 1
	}
	return &SyncUseCase{
		pages:       pages,
		index:       index,
		embedder:    embedder,
		extractor:   extractor,
		schema:      schema,
		parallelism: parallelism,
		now:         time.Now,
	}
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCreated
	outcomeUpdated
	outcomeRelinked
)

// Sync runs one reconciliation pass. Failures of single pages are collected
// in the report; only listing the pages, the embedding schema check or a
// cancelled context abort the run.
func (u *SyncUseCase) Sync(ctx context.Context, opts SyncOptions, progress ProgressFunc) (*domain.SyncReport, error) {
	start := time.Now()
	pages, err := u.pages.ListPages(ctx)
	if err != nil {
		return nil, domain.NewStageError(domain.StageSync, eris.Wrap(err, "sync: list pages"))
	}
	if opts.Limit > 0 && len(pages) > opts.Limit {
		pages = pages[:opts.Limit]
	}

	report := &domain.SyncReport{}
	force := opts.Force
	if u.schema != nil {
		check, err := u.checkSchema(ctx)
		if err != nil {
			return nil, domain.NewStageError(domain.StageSync, err)
		}
		if check.Reembed {
			force = true
			report.Forced = check.Reason
		}
	}

	records, keep := u.extractAll(ctx, pages, report)
	if err := ctx.Err(); err != nil {
		return report, domain.NewStageError(domain.StageSync, err)
	}

	links := extract.LinkSamples(records)
	for i := range records {
		if sampleURL, ok := links[records[i].ID]; ok {
			records[i].SampleURL = sampleURL
		}
	}
	report.Linked = len(links)

	var (
		g    errgroup.Group
		mu   sync.Mutex
		done int
	)
	g.SetLimit(u.parallelism)
	for _, rec := range records {
		g.Go(func() error {
			res, err := u.syncRecord(ctx, rec, force)

			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				report.Failures = append(report.Failures, domain.SyncFailure{SourceID: rec.URL, Reason: err.Error()})
				zap.L().Warn("sync: record failed", zap.String("url", rec.URL), zap.Error(err))
			} else {
				switch res {
				case outcomeCreated:
					report.Created++
				case outcomeUpdated:
					report.Updated++
				case outcomeRelinked:
					report.Relinked++
				default:
					report.Skipped++
				}
			}
			if progress != nil {
				progress(done, len(records))
			}
			return nil
		})
	}
	_ = g.Wait()
	report.Failed = len(report.Failures)

	if err := ctx.Err(); err != nil {
		return report, domain.NewStageError(domain.StageSync, err)
	}

	if opts.Prune {
		if opts.Limit > 0 {
			zap.L().Warn("sync: prune skipped because a page limit is set")
		} else if err := u.prune(ctx, keep, report); err != nil {
			return report, domain.NewStageError(domain.StageSync, err)
		}
	}

	if u.schema != nil {
		if err := u.schema.RecordSchema(ctx, u.embedder.ModelName(), u.embedder.Dimension()); err != nil {
			return report, domain.NewStageError(domain.StageSync, eris.Wrap(err, "sync: record embedding schema"))
		}
	}

	zap.L().Info("sync: done",
		zap.Int("pages", len(pages)),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("linked", report.Linked),
		zap.Int("pruned", report.Pruned),
		zap.Duration("took", time.Since(start)),
	)
	return report, nil
}

// checkSchema resets the index when the vector size changed.
func (u *SyncUseCase) checkSchema(ctx context.Context) (domain.SchemaCheck, error) {
	model, dim := u.embedder.ModelName(), u.embedder.Dimension()
	check, err := u.schema.CheckSchema(ctx, model, dim)
	if err != nil {
		return check, eris.Wrap(err, "sync: check embedding schema")
	}
	if check.Reset {
		zap.L().Warn("sync: resetting index", zap.String("reason", check.Reason))
		if err := u.index.Reset(ctx, dim); err != nil {
			return check, eris.Wrap(err, "sync: reset index")
		}
	}
	if check.Reembed {
		zap.L().Warn("sync: re-embedding all records", zap.String("reason", check.Reason))
	}
	return check, nil
}

// extractAll parses every page. It returns the extracted records in page
// order and the set of IDs that prune must keep. Pages that fail to parse
// keep their record so a transient failure never deletes it.
func (u *SyncUseCase) extractAll(ctx context.Context, pages []domain.CachedPage, report *domain.SyncReport) ([]domain.TeaRecord, map[string]bool) {
	records := make([]domain.TeaRecord, 0, len(pages))
	keep := make(map[string]bool, len(pages))
	for _, page := range pages {
		if ctx.Err() != nil {
			break
		}
		rec, err := u.extractor.Extract(page)
		switch {
		case errors.Is(err, extract.ErrDiscontinued):
			zap.L().Debug("sync: discontinued sample", zap.String("url", page.SourceID))
			report.Skipped++
			continue
		case err != nil:
			report.Failures = append(report.Failures, domain.SyncFailure{SourceID: page.SourceID, Reason: err.Error()})
			zap.L().Warn("sync: extract failed", zap.String("url", page.SourceID), zap.Error(err))
			keep[extract.TeaID(page.SourceID)] = true
			continue
		}
		rec.SourceHash = domain.HashContent(page.RawHTML)
		keep[rec.ID] = true
		records = append(records, rec)
	}
	return records, keep
}

// syncRecord embeds and upserts rec unless the stored copy is current. A
// current record whose sample link changed is rewritten without embedding.
func (u *SyncUseCase) syncRecord(ctx context.Context, rec domain.TeaRecord, force bool) (outcome, error) {
	existing, err := u.index.Get(ctx, rec.ID)
	exists := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return outcomeSkipped, err
	}

	if exists && !force && existing.SourceHash == rec.SourceHash {
		if existing.SampleURL == rec.SampleURL {
			return outcomeSkipped, nil
		}
		existing.SampleURL = rec.SampleURL
		existing.UpdatedAt = u.now()
		if err := u.index.Upsert(ctx, existing); err != nil {
			return outcomeSkipped, err
		}
		return outcomeRelinked, nil
	}

	vectors, err := u.embedder.Embed(ctx, []string{rec.EmbeddingText()})
	if err != nil {
		return outcomeSkipped, err
	}
	if len(vectors) != 1 {
		return outcomeSkipped, &domain.EmbeddingError{Model: u.embedder.ModelName(), Err: eris.Errorf("expected 1 vector, got %d", len(vectors))}
	}
	rec.Embedding = vectors[0]
	rec.UpdatedAt = u.now()
	if err := u.index.Upsert(ctx, rec); err != nil {
		return outcomeSkipped, err
	}
	if exists {
		return outcomeUpdated, nil
	}
	return outcomeCreated, nil
}

func (u *SyncUseCase) prune(ctx context.Context, keep map[string]bool, report *domain.SyncReport) error {
	ids, err := u.index.IDs(ctx)
	if err != nil {
		return eris.Wrap(err, "sync: list index ids")
	}
	var stale []string
	for _, id := range ids {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := u.index.Delete(ctx, stale); err != nil {
		return eris.Wrap(err, "sync: delete stale records")
	}
	report.Pruned = len(stale)
	zap.L().Info("sync: pruned stale records", zap.Int("count", len(stale)))
	return nil
}
