package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chai/internal/domain"
	"chai/internal/port"
)

// CacheOptions controls one cache run.
type CacheOptions struct {
	// Limit fetches only the first N sources when positive.
	Limit int
	// OnlyMissing skips sources that are already cached.
	OnlyMissing bool
}

// CacheReport tallies a cache run.
type CacheReport struct {
	Sources   int                  `json:"sources"`
	New       int                  `json:"new"`
	Changed   int                  `json:"changed"`
	Unchanged int                  `json:"unchanged"`
	Skipped   int                  `json:"skipped"`
	Failed    int                  `json:"failed"`
	Failures  []domain.SyncFailure `json:"failures,omitempty"`
}

// CacheUseCase downloads source pages into the content store.
type CacheUseCase struct {
	fetcher     port.PageFetcher
	pages       port.ContentStore
	parallelism int
}

func NewCacheUseCase(fetcher port.PageFetcher, pages port.ContentStore, parallelism int) *CacheUseCase {
	if parallelism < 1 {
		parallelism = 1
	}
	return &CacheUseCase{
		fetcher:     fetcher,
		pages:       pages,
		parallelism: parallelism,
	}
}

// Cache lists the sources and stores every page. A page that fails to
// download is recorded and the run continues.
func (u *CacheUseCase) Cache(ctx context.Context, opts CacheOptions, progress ProgressFunc) (*CacheReport, error) {
	start := time.Now()
	sources, err := u.fetcher.ListSources(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "cache: list sources")
	}
	if opts.Limit > 0 && len(sources) > opts.Limit {
		sources = sources[:opts.Limit]
	}

	report := &CacheReport{Sources: len(sources)}
	var (
		g    errgroup.Group
		mu   sync.Mutex
		done int
	)
	g.SetLimit(u.parallelism)
	for _, src := range sources {
		g.Go(func() error {
			status, err := u.cacheOne(ctx, src, opts.OnlyMissing)

			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				report.Failures = append(report.Failures, domain.SyncFailure{SourceID: src, Reason: err.Error()})
				zap.L().Warn("cache: page failed", zap.String("url", src), zap.Error(err))
			} else {
				switch status {
				case pageNew:
					report.New++
				case pageChanged:
					report.Changed++
				case pageUnchanged:
					report.Unchanged++
				default:
					report.Skipped++
				}
			}
			if progress != nil {
				progress(done, len(sources))
			}
			return nil
		})
	}
	_ = g.Wait()
	report.Failed = len(report.Failures)

	if err := ctx.Err(); err != nil {
		return report, eris.Wrap(err, "cache: interrupted")
	}
	zap.L().Info("cache: done",
		zap.Int("sources", report.Sources),
		zap.Int("new", report.New),
		zap.Int("changed", report.Changed),
		zap.Int("failed", report.Failed),
		zap.Duration("took", time.Since(start)),
	)
	return report, nil
}

type pageStatus int

const (
	pageSkipped pageStatus = iota
	pageNew
	pageChanged
	pageUnchanged
)

func (u *CacheUseCase) cacheOne(ctx context.Context, src string, onlyMissing bool) (pageStatus, error) {
	if onlyMissing {
		ok, err := u.pages.HasPage(ctx, src)
		if err != nil {
			return pageSkipped, err
		}
		if ok {
			return pageSkipped, nil
		}
	}

	html, err := u.fetcher.Fetch(ctx, src)
	if err != nil {
		return pageSkipped, err
	}

	status := pageNew
	old, err := u.pages.GetPage(ctx, src)
	switch {
	case err == nil && old.ContentHash == domain.HashContent(html):
		status = pageUnchanged
	case err == nil:
		status = pageChanged
	case !errors.Is(err, domain.ErrNotFound):
		return pageSkipped, err
	}

	if err := u.pages.PutPage(ctx, src, html); err != nil {
		return pageSkipped, err
	}
	return status, nil
}
