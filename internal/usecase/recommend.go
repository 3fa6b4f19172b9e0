package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chai/internal/adapter/extract"
	"chai/internal/domain"
	"chai/internal/port"
)

// RecommendConfig bounds the search pipeline.
type RecommendConfig struct {
	MaxResults          int
	StageTimeout        time.Duration
	SampleLookupTimeout time.Duration
}

// RecommendOptions adjusts one request.
type RecommendOptions struct {
	// Limit overrides the planner's result count when positive. It is still
	// clamped to the configured maximum.
	Limit int
	// InStock restricts the answer to teas in stock even when the request
	// does not say so.
	InStock bool
}

// RecommendUseCase runs plan, retrieve, filter and select for one query.
type RecommendUseCase struct {
	planner   *Planner
	retriever *Retriever
	selector  *Selector
	index     port.VectorIndex
	cfg       RecommendConfig
}

func NewRecommendUseCase(planner *Planner, retriever *Retriever, selector *Selector, index port.VectorIndex, cfg RecommendConfig) *RecommendUseCase {
	if cfg.MaxResults < 1 {
		cfg.MaxResults = 1
	}
	return &RecommendUseCase{
		planner:   planner,
		retriever: retriever,
		selector:  selector,
		index:     index,
		cfg:       cfg,
	}
}

// Recommend answers a free-text query. Stages run strictly in sequence and
// each gets its own timeout; the first failing stage aborts the request with
// a StageError. Fewer results than requested is reported through
// SearchResult.Shortfall, not as an error.
func (u *RecommendUseCase) Recommend(ctx context.Context, userText string, opts RecommendOptions) (*domain.SearchResult, error) {
	start := time.Now()

	var intent domain.QueryIntent
	err := u.stage(ctx, func(ctx context.Context) error {
		var err error
		intent, err = u.planner.Plan(ctx, userText)
		return err
	})
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 {
		intent.RequestedCount = ClampCount(opts.Limit, u.cfg.MaxResults)
	}
	if opts.InStock {
		intent.Filter.RequireInStock = true
	}

	var pool []domain.Candidate
	err = u.stage(ctx, func(ctx context.Context) error {
		var err error
		pool, err = u.retriever.Retrieve(ctx, intent)
		return err
	})
	if err != nil {
		return nil, err
	}
	retrieved := len(pool)
	pool = ApplyFilter(pool, intent.Filter)

	result := &domain.SearchResult{
		Intent:         intent,
		CandidateCount: len(pool),
	}

	err = u.stage(ctx, func(ctx context.Context) error {
		var err error
		result.Answer, result.Recommendations, err = u.selector.Select(ctx, intent, pool)
		return err
	})
	if err != nil {
		return nil, err
	}
	if result.Recommendations == nil {
		result.Recommendations = []domain.Recommendation{}
	}
	result.Shortfall = len(result.Recommendations) < intent.RequestedCount

	u.lookupSamples(ctx, result.Recommendations)

	zap.L().Info("recommend: done",
		zap.Int("requested", intent.RequestedCount),
		zap.Int("retrieved", retrieved),
		zap.Int("after_filter", len(pool)),
		zap.Int("returned", len(result.Recommendations)),
		zap.Bool("shortfall", result.Shortfall),
		zap.Duration("took", time.Since(start)),
	)
	return result, nil
}

func (u *RecommendUseCase) stage(ctx context.Context, fn func(context.Context) error) error {
	if u.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.StageTimeout)
		defer cancel()
	}
	return fn(ctx)
}

// lookupSamples marks recommendations whose linked sample is in stock. It is
// best effort: failures and timeouts leave SampleInStock false.
func (u *RecommendUseCase) lookupSamples(ctx context.Context, recs []domain.Recommendation) {
	if u.cfg.SampleLookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.SampleLookupTimeout)
		defer cancel()
	}

	var g errgroup.Group
	for i := range recs {
		sampleURL := recs[i].Tea.SampleURL
		if sampleURL == "" {
			continue
		}
		g.Go(func() error {
			sample, err := u.index.Get(ctx, extract.TeaID(sampleURL))
			switch {
			case errors.Is(err, domain.ErrNotFound):
				zap.L().Debug("recommend: linked sample not indexed", zap.String("url", sampleURL))
			case err != nil:
				zap.L().Warn("recommend: sample lookup failed", zap.String("url", sampleURL), zap.Error(err))
			default:
				recs[i].SampleInStock = sample.InStock
			}
			return nil
		})
	}
	_ = g.Wait()
}
