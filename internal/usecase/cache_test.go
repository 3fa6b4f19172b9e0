package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chai/internal/adapter/memstore"
)

// stubFetcher serves pages from a map. Missing pages fail.
type stubFetcher struct {
	sources []string
	pages   map[string]string
	listErr error

	mu      sync.Mutex
	fetched []string
}

func (s *stubFetcher) ListSources(context.Context) ([]string, error) {
	return s.sources, s.listErr
}

func (s *stubFetcher) Fetch(_ context.Context, url string) (string, error) {
	s.mu.Lock()
	s.fetched = append(s.fetched, url)
	s.mu.Unlock()
	html, ok := s.pages[url]
	if !ok {
		return "", errors.New("status 404")
	}
	return html, nil
}

const (
	pageA = "https://beliyles.com/tproduct/1-a"
	pageB = "https://beliyles.com/tproduct/2-b"
	pageC = "https://beliyles.com/tproduct/3-c"
	pageD = "https://beliyles.com/tproduct/4-d"
)

func TestCache_NewChangedUnchanged(t *testing.T) {
	pages := memstore.NewMemoryStore()
	putPage(t, pages, pageB, "<html>old b</html>")
	putPage(t, pages, pageC, "<html>c</html>")

	fetcher := &stubFetcher{
		sources: []string{pageA, pageB, pageC, pageD},
		pages: map[string]string{
			pageA: "<html>a</html>",
			pageB: "<html>new b</html>",
			pageC: "<html>c</html>",
		},
	}

	var calls, lastDone, lastTotal int
	var mu sync.Mutex
	report, err := NewCacheUseCase(fetcher, pages, 3).Cache(context.Background(), CacheOptions{}, func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		lastDone, lastTotal = done, total
	})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Sources)
	assert.Equal(t, 1, report.New)
	assert.Equal(t, 1, report.Changed)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, pageD, report.Failures[0].SourceID)
	assert.Contains(t, report.Failures[0].Reason, "404")

	assert.Equal(t, 4, calls)
	assert.Equal(t, 4, lastDone)
	assert.Equal(t, 4, lastTotal)

	got, err := pages.GetPage(context.Background(), pageB)
	require.NoError(t, err)
	assert.Equal(t, "<html>new b</html>", got.RawHTML)
	ok, err := pages.HasPage(context.Background(), pageD)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_OnlyMissing(t *testing.T) {
	pages := memstore.NewMemoryStore()
	putPage(t, pages, pageA, "<html>a</html>")
	fetcher := &stubFetcher{
		sources: []string{pageA, pageB},
		pages:   map[string]string{pageA: "<html>a2</html>", pageB: "<html>b</html>"},
	}

	report, err := NewCacheUseCase(fetcher, pages, 1).Cache(context.Background(), CacheOptions{OnlyMissing: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.New)
	assert.Equal(t, []string{pageB}, fetcher.fetched)

	got, err := pages.GetPage(context.Background(), pageA)
	require.NoError(t, err)
	assert.Equal(t, "<html>a</html>", got.RawHTML)
}

func TestCache_Limit(t *testing.T) {
	fetcher := &stubFetcher{
		sources: []string{pageA, pageB, pageC},
		pages:   map[string]string{pageA: "a", pageB: "b", pageC: "c"},
	}
	report, err := NewCacheUseCase(fetcher, memstore.NewMemoryStore(), 2).Cache(context.Background(), CacheOptions{Limit: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sources)
	assert.Equal(t, 2, report.New)
	assert.ElementsMatch(t, []string{pageA, pageB}, fetcher.fetched)
}

func TestCache_ListFailure(t *testing.T) {
	boom := errors.New("sitemap unavailable")
	_, err := NewCacheUseCase(&stubFetcher{listErr: boom}, memstore.NewMemoryStore(), 1).Cache(context.Background(), CacheOptions{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestCache_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher := &stubFetcher{sources: []string{pageA}, pages: map[string]string{pageA: "a"}}
	_, err := NewCacheUseCase(fetcher, memstore.NewMemoryStore(), 1).Cache(ctx, CacheOptions{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
