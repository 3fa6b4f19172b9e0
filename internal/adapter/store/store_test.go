package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chai/internal/domain"
	"chai/internal/port"
)

var (
	_ port.ContentStore = (*BoltStore)(nil)
	_ port.ContentStore = (*SQLiteContentStore)(nil)
	_ port.VectorIndex  = (*BoltVectorStore)(nil)
	_ port.SchemaStore  = (*BoltStore)(nil)
)

func openBolt(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func openSQLite(t *testing.T) *SQLiteContentStore {
	t.Helper()
	s, err := NewSQLiteContentStore(context.Background(), filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func contentStores(t *testing.T) map[string]port.ContentStore {
	return map[string]port.ContentStore{
		"bolt":   openBolt(t),
		"sqlite": openSQLite(t),
	}
}

func TestContentStore_PutGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range contentStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutPage(ctx, "https://shop/tproduct/b", "<html>b</html>"))
			require.NoError(t, s.PutPage(ctx, "https://shop/tproduct/a", "<html>a</html>"))

			page, err := s.GetPage(ctx, "https://shop/tproduct/a")
			require.NoError(t, err)
			assert.Equal(t, "<html>a</html>", page.RawHTML)
			assert.Equal(t, domain.HashContent("<html>a</html>"), page.ContentHash)
			assert.False(t, page.FetchedAt.IsZero())

			_, err = s.GetPage(ctx, "https://shop/missing")
			assert.True(t, errors.Is(err, domain.ErrNotFound))

			ok, err := s.HasPage(ctx, "https://shop/tproduct/b")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = s.HasPage(ctx, "https://shop/missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestContentStore_OverwriteRefreshesHash(t *testing.T) {
	ctx := context.Background()
	for name, s := range contentStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutPage(ctx, "u", "one"))
			require.NoError(t, s.PutPage(ctx, "u", "two"))

			page, err := s.GetPage(ctx, "u")
			require.NoError(t, err)
			assert.Equal(t, "two", page.RawHTML)
			assert.Equal(t, domain.HashContent("two"), page.ContentHash)

			pages, err := s.ListPages(ctx)
			require.NoError(t, err)
			assert.Len(t, pages, 1)
		})
	}
}

func TestContentStore_ListOrderedAndStats(t *testing.T) {
	ctx := context.Background()
	for name, s := range contentStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"c", "a", "b"} {
				require.NoError(t, s.PutPage(ctx, id, "page-"+id))
			}

			pages, err := s.ListPages(ctx)
			require.NoError(t, err)
			require.Len(t, pages, 3)
			assert.Equal(t, "a", pages[0].SourceID)
			assert.Equal(t, "b", pages[1].SourceID)
			assert.Equal(t, "c", pages[2].SourceID)

			stats, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, stats.Pages)
			assert.Equal(t, int64(3*len("page-a")), stats.TotalBytes)
			assert.False(t, stats.Oldest.After(stats.Newest))
		})
	}
}

func TestContentStore_EmptyStats(t *testing.T) {
	for name, s := range contentStores(t) {
		t.Run(name, func(t *testing.T) {
			stats, err := s.Stats(context.Background())
			require.NoError(t, err)
			assert.Zero(t, stats.Pages)
			assert.True(t, stats.Oldest.IsZero())
		})
	}
}

func tea(id string, vec ...float32) domain.TeaRecord {
	return domain.TeaRecord{ID: id, Name: "Tea " + id, Embedding: vec, InStock: true}
}

func TestBoltVectorStore_QueryNearest(t *testing.T) {
	ctx := context.Background()
	s := openBolt(t)
	idx, err := NewBoltVectorStore(s.DB(), 2)
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(ctx, tea("a", 1, 0)))
	require.NoError(t, idx.Upsert(ctx, tea("b", 0.7, 0.7)))
	require.NoError(t, idx.Upsert(ctx, tea("c", 0, 1)))

	got, err := idx.QueryNearest(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Tea.ID)
	assert.Equal(t, "b", got[1].Tea.ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)

	all, err := idx.QueryNearest(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := idx.QueryNearest(ctx, []float32{1, 0}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBoltVectorStore_TiesBrokenByID(t *testing.T) {
	ctx := context.Background()
	idx, err := NewBoltVectorStore(openBolt(t).DB(), 2)
	require.NoError(t, err)

	for _, id := range []string{"z", "m", "a"} {
		require.NoError(t, idx.Upsert(ctx, tea(id, 1, 1)))
	}
	for i := 0; i < 5; i++ {
		got, err := idx.QueryNearest(ctx, []float32{1, 1}, 3, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "m", "z"}, []string{got[0].Tea.ID, got[1].Tea.ID, got[2].Tea.ID})
	}
}

func TestBoltVectorStore_Pushdown(t *testing.T) {
	ctx := context.Background()
	idx, err := NewBoltVectorStore(openBolt(t).DB(), 2)
	require.NoError(t, err)
	assert.True(t, idx.SupportsPushdown())

	sample := tea("sample", 1, 0)
	sample.IsSample = true
	require.NoError(t, idx.Upsert(ctx, sample))
	require.NoError(t, idx.Upsert(ctx, tea("full", 0.9, 0.1)))

	got, err := idx.QueryNearest(ctx, []float32{1, 0}, 5, &domain.Filter{ExcludeSamples: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "full", got[0].Tea.ID)
}

func TestBoltVectorStore_UpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	idx, err := NewBoltVectorStore(openBolt(t).DB(), 2)
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(ctx, tea("a", 1, 0)))
	updated := tea("a", 0, 1)
	updated.Name = "Renamed"
	require.NoError(t, idx.Upsert(ctx, updated))

	ids, err := idx.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	rec, err := idx.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", rec.Name)
}

func TestBoltVectorStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx, err := NewBoltVectorStore(openBolt(t).DB(), 3)
	require.NoError(t, err)

	err = idx.Upsert(ctx, tea("a", 1, 0))
	var idxErr *domain.IndexError
	require.True(t, errors.As(err, &idxErr))
	assert.Equal(t, "upsert", idxErr.Op)

	_, err = idx.QueryNearest(ctx, []float32{1}, 1, nil)
	require.True(t, errors.As(err, &idxErr))
	assert.Equal(t, domain.FailureStorage, domain.Classify(err))
}

func TestBoltVectorStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	s, err := NewBoltStore(path)
	require.NoError(t, err)
	idx, err := NewBoltVectorStore(s.DB(), 2)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, tea("a", 1, 0)))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path)
	require.NoError(t, err)
	defer s.Close()
	idx, err = NewBoltVectorStore(s.DB(), 2)
	require.NoError(t, err)

	rec, err := idx.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, rec.Embedding)
}

func TestBoltVectorStore_DeleteStatsReset(t *testing.T) {
	ctx := context.Background()
	idx, err := NewBoltVectorStore(openBolt(t).DB(), 2)
	require.NoError(t, err)

	a := tea("a", 1, 0)
	a.Series = "Green"
	b := tea("b", 0, 1)
	b.Series = "Red"
	b.InStock = false
	b.IsSet = true
	require.NoError(t, idx.Upsert(ctx, a))
	require.NoError(t, idx.Upsert(ctx, b))

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.InStock)
	assert.Equal(t, 1, stats.OutOfStock)
	assert.Equal(t, 1, stats.Sets)
	assert.Equal(t, []string{"Green", "Red"}, stats.Series)
	assert.Equal(t, 2, stats.Dimension)

	require.NoError(t, idx.Delete(ctx, []string{"a", "missing"}))
	_, err = idx.Get(ctx, "a")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	require.NoError(t, idx.Reset(ctx, 3))
	ids, err := idx.IDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	require.NoError(t, idx.Upsert(ctx, tea("c", 1, 0, 0)))
}

func TestBoltVectorStore_ConcurrentUpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	idx, err := NewBoltVectorStore(openBolt(t).DB(), 2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, idx.Upsert(ctx, tea(fmt.Sprintf("t%02d", i%5), float32(i), 1)))
		}(i)
		go func() {
			defer wg.Done()
			res, err := idx.QueryNearest(ctx, []float32{1, 1}, 10, nil)
			assert.NoError(t, err)
			seen := map[string]bool{}
			for _, c := range res {
				assert.False(t, seen[c.Tea.ID], "duplicate id %s", c.Tea.ID)
				seen[c.Tea.ID] = true
				assert.Len(t, c.Tea.Embedding, 2)
			}
		}()
	}
	wg.Wait()

	ids, err := idx.IDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 5)
}

func TestSchemaCheck(t *testing.T) {
	ctx := context.Background()
	s := openBolt(t)

	check, err := s.CheckSchema(ctx, "model-a", 4)
	require.NoError(t, err)
	assert.False(t, check.Reembed)

	require.NoError(t, s.RecordSchema(ctx, "model-a", 4))

	check, err = s.CheckSchema(ctx, "model-a", 4)
	require.NoError(t, err)
	assert.False(t, check.Reembed)
	assert.Equal(t, "model-a", check.StoredModel)

	check, err = s.CheckSchema(ctx, "model-b", 4)
	require.NoError(t, err)
	assert.True(t, check.Reembed)
	assert.False(t, check.Reset)
	assert.Contains(t, check.Reason, "model-b")

	check, err = s.CheckSchema(ctx, "model-a", 8)
	require.NoError(t, err)
	assert.True(t, check.Reembed)
	assert.True(t, check.Reset)
}

func TestMigrate(t *testing.T) {
	s := openBolt(t)

	result, err := s.CheckMigration()
	require.NoError(t, err)
	assert.True(t, result.NeedsMigration)
	assert.Equal(t, 0, result.OldVersion)

	require.NoError(t, s.Migrate())

	result, err = s.CheckMigration()
	require.NoError(t, err)
	assert.False(t, result.NeedsMigration)

	require.NoError(t, s.SetSchemaInfo(&SchemaInfo{Version: CurrentSchemaVersion + 1}))
	_, err = s.CheckMigration()
	assert.Error(t, err)
}
