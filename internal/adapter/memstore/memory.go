// Package memstore holds in-memory implementations of the storage ports,
// used for tests and for dry runs that should not touch disk.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chai/internal/domain"
)

// MemoryStore is an in-memory content store.
type MemoryStore struct {
	mu    sync.RWMutex
	pages map[string]domain.CachedPage
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pages: make(map[string]domain.CachedPage),
		now:   time.Now,
	}
}

func (s *MemoryStore) PutPage(ctx context.Context, sourceID, rawHTML string) error {
	if sourceID == "" {
		return fmt.Errorf("memstore: empty source id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[sourceID] = domain.CachedPage{
		SourceID:    sourceID,
		RawHTML:     rawHTML,
		ContentHash: domain.HashContent(rawHTML),
		FetchedAt:   s.now().UTC(),
	}
	return nil
}

func (s *MemoryStore) GetPage(ctx context.Context, sourceID string) (domain.CachedPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[sourceID]
	if !ok {
		return domain.CachedPage{}, domain.ErrNotFound
	}
	return page, nil
}

func (s *MemoryStore) HasPage(ctx context.Context, sourceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pages[sourceID]
	return ok, nil
}

func (s *MemoryStore) ListPages(ctx context.Context) ([]domain.CachedPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := make([]domain.CachedPage, 0, len(s.pages))
	for _, p := range s.pages {
		pages = append(pages, p)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].SourceID < pages[j].SourceID })
	return pages, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (domain.ContentStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats domain.ContentStats
	for _, p := range s.pages {
		stats.Pages++
		stats.TotalBytes += int64(len(p.RawHTML))
		if stats.Oldest.IsZero() || p.FetchedAt.Before(stats.Oldest) {
			stats.Oldest = p.FetchedAt
		}
		if p.FetchedAt.After(stats.Newest) {
			stats.Newest = p.FetchedAt
		}
	}
	return stats, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// MemoryIndex is an in-memory vector index. It does not evaluate filters, so
// callers must post-filter its results.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]domain.TeaRecord

	// schema bookkeeping, see CheckSchema
	model       string
	modelDim    int
	schemaKnown bool
}

func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{
		dimension: dimension,
		records:   make(map[string]domain.TeaRecord),
	}
}

func (m *MemoryIndex) Upsert(ctx context.Context, rec domain.TeaRecord) error {
	if rec.ID == "" {
		return &domain.IndexError{Op: "upsert", Err: fmt.Errorf("record has no id")}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(rec.Embedding) != m.dimension {
		return &domain.IndexError{Op: "upsert", Err: fmt.Errorf("vector dimension mismatch: expected %d, got %d", m.dimension, len(rec.Embedding))}
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *MemoryIndex) Get(ctx context.Context, id string) (domain.TeaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.TeaRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// QueryNearest ignores filter; see SupportsPushdown.
func (m *MemoryIndex) QueryNearest(ctx context.Context, vector []float32, k int, _ *domain.Filter) ([]domain.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.IndexError{Op: "query", Err: err}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(vector) != m.dimension {
		return nil, &domain.IndexError{Op: "query", Err: fmt.Errorf("query dimension mismatch: expected %d, got %d", m.dimension, len(vector))}
	}
	if k <= 0 {
		return nil, nil
	}

	pool := make([]domain.Candidate, 0, len(m.records))
	for _, rec := range m.records {
		pool = append(pool, domain.Candidate{Tea: rec, Score: domain.CosineSimilarity(vector, rec.Embedding)})
	}
	domain.SortCandidates(pool)
	if k < len(pool) {
		pool = pool[:k]
	}
	return pool, nil
}

func (m *MemoryIndex) SupportsPushdown() bool {
	return false
}

func (m *MemoryIndex) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

func (m *MemoryIndex) IDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryIndex) Stats(ctx context.Context) (domain.IndexStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := make([]domain.TeaRecord, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	stats := domain.SummarizeRecords(recs)
	stats.Dimension = m.dimension
	stats.EmbeddingModel = m.model
	return stats, nil
}

func (m *MemoryIndex) Reset(ctx context.Context, dimension int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]domain.TeaRecord)
	m.dimension = dimension
	return nil
}

// CheckSchema implements port.SchemaStore.
func (m *MemoryIndex) CheckSchema(ctx context.Context, model string, dimension int) (domain.SchemaCheck, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	check := domain.SchemaCheck{StoredModel: m.model, StoredDimension: m.modelDim}
	if !m.schemaKnown {
		return check, nil
	}
	switch {
	case m.modelDim != dimension:
		check.Reembed, check.Reset = true, true
		check.Reason = fmt.Sprintf("vector size changed from %d to %d", m.modelDim, dimension)
	case m.model != model:
		check.Reembed = true
		check.Reason = fmt.Sprintf("embedding model changed from %s to %s", m.model, model)
	}
	return check, nil
}

// RecordSchema implements port.SchemaStore.
func (m *MemoryIndex) RecordSchema(ctx context.Context, model string, dimension int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model, m.modelDim, m.schemaKnown = model, dimension, true
	return nil
}
