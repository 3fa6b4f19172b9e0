package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"chai/internal/domain"
)

var (
	bucketTeas = []byte("teas")
)

// BoltVectorStore implements port.VectorIndex on top of bbolt.
// Search is brute force over an in-memory copy of the records; the catalog is
// a few hundred items.
type BoltVectorStore struct {
	db        *bbolt.DB
	mu        sync.RWMutex
	dimension int
	// In-memory copy for search, keyed by record ID
	records map[string]domain.TeaRecord
}

// NewBoltVectorStore creates a vector index in db for vectors of the given dimension.
func NewBoltVectorStore(db *bbolt.DB, dimension int) (*BoltVectorStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTeas)
		return err
	})
	if err != nil {
		return nil, &domain.IndexError{Op: "open", Err: eris.Wrap(err, "create teas bucket")}
	}

	s := &BoltVectorStore{
		db:        db,
		dimension: dimension,
		records:   make(map[string]domain.TeaRecord),
	}
	if err := s.load(); err != nil {
		return nil, &domain.IndexError{Op: "open", Err: err}
	}
	return s, nil
}

func (s *BoltVectorStore) load() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTeas).ForEach(func(k, v []byte) error {
			var rec domain.TeaRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				zap.L().Warn("store: skipping corrupt index record", zap.ByteString("id", k), zap.Error(err))
				return nil
			}
			s.records[string(k)] = rec
			return nil
		})
	})
}

// Upsert writes the record in one transaction, then swaps it into memory.
func (s *BoltVectorStore) Upsert(ctx context.Context, rec domain.TeaRecord) error {
	if err := ctx.Err(); err != nil {
		return &domain.IndexError{Op: "upsert", Err: err}
	}
	if rec.ID == "" {
		return &domain.IndexError{Op: "upsert", Err: eris.New("record has no id")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(rec.Embedding) != s.dimension {
		return &domain.IndexError{Op: "upsert", Err: eris.Errorf("vector dimension mismatch: expected %d, got %d", s.dimension, len(rec.Embedding))}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return &domain.IndexError{Op: "upsert", Err: eris.Wrap(err, "encode record")}
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTeas).Put([]byte(rec.ID), data)
	})
	if err != nil {
		return &domain.IndexError{Op: "upsert", Err: eris.Wrapf(err, "put %s", rec.ID)}
	}

	s.records[rec.ID] = rec
	return nil
}

func (s *BoltVectorStore) Get(ctx context.Context, id string) (domain.TeaRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.TeaRecord{}, &domain.IndexError{Op: "get", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return domain.TeaRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// QueryNearest scores every record by cosine similarity. Records rejected by
// filter are skipped before ranking.
func (s *BoltVectorStore) QueryNearest(ctx context.Context, vector []float32, k int, filter *domain.Filter) ([]domain.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.IndexError{Op: "query", Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(vector) != s.dimension {
		return nil, &domain.IndexError{Op: "query", Err: eris.Errorf("query dimension mismatch: expected %d, got %d", s.dimension, len(vector))}
	}
	if k <= 0 || len(s.records) == 0 {
		return nil, nil
	}

	scored := make([]domain.Candidate, 0, len(s.records))
	for _, rec := range s.records {
		if filter != nil && !filter.Matches(rec) {
			continue
		}
		scored = append(scored, domain.Candidate{
			Tea:   rec,
			Score: domain.CosineSimilarity(vector, rec.Embedding),
		})
	}

	domain.SortCandidates(scored)

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

func (s *BoltVectorStore) SupportsPushdown() bool {
	return true
}

// Delete removes records by their IDs.
func (s *BoltVectorStore) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return &domain.IndexError{Op: "delete", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTeas)
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &domain.IndexError{Op: "delete", Err: err}
	}
	for _, id := range ids {
		delete(s.records, id)
	}
	return nil
}

func (s *BoltVectorStore) IDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.IndexError{Op: "ids", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *BoltVectorStore) Stats(ctx context.Context) (domain.IndexStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.IndexStats{}, &domain.IndexError{Op: "stats", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]domain.TeaRecord, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	stats := domain.SummarizeRecords(recs)
	stats.Dimension = s.dimension
	return stats, nil
}

// Reset empties the index and switches it to a new dimension.
func (s *BoltVectorStore) Reset(ctx context.Context, dimension int) error {
	if err := ctx.Err(); err != nil {
		return &domain.IndexError{Op: "reset", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketTeas); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(bucketTeas)
		return err
	})
	if err != nil {
		return &domain.IndexError{Op: "reset", Err: eris.Wrap(err, "recreate teas bucket")}
	}
	s.records = make(map[string]domain.TeaRecord)
	s.dimension = dimension
	return nil
}
