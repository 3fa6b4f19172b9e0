package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.etcd.io/bbolt"

	"chai/internal/domain"
)

var (
	bucketPages = []byte("pages")
	bucketMeta  = []byte("meta")
)

// BoltStore is a bbolt-backed content store. The same database file also
// carries the schema metadata and, when the bolt index backend is used, the
// vector index bucket.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, eris.Wrapf(err, "store: open %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketPages, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return eris.Wrapf(err, "store: create bucket %s", b)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// DB exposes the underlying database so the vector index can share it.
func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

type pageMeta struct {
	HTML      string `json:"html"`
	Hash      string `json:"hash"`
	FetchedAt int64  `json:"fetched_at"`
}

func (s *BoltStore) PutPage(ctx context.Context, sourceID, rawHTML string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sourceID == "" {
		return eris.New("store: empty source id")
	}

	data, err := json.Marshal(pageMeta{
		HTML:      rawHTML,
		Hash:      domain.HashContent(rawHTML),
		FetchedAt: time.Now().UTC().UnixNano(),
	})
	if err != nil {
		return eris.Wrap(err, "store: encode page")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPages).Put([]byte(sourceID), data)
	})
}

func (s *BoltStore) GetPage(ctx context.Context, sourceID string) (domain.CachedPage, error) {
	var page domain.CachedPage
	if err := ctx.Err(); err != nil {
		return page, err
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPages).Get([]byte(sourceID))
		if data == nil {
			return domain.ErrNotFound
		}
		p, err := decodePage(sourceID, data)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	return page, err
}

func (s *BoltStore) HasPage(ctx context.Context, sourceID string) (bool, error) {
	_, err := s.GetPage(ctx, sourceID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ListPages returns pages in key order, which bbolt keeps sorted.
func (s *BoltStore) ListPages(ctx context.Context) ([]domain.CachedPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var pages []domain.CachedPage
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPages).ForEach(func(k, v []byte) error {
			p, err := decodePage(string(k), v)
			if err != nil {
				return err
			}
			pages = append(pages, p)
			return nil
		})
	})
	return pages, err
}

func (s *BoltStore) Stats(ctx context.Context) (domain.ContentStats, error) {
	var stats domain.ContentStats
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPages).ForEach(func(k, v []byte) error {
			p, err := decodePage(string(k), v)
			if err != nil {
				return err
			}
			stats.Pages++
			stats.TotalBytes += int64(len(p.RawHTML))
			if stats.Oldest.IsZero() || p.FetchedAt.Before(stats.Oldest) {
				stats.Oldest = p.FetchedAt
			}
			if p.FetchedAt.After(stats.Newest) {
				stats.Newest = p.FetchedAt
			}
			return nil
		})
	})
	return stats, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func decodePage(sourceID string, data []byte) (domain.CachedPage, error) {
	var meta pageMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.CachedPage{}, eris.Wrapf(err, "store: decode page %s", sourceID)
	}
	return domain.CachedPage{
		SourceID:    sourceID,
		RawHTML:     meta.HTML,
		ContentHash: meta.Hash,
		FetchedAt:   time.Unix(0, meta.FetchedAt).UTC(),
	}, nil
}
