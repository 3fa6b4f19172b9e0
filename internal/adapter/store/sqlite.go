package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"chai/internal/domain"
)

// SQLiteContentStore implements port.ContentStore using modernc.org/sqlite.
type SQLiteContentStore struct {
	db *sql.DB
}

// NewSQLiteContentStore opens a SQLite database at dsn, configures WAL mode
// and creates the page cache table.
func NewSQLiteContentStore(ctx context.Context, dsn string) (*SQLiteContentStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}

	s := &SQLiteContentStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS html_cache (
	url          TEXT PRIMARY KEY,
	html         TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	fetched_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_html_cache_fetched_at ON html_cache(fetched_at);
`

func (s *SQLiteContentStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteContentStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteContentStore) PutPage(ctx context.Context, sourceID, rawHTML string) error {
	if sourceID == "" {
		return eris.New("sqlite: empty source id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO html_cache (url, html, content_hash, fetched_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET html = excluded.html, content_hash = excluded.content_hash, fetched_at = excluded.fetched_at`,
		sourceID, rawHTML, domain.HashContent(rawHTML), time.Now().UTC().UnixNano(),
	)
	return eris.Wrapf(err, "sqlite: put page %s", sourceID)
}

func (s *SQLiteContentStore) GetPage(ctx context.Context, sourceID string) (domain.CachedPage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT url, html, content_hash, fetched_at FROM html_cache WHERE url = ?`,
		sourceID,
	)
	page, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CachedPage{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CachedPage{}, eris.Wrapf(err, "sqlite: get page %s", sourceID)
	}
	return page, nil
}

func (s *SQLiteContentStore) HasPage(ctx context.Context, sourceID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM html_cache WHERE url = ?`, sourceID).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: has page %s", sourceID)
	}
	return n > 0, nil
}

func (s *SQLiteContentStore) ListPages(ctx context.Context) ([]domain.CachedPage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, html, content_hash, fetched_at FROM html_cache ORDER BY url`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pages")
	}
	defer rows.Close()

	var pages []domain.CachedPage
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan page")
		}
		pages = append(pages, page)
	}
	return pages, eris.Wrap(rows.Err(), "sqlite: iterate pages")
}

func (s *SQLiteContentStore) Stats(ctx context.Context) (domain.ContentStats, error) {
	var (
		stats          domain.ContentStats
		total          sql.NullInt64
		oldest, newest sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(LENGTH(CAST(html AS BLOB))), MIN(fetched_at), MAX(fetched_at) FROM html_cache`,
	).Scan(&stats.Pages, &total, &oldest, &newest)
	if err != nil {
		return stats, eris.Wrap(err, "sqlite: stats")
	}
	stats.TotalBytes = total.Int64
	if oldest.Valid {
		stats.Oldest = time.Unix(0, oldest.Int64).UTC()
	}
	if newest.Valid {
		stats.Newest = time.Unix(0, newest.Int64).UTC()
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (domain.CachedPage, error) {
	var (
		page      domain.CachedPage
		fetchedAt int64
	)
	if err := row.Scan(&page.SourceID, &page.RawHTML, &page.ContentHash, &fetchedAt); err != nil {
		return domain.CachedPage{}, err
	}
	page.FetchedAt = time.Unix(0, fetchedAt).UTC()
	return page, nil
}
