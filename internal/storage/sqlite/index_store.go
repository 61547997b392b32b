package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
)

const entityColumns = `url, name, html_path, thumbnail_url, thumbnail_path, thumbnail_status,
	content_hash, html_bytes, thumbnail_bytes, status_code, fetched_at`

// IndexStore implements crawler.IndexStore on the entities table.
type IndexStore struct {
	db *sql.DB
}

var _ crawler.IndexStore = (*IndexStore)(nil)

// UpsertEntity inserts the record or replaces the row with the same URL.
func (s *IndexStore) UpsertEntity(ctx context.Context, record crawler.EntityRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			name = excluded.name,
			html_path = excluded.html_path,
			thumbnail_url = excluded.thumbnail_url,
			thumbnail_path = excluded.thumbnail_path,
			thumbnail_status = excluded.thumbnail_status,
			content_hash = excluded.content_hash,
			html_bytes = excluded.html_bytes,
			thumbnail_bytes = excluded.thumbnail_bytes,
			status_code = excluded.status_code,
			fetched_at = excluded.fetched_at`,
		record.URL, record.Name, record.HTMLPath, record.ThumbnailURL, record.ThumbnailPath,
		string(record.ThumbnailStatus), record.ContentHash, record.HTMLBytes, record.ThumbnailBytes,
		record.StatusCode, toNanos(record.FetchedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", record.URL, err)
	}
	return nil
}

// GetEntity returns the record for url or crawler.ErrRecordNotFound.
func (s *IndexStore) GetEntity(ctx context.Context, url string) (crawler.EntityRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE url = ?`, url)
	record, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.EntityRecord{}, crawler.ErrRecordNotFound
	}
	if err != nil {
		return crawler.EntityRecord{}, fmt.Errorf("get entity %s: %w", url, err)
	}
	return record, nil
}

// ListEntities pages through records ordered by name.
func (s *IndexStore) ListEntities(ctx context.Context, limit, offset int) ([]crawler.EntityRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	return s.query(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY name, url LIMIT ? OFFSET ?`, limit, offset)
}

// CountEntities returns the number of records.
func (s *IndexStore) CountEntities(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}
	return n, nil
}

// ListByThumbnailStatus returns every record with the given thumbnail status.
func (s *IndexStore) ListByThumbnailStatus(ctx context.Context, status crawler.ThumbnailStatus) ([]crawler.EntityRecord, error) {
	return s.query(ctx, `SELECT `+entityColumns+` FROM entities WHERE thumbnail_status = ? ORDER BY url`, string(status))
}

// Ping verifies the database is reachable.
func (s *IndexStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

func (s *IndexStore) query(ctx context.Context, query string, args ...any) ([]crawler.EntityRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []crawler.EntityRecord
	for rows.Next() {
		record, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (crawler.EntityRecord, error) {
	var (
		record    crawler.EntityRecord
		status    string
		fetchedAt int64
	)
	err := row.Scan(
		&record.URL, &record.Name, &record.HTMLPath, &record.ThumbnailURL, &record.ThumbnailPath,
		&status, &record.ContentHash, &record.HTMLBytes, &record.ThumbnailBytes, &record.StatusCode,
		&fetchedAt,
	)
	if err != nil {
		return crawler.EntityRecord{}, err //nolint:wrapcheck // callers wrap with context
	}
	record.ThumbnailStatus = crawler.ThumbnailStatus(status)
	record.FetchedAt = fromNanos(fetchedAt)
	return record, nil
}
