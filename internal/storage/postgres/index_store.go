// Package postgres provides a Postgres-backed entity index.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
)

const defaultTable = "entities"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// IndexStoreConfig controls the Postgres connection pool used for entity rows.
type IndexStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// IndexStore implements crawler.IndexStore on a Postgres table.
type IndexStore struct {
	pool  pool
	table string
}

var _ crawler.IndexStore = (*IndexStore)(nil)

// NewIndexStore connects to Postgres and ensures the table exists.
func NewIndexStore(ctx context.Context, cfg IndexStoreConfig) (*IndexStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("index.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewIndexStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewIndexStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewIndexStoreWithPool(p pool, table string) (*IndexStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &IndexStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *IndexStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the entity table and its indexes when missing.
func (s *IndexStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	url TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	html_path TEXT NOT NULL,
	thumbnail_url TEXT NOT NULL DEFAULT '',
	thumbnail_path TEXT NOT NULL DEFAULT '',
	thumbnail_status TEXT NOT NULL DEFAULT 'none',
	content_hash TEXT NOT NULL DEFAULT '',
	html_bytes BIGINT NOT NULL DEFAULT 0,
	thumbnail_bytes BIGINT NOT NULL DEFAULT 0,
	status_code INTEGER NOT NULL DEFAULT 0,
	fetched_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_name_idx ON %[1]s (name);
CREATE INDEX IF NOT EXISTS %[1]s_thumbnail_status_idx ON %[1]s (thumbnail_status);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// UpsertEntity inserts the record or replaces the row with the same URL.
func (s *IndexStore) UpsertEntity(ctx context.Context, record crawler.EntityRecord) error {
	if record.URL == "" {
		return errors.New("record url is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	url,
	name,
	html_path,
	thumbnail_url,
	thumbnail_path,
	thumbnail_status,
	content_hash,
	html_bytes,
	thumbnail_bytes,
	status_code,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (url) DO UPDATE SET
	name = EXCLUDED.name,
	html_path = EXCLUDED.html_path,
	thumbnail_url = EXCLUDED.thumbnail_url,
	thumbnail_path = EXCLUDED.thumbnail_path,
	thumbnail_status = EXCLUDED.thumbnail_status,
	content_hash = EXCLUDED.content_hash,
	html_bytes = EXCLUDED.html_bytes,
	thumbnail_bytes = EXCLUDED.thumbnail_bytes,
	status_code = EXCLUDED.status_code,
	fetched_at = EXCLUDED.fetched_at`, s.table)

	args := []any{
		record.URL,
		record.Name,
		record.HTMLPath,
		record.ThumbnailURL,
		record.ThumbnailPath,
		string(record.ThumbnailStatus),
		record.ContentHash,
		record.HTMLBytes,
		record.ThumbnailBytes,
		record.StatusCode,
		record.FetchedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}

// GetEntity returns the record for url or crawler.ErrRecordNotFound.
func (s *IndexStore) GetEntity(ctx context.Context, url string) (crawler.EntityRecord, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE url = $1`, columns, s.table), url)
	record, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.EntityRecord{}, crawler.ErrRecordNotFound
	}
	if err != nil {
		return crawler.EntityRecord{}, fmt.Errorf("get entity %s: %w", url, err)
	}
	return record, nil
}

// ListEntities pages through records ordered by name.
func (s *IndexStore) ListEntities(ctx context.Context, limit, offset int) ([]crawler.EntityRecord, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return s.query(ctx, fmt.Sprintf(`SELECT %s FROM %s ORDER BY name, url OFFSET $1`, columns, s.table), offset)
	}
	return s.query(ctx, fmt.Sprintf(`SELECT %s FROM %s ORDER BY name, url LIMIT $1 OFFSET $2`, columns, s.table), limit, offset)
}

// CountEntities returns the number of rows.
func (s *IndexStore) CountEntities(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}
	return int(n), nil
}

// ListByThumbnailStatus returns every record with the given thumbnail status.
func (s *IndexStore) ListByThumbnailStatus(ctx context.Context, status crawler.ThumbnailStatus) ([]crawler.EntityRecord, error) {
	return s.query(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE thumbnail_status = $1 ORDER BY url`, columns, s.table), string(status))
}

// Ping verifies the database is reachable.
func (s *IndexStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

const columns = `url, name, html_path, thumbnail_url, thumbnail_path, thumbnail_status, content_hash, html_bytes, thumbnail_bytes, status_code, fetched_at`

func (s *IndexStore) query(ctx context.Context, query string, args ...any) ([]crawler.EntityRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

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

func scanEntity(row pgx.Row) (crawler.EntityRecord, error) {
	var (
		record     crawler.EntityRecord
		status     string
		statusCode int32
	)
	err := row.Scan(
		&record.URL,
		&record.Name,
		&record.HTMLPath,
		&record.ThumbnailURL,
		&record.ThumbnailPath,
		&status,
		&record.ContentHash,
		&record.HTMLBytes,
		&record.ThumbnailBytes,
		&statusCode,
		&record.FetchedAt,
	)
	if err != nil {
		return crawler.EntityRecord{}, err //nolint:wrapcheck // callers wrap with context
	}
	record.ThumbnailStatus = crawler.ThumbnailStatus(status)
	record.StatusCode = int(statusCode)
	record.FetchedAt = record.FetchedAt.UTC()
	return record, nil
}
