package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
)

var columnNames = []string{
	"url", "name", "html_path", "thumbnail_url", "thumbnail_path", "thumbnail_status",
	"content_hash", "html_bytes", "thumbnail_bytes", "status_code", "fetched_at",
}

func newMockStore(t *testing.T) (*IndexStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewIndexStoreWithPool(mock, "")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
	})
	return store, mock
}

func sampleRecord() crawler.EntityRecord {
	return crawler.EntityRecord{
		URL:             "https://wiki.example.org/w/Bob",
		Name:            "Bob",
		HTMLPath:        "html/bob-0123456789ab.html",
		ThumbnailURL:    "https://wiki.example.org/images/Bob.png",
		ThumbnailPath:   "images/bob-0123456789ab.png",
		ThumbnailStatus: crawler.ThumbnailStored,
		ContentHash:     "0123456789abcdef",
		HTMLBytes:       2048,
		ThumbnailBytes:  512,
		StatusCode:      200,
		FetchedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func recordRow(r crawler.EntityRecord) []any {
	return []any{
		r.URL, r.Name, r.HTMLPath, r.ThumbnailURL, r.ThumbnailPath, string(r.ThumbnailStatus),
		r.ContentHash, r.HTMLBytes, r.ThumbnailBytes, int32(r.StatusCode), r.FetchedAt,
	}
}

func TestNewIndexStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	_, err = NewIndexStoreWithPool(mock, "entities; DROP TABLE x")
	require.Error(t, err)

	_, err = NewIndexStoreWithPool(nil, "entities")
	require.Error(t, err)

	store, err := NewIndexStoreWithPool(mock, "wiki_entities")
	require.NoError(t, err)
	assert.Equal(t, "wiki_entities", store.table)
}

func TestNewIndexStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewIndexStore(context.Background(), IndexStoreConfig{})
	require.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS entities").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
}

func TestUpsertEntity(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	record := sampleRecord()
	mock.ExpectExec("INSERT INTO entities").
		WithArgs(
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
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertEntity(context.Background(), record))
}

func TestUpsertEntityRequiresURL(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t)
	require.Error(t, store.UpsertEntity(context.Background(), crawler.EntityRecord{Name: "x"}))
}

func TestUpsertEntityWrapsError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO entities").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err := store.UpsertEntity(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert entity")
}

func TestGetEntity(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	record := sampleRecord()
	mock.ExpectQuery("SELECT (.+) FROM entities WHERE url").
		WithArgs(record.URL).
		WillReturnRows(pgxmock.NewRows(columnNames).AddRow(recordRow(record)...))

	got, err := store.GetEntity(context.Background(), record.URL)
	require.NoError(t, err)
	assert.Equal(t, record, got)
}

func TestGetEntityNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM entities WHERE url").
		WithArgs("https://wiki.example.org/w/Nobody").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetEntity(context.Background(), "https://wiki.example.org/w/Nobody")
	require.ErrorIs(t, err, crawler.ErrRecordNotFound)
}

func TestListEntities(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	first := sampleRecord()
	second := sampleRecord()
	second.URL = "https://wiki.example.org/w/Carol"
	second.Name = "Carol"
	second.ThumbnailStatus = crawler.ThumbnailNone
	second.ThumbnailURL = ""
	second.ThumbnailPath = ""

	mock.ExpectQuery("SELECT (.+) FROM entities ORDER BY name, url LIMIT").
		WithArgs(10, 5).
		WillReturnRows(pgxmock.NewRows(columnNames).
			AddRow(recordRow(first)...).
			AddRow(recordRow(second)...))

	got, err := store.ListEntities(context.Background(), 10, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Bob", got[0].Name)
	assert.Equal(t, crawler.ThumbnailNone, got[1].ThumbnailStatus)
}

func TestListEntitiesUnlimited(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM entities ORDER BY name, url OFFSET").
		WithArgs(0).
		WillReturnRows(pgxmock.NewRows(columnNames))

	got, err := store.ListEntities(context.Background(), 0, -3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCountEntities(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(42)))

	n, err := store.CountEntities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestListByThumbnailStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	failed := sampleRecord()
	failed.ThumbnailStatus = crawler.ThumbnailFailed
	failed.ThumbnailPath = ""
	mock.ExpectQuery("SELECT (.+) FROM entities WHERE thumbnail_status").
		WithArgs("failed").
		WillReturnRows(pgxmock.NewRows(columnNames).AddRow(recordRow(failed)...))

	got, err := store.ListByThumbnailStatus(context.Background(), crawler.ThumbnailFailed)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, failed, got[0])
}

func TestPing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.Error(t, store.Ping(context.Background()))
}

func TestClose(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewIndexStoreWithPool(mock, "")
	require.NoError(t, err)
	mock.ExpectClose()
	store.Close()
	require.NoError(t, mock.ExpectationsWereMet())

	var nilStore *IndexStore
	nilStore.Close()
}
