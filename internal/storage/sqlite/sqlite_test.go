package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
	"github.com/JakeFAU/wikicrawl/internal/frontier"
)

func openDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "wikicrawl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "")
	require.Error(t, err)
}

func TestFrontierStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openDB(t).FrontierStore()

	at := time.Date(2024, 2, 3, 4, 5, 6, 7, time.UTC)
	pending := crawler.FrontierEntry{
		Target: crawler.CrawlTarget{URL: "https://wiki.example.org/w/Category:NPCs", Kind: crawler.KindCategoryPage, DiscoveredAt: at},
		State:  crawler.StatePending,
		Seq:    1,
	}
	failed := crawler.FrontierEntry{
		Target:        crawler.CrawlTarget{URL: "https://wiki.example.org/w/Bob", Kind: crawler.KindEntityPage, PageIndex: 2, DiscoveredAt: at},
		State:         crawler.StateFailed,
		Attempts:      3,
		LastError:     "Not Found",
		LastErrorKind: crawler.ErrKindNotFound,
		LastAttempt:   at.Add(time.Second),
		Permanent:     true,
		Seq:           2,
	}
	require.NoError(t, store.SaveEntry(ctx, failed))
	require.NoError(t, store.SaveEntry(ctx, pending))

	loaded, err := store.LoadEntries(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, pending, loaded[0], "rows come back in seq order")
	assert.Equal(t, failed, loaded[1])
	assert.True(t, loaded[0].NotBefore.IsZero())

	failed.State = crawler.StatePending
	failed.Permanent = false
	require.NoError(t, store.SaveEntry(ctx, failed))
	loaded, err = store.LoadEntries(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, crawler.StatePending, loaded[1].State)
	assert.False(t, loaded[1].Permanent)

	require.NoError(t, store.ClearEntries(ctx))
	loaded, err = store.LoadEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestFrontierSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wikicrawl.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	f, err := frontier.Open(ctx, db.FrontierStore(), frontier.Options{})
	require.NoError(t, err)
	for _, name := range []string{"A", "B"} {
		_, err := f.Enqueue(ctx, crawler.CrawlTarget{URL: "https://wiki.example.org/w/" + name, Kind: crawler.KindEntityPage})
		require.NoError(t, err)
	}
	_, _, err = f.Lease(ctx, crawler.KindEntityPage)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	f2, err := frontier.Open(ctx, reopened.FrontierStore(), frontier.Options{})
	require.NoError(t, err)
	reset, err := f2.Reconcile(ctx, reopened.IndexStore())
	require.NoError(t, err)
	assert.Equal(t, 1, reset)

	entry, ok, err := f2.Lease(ctx, crawler.KindEntityPage)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://wiki.example.org/w/A", entry.URL())
}

func TestIndexStoreUpsertAndQuery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	index := openDB(t).IndexStore()
	require.NoError(t, index.Ping(ctx))

	_, err := index.GetEntity(ctx, "https://wiki.example.org/w/Nobody")
	require.ErrorIs(t, err, crawler.ErrRecordNotFound)

	fetched := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	records := []crawler.EntityRecord{
		{URL: "https://wiki.example.org/w/Zaff", Name: "Zaff", HTMLPath: "html/zaff-1.html", ThumbnailStatus: crawler.ThumbnailNone, StatusCode: 200, FetchedAt: fetched},
		{URL: "https://wiki.example.org/w/Aubury", Name: "Aubury", HTMLPath: "html/aubury-2.html", ThumbnailURL: "https://wiki.example.org/images/Aubury.png", ThumbnailStatus: crawler.ThumbnailFailed, StatusCode: 200, FetchedAt: fetched},
		{URL: "https://wiki.example.org/w/Bob", Name: "Bob", HTMLPath: "html/bob-3.html", ThumbnailStatus: crawler.ThumbnailNone, StatusCode: 200, FetchedAt: fetched},
	}
	for _, record := range records {
		require.NoError(t, index.UpsertEntity(ctx, record))
	}

	updated := records[1]
	updated.ThumbnailStatus = crawler.ThumbnailStored
	updated.ThumbnailPath = "images/aubury-2.png"
	updated.ThumbnailBytes = 1024
	require.NoError(t, index.UpsertEntity(ctx, updated))

	got, err := index.GetEntity(ctx, updated.URL)
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	n, err := index.CountEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	page, err := index.ListEntities(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "Aubury", page[0].Name)
	assert.Equal(t, "Bob", page[1].Name)

	page, err = index.ListEntities(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "Zaff", page[0].Name)

	none, err := index.ListByThumbnailStatus(ctx, crawler.ThumbnailNone)
	require.NoError(t, err)
	assert.Len(t, none, 2)
	failed, err := index.ListByThumbnailStatus(ctx, crawler.ThumbnailFailed)
	require.NoError(t, err)
	assert.Empty(t, failed)
}
