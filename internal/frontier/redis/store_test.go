package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
	"github.com/JakeFAU/wikicrawl/internal/frontier"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New(context.Background(), Options{Addr: mr.Addr(), Key: "test:frontier"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := crawler.FrontierEntry{
		Target: crawler.CrawlTarget{
			URL:          "https://wiki.example.org/w/50%25_Luke",
			Kind:         crawler.KindEntityPage,
			DiscoveredAt: at,
		},
		State:         crawler.StateFailed,
		Attempts:      2,
		LastError:     "connection reset",
		LastErrorKind: crawler.ErrKindTransient,
		LastAttempt:   at,
		NotBefore:     at.Add(time.Minute),
		Seq:           7,
	}
	require.NoError(t, s.SaveEntry(ctx, entry))
	assert.True(t, mr.Exists("test:frontier"))

	loaded, err := s.LoadEntries(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, entry.URL(), loaded[0].URL())
	assert.Equal(t, entry.Attempts, loaded[0].Attempts)
	assert.True(t, entry.NotBefore.Equal(loaded[0].NotBefore))
	assert.Equal(t, entry.LastErrorKind, loaded[0].LastErrorKind)

	require.NoError(t, s.ClearEntries(ctx))
	loaded, err = s.LoadEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestStoreRejectsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)
	mr.HSet("test:frontier", "https://wiki.example.org/w/Bob", "{not json")

	_, err := s.LoadEntries(ctx)
	require.Error(t, err)
}

func TestFrontierResumesFromRedis(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	f, err := frontier.Open(ctx, s, frontier.Options{})
	require.NoError(t, err)
	_, err = f.Enqueue(ctx, crawler.CrawlTarget{URL: "https://wiki.example.org/w/Bob", Kind: crawler.KindEntityPage})
	require.NoError(t, err)
	_, ok, err := f.Lease(ctx, crawler.KindEntityPage)
	require.NoError(t, err)
	require.True(t, ok)

	restarted, err := frontier.Open(ctx, s, frontier.Options{})
	require.NoError(t, err)
	reset, err := restarted.Reconcile(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reset)
	entry, ok := restarted.Get("https://wiki.example.org/w/Bob")
	require.True(t, ok)
	assert.Equal(t, crawler.StatePending, entry.State)
}

func TestNewRequiresAddress(t *testing.T) {
	_, err := New(context.Background(), Options{})
	require.Error(t, err)
}
