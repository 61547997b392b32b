package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	entry := crawler.FrontierEntry{
		Target: crawler.CrawlTarget{URL: "https://wiki.example.org/w/Bob", Kind: crawler.KindEntityPage},
		State:  crawler.StatePending,
		Seq:    1,
	}
	require.NoError(t, s.SaveEntry(ctx, entry))
	entry.State = crawler.StateDone
	require.NoError(t, s.SaveEntry(ctx, entry))

	loaded, err := s.LoadEntries(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, crawler.StateDone, loaded[0].State)
	assert.Equal(t, 2, s.Saves())

	require.NoError(t, s.ClearEntries(ctx))
	loaded, err = s.LoadEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
