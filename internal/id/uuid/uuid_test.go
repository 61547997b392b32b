package uuid

import (
	"testing"

	googleuuid "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
)

var _ crawler.IDGenerator = (*Generator)(nil)

func TestRunIDsAreUniqueAndSortByStartTime(t *testing.T) {
	t.Parallel()

	gen := New()
	ids := make([]string, 0, 16)
	for range 16 {
		id, err := gen.NewID()
		require.NoError(t, err)
		ids = append(ids, id)
	}

	seen := map[string]bool{}
	for i, id := range ids {
		parsed, err := googleuuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, googleuuid.Version(7), parsed.Version())
		assert.False(t, seen[id], "duplicate run id %s", id)
		seen[id] = true
		if i > 0 {
			assert.Less(t, ids[i-1], id)
		}
	}
}
