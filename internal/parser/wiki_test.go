package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
)

const base = "https://oldschool.runescape.wiki"

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func TestParseCategoryPage(t *testing.T) {
	t.Parallel()

	page, err := New().ParseCategoryPage(readFixture(t, "category_page1.html"), base+"/w/Category:Non-player_characters")
	require.NoError(t, err)

	urls := make([]string, 0, len(page.Entities))
	for _, link := range page.Entities {
		urls = append(urls, link.URL)
	}
	assert.Equal(t, []string{
		base + "/w/50%25_Luke",
		base + "/w/Abyssal_guardian_%28Guardians_of_the_Rift%29",
		base + "/w/Aubury",
	}, urls, "subcategory links are skipped and fragments dedupe")
	assert.Equal(t, "50% Luke", page.Entities[0].Name)
	assert.Equal(t, base+"/w/Category:Non-player_characters?pagefrom=Cook", page.NextPageURL)
}

func TestParseCategoryLastPage(t *testing.T) {
	t.Parallel()

	page, err := New().ParseCategoryPage(readFixture(t, "category_last.html"), base+"/w/Category:Non-player_characters?pagefrom=Cook")
	require.NoError(t, err)
	require.Len(t, page.Entities, 1)
	assert.Equal(t, base+"/w/Zaff", page.Entities[0].URL)
	assert.Empty(t, page.NextPageURL)
}

func TestParseCategoryFallsBackToLastListing(t *testing.T) {
	t.Parallel()

	html := []byte(`<html><body>
<div class="mw-category"><ul><li><a href="/w/Category:Sub">Sub</a></li></ul></div>
<div class="mw-category"><ul><li><a href="/w/Bob">Bob</a></li></ul></div>
</body></html>`)
	page, err := New().ParseCategoryPage(html, base+"/w/Category:X")
	require.NoError(t, err)
	require.Len(t, page.Entities, 1)
	assert.Equal(t, crawler.Link{Name: "Bob", URL: base + "/w/Bob"}, page.Entities[0])
}

func TestParseCategoryRejectsUnexpectedTemplate(t *testing.T) {
	t.Parallel()

	_, err := New().ParseCategoryPage([]byte("<html><body><p>maintenance</p></body></html>"), base+"/w/Category:X")
	var parseErr *crawler.ParseError
	require.ErrorAs(t, err, &parseErr)
	kind, _ := crawler.Classify(err)
	assert.Equal(t, crawler.ErrKindParse, kind)
}

func TestParseEntityPageWithThumbnail(t *testing.T) {
	t.Parallel()

	page, err := New().ParseEntityPage(readFixture(t, "entity_with_thumb.html"), base+"/w/Aubury")
	require.NoError(t, err)
	assert.Equal(t, "Aubury", page.Name)
	assert.Equal(t, base+"/images/Aubury.png", page.ThumbnailURL)
}

func TestParseEntityPageWithoutThumbnail(t *testing.T) {
	t.Parallel()

	page, err := New().ParseEntityPage(readFixture(t, "entity_no_thumb.html"), base+"/w/50%25_Luke")
	require.NoError(t, err)
	assert.Equal(t, "50% Luke", page.Name, "name falls back to the URL title")
	assert.Empty(t, page.ThumbnailURL)
}

func TestParseEntityPageRejectsUnexpectedTemplate(t *testing.T) {
	t.Parallel()

	_, err := New().ParseEntityPage([]byte("<html><body>rate limited</body></html>"), base+"/w/Bob")
	var parseErr *crawler.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestThumbnailURL(t *testing.T) {
	t.Parallel()

	got, ok := thumbnailURL(base+"/w/Bob", "/w/File:Abyssal_guardian_(Guardians_of_the_Rift).png")
	require.True(t, ok)
	assert.Equal(t, base+"/images/Abyssal_guardian_%28Guardians_of_the_Rift%29.png", got)

	got, ok = thumbnailURL(base+"/w/Bob", "/w/File:50%25_Luke.png")
	require.True(t, ok)
	assert.Equal(t, base+"/images/50%25_Luke.png", got)

	_, ok = thumbnailURL(base+"/w/Bob", "/w/Bob")
	assert.False(t, ok)
	_, ok = thumbnailURL(base+"/w/Bob", "/w/File:")
	assert.False(t, ok)
}
