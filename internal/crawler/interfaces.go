package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
// Failures are reported as *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Parser extracts structure from wiki pages.
type Parser interface {
	ParseCategoryPage(html []byte, pageURL string) (CategoryPage, error)
	ParseEntityPage(html []byte, pageURL string) (EntityPage, error)
}

// BlobStore writes raw artifacts under relative paths and returns their location.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	// CheckWritable fails when artifacts cannot be written.
	CheckWritable(ctx context.Context) error
}

// IndexStore is the durable, queryable EntityRecord index.
type IndexStore interface {
	UpsertEntity(ctx context.Context, record EntityRecord) error
	GetEntity(ctx context.Context, url string) (EntityRecord, error)
	ListEntities(ctx context.Context, limit, offset int) ([]EntityRecord, error)
	CountEntities(ctx context.Context) (int, error)
	ListByThumbnailStatus(ctx context.Context, status ThumbnailStatus) ([]EntityRecord, error)
	Ping(ctx context.Context) error
}

// FrontierStore persists frontier entries so a crawl survives restarts.
type FrontierStore interface {
	LoadEntries(ctx context.Context) ([]FrontierEntry, error)
	SaveEntry(ctx context.Context, entry FrontierEntry) error
	ClearEntries(ctx context.Context) error
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
