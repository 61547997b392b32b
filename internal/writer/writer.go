// Package writer persists entity artifacts and their index records.
package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikicrawl/internal/clock"
	"github.com/JakeFAU/wikicrawl/internal/crawler"
	"github.com/JakeFAU/wikicrawl/internal/hash/sha256"
	"github.com/JakeFAU/wikicrawl/internal/metrics"
)

const (
	hashPrefixLen   = 12
	maxSlugLen      = 80
	htmlContentType = "text/html; charset=utf-8"
)

// Config controls write retries.
type Config struct {
	// WriteAttempts is the total number of tries per blob or index write.
	WriteAttempts int
	// RetryDelay is the wait after the first failed try; it doubles per try.
	RetryDelay time.Duration
}

// Writer stores entity HTML and thumbnails as blobs and upserts the
// corresponding EntityRecord once the blobs are in place.
type Writer struct {
	blobs  crawler.BlobStore
	index  crawler.IndexStore
	hasher crawler.Hasher
	clock  crawler.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Writer.
func New(blobs crawler.BlobStore, index crawler.IndexStore, cfg Config, logger *zap.Logger) *Writer {
	if cfg.WriteAttempts <= 0 {
		cfg.WriteAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		blobs:  blobs,
		index:  index,
		hasher: sha256.New(),
		clock:  clock.New(),
		cfg:    cfg,
		logger: logger.Named("writer"),
	}
}

// WithClock overrides the clock used to stamp FetchedAt.
func (w *Writer) WithClock(c crawler.Clock) *Writer {
	w.clock = c
	return w
}

// Persist writes html and the optional thumbnail, then upserts the record.
// record must carry URL and Name; the writer fills paths, sizes and the
// content hash. A nil thumbnail keeps record.ThumbnailStatus (none or failed).
func (w *Writer) Persist(ctx context.Context, record crawler.EntityRecord, html, thumbnail []byte) (crawler.EntityRecord, error) {
	if record.URL == "" {
		return crawler.EntityRecord{}, errors.New("persist: record url is required")
	}
	contentHash, err := w.hasher.Hash(html)
	if err != nil {
		return crawler.EntityRecord{}, fmt.Errorf("hash html: %w", err)
	}
	record.ContentHash = contentHash
	record.HTMLBytes = int64(len(html))
	record.HTMLPath = HTMLPath(record.Name, record.URL)
	if record.FetchedAt.IsZero() {
		record.FetchedAt = w.clock.Now().UTC()
	}
	if record.ThumbnailStatus == "" {
		record.ThumbnailStatus = crawler.ThumbnailNone
	}

	if err := w.putBlob(ctx, record.HTMLPath, htmlContentType, html); err != nil {
		return crawler.EntityRecord{}, err
	}
	if thumbnail != nil {
		record = w.withThumbnail(ctx, record, thumbnail)
	}
	if err := w.upsert(ctx, record); err != nil {
		return crawler.EntityRecord{}, err
	}
	return record, nil
}

// PersistThumbnail stores a thumbnail for an existing record and upserts it.
func (w *Writer) PersistThumbnail(ctx context.Context, record crawler.EntityRecord, thumbnail []byte) (crawler.EntityRecord, error) {
	if record.ThumbnailURL == "" {
		return crawler.EntityRecord{}, errors.New("persist thumbnail: record has no thumbnail url")
	}
	record.ThumbnailStatus = crawler.ThumbnailNone
	record = w.withThumbnail(ctx, record, thumbnail)
	if record.ThumbnailStatus != crawler.ThumbnailStored {
		return crawler.EntityRecord{}, &crawler.StorageError{Op: "put thumbnail", Err: errors.New("thumbnail write failed")}
	}
	if err := w.upsert(ctx, record); err != nil {
		return crawler.EntityRecord{}, err
	}
	return record, nil
}

// withThumbnail writes the image. A failed image write degrades the record
// to ThumbnailFailed instead of failing the whole entity.
func (w *Writer) withThumbnail(ctx context.Context, record crawler.EntityRecord, thumbnail []byte) crawler.EntityRecord {
	thumbPath := ThumbnailPath(record.Name, record.URL, record.ThumbnailURL)
	if err := w.putBlob(ctx, thumbPath, imageContentType(thumbPath), thumbnail); err != nil {
		w.logger.Warn("thumbnail write failed",
			zap.String("url", record.URL),
			zap.String("path", thumbPath),
			zap.Error(err),
		)
		record.ThumbnailStatus = crawler.ThumbnailFailed
		record.ThumbnailPath = ""
		record.ThumbnailBytes = 0
		return record
	}
	record.ThumbnailStatus = crawler.ThumbnailStored
	record.ThumbnailPath = thumbPath
	record.ThumbnailBytes = int64(len(thumbnail))
	return record
}

func (w *Writer) putBlob(ctx context.Context, blobPath, contentType string, data []byte) error {
	err := w.retry(ctx, "put "+blobPath, func() error {
		_, err := w.blobs.PutObject(ctx, blobPath, contentType, bytes.NewReader(data))
		return err //nolint:wrapcheck // wrapped by retry
	})
	if err != nil {
		return &crawler.StorageError{Op: "put " + blobPath, Err: err}
	}
	return nil
}

func (w *Writer) upsert(ctx context.Context, record crawler.EntityRecord) error {
	err := w.retry(ctx, "upsert "+record.URL, func() error {
		return w.index.UpsertEntity(ctx, record) //nolint:wrapcheck // wrapped by retry
	})
	if err != nil {
		return &crawler.StorageError{Op: "upsert " + record.URL, Err: err}
	}
	metrics.ObservePersisted(string(record.ThumbnailStatus))
	w.logger.Debug("entity persisted",
		zap.String("url", record.URL),
		zap.String("html_path", record.HTMLPath),
		zap.String("thumbnail_status", string(record.ThumbnailStatus)),
	)
	return nil
}

func (w *Writer) retry(ctx context.Context, op string, fn func() error) error {
	delay := w.cfg.RetryDelay
	var err error
	for attempt := 1; attempt <= w.cfg.WriteAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == w.cfg.WriteAttempts {
			break
		}
		w.logger.Debug("write failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
		delay *= 2
	}
	return fmt.Errorf("%s after %d attempts: %w", op, w.cfg.WriteAttempts, err)
}

// HTMLPath returns the blob path for an entity's HTML.
func HTMLPath(name, entityURL string) string {
	return fmt.Sprintf("html/%s-%s.html", Slug(name), sha256.Short(entityURL, hashPrefixLen))
}

// ThumbnailPath returns the blob path for an entity's thumbnail. The
// extension comes from the image URL.
func ThumbnailPath(name, entityURL, imageURL string) string {
	return fmt.Sprintf("images/%s-%s%s", Slug(name), sha256.Short(entityURL, hashPrefixLen), imageExt(imageURL))
}

// Slug transliterates name to a lowercase ASCII, dash separated file name
// stem of at most maxSlugLen bytes.
func Slug(name string) string {
	s := slug.Make(name)
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	if s == "" {
		return "entity"
	}
	return s
}

func imageExt(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err != nil {
		return ".img"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if len(ext) < 2 || len(ext) > 6 {
		return ".img"
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ".img"
		}
	}
	return ext
}

func imageContentType(blobPath string) string {
	if ct := mime.TypeByExtension(path.Ext(blobPath)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
