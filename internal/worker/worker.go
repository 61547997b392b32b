// Package worker implements the per-target crawl pipeline: lease from the
// frontier, fetch, parse, persist, and record the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikicrawl/internal/clock"
	"github.com/JakeFAU/wikicrawl/internal/crawler"
	"github.com/JakeFAU/wikicrawl/internal/frontier"
	"github.com/JakeFAU/wikicrawl/internal/metrics"
)

const (
	htmlAccept  = "text/html"
	imageAccept = "image/"
)

// Frontier is the slice of *frontier.Frontier a worker needs.
type Frontier interface {
	Enqueue(ctx context.Context, target crawler.CrawlTarget) (bool, error)
	LeaseIf(ctx context.Context, kind crawler.TargetKind, admit frontier.Filter) (crawler.FrontierEntry, bool, error)
	MarkDone(ctx context.Context, url string) error
	MarkFailed(ctx context.Context, url string, failure frontier.Failure) error
	DrainedIf(kind crawler.TargetKind, allow frontier.Filter) bool
	WaitIf(ctx context.Context, kind crawler.TargetKind, allow frontier.Filter) error
}

// Persister stores an entity's artifacts and index record.
type Persister interface {
	Persist(ctx context.Context, record crawler.EntityRecord, html, thumbnail []byte) (crawler.EntityRecord, error)
}

// LinkPolicy decides whether a discovered page belongs to the crawl.
type LinkPolicy interface {
	AllowFetch(kind crawler.TargetKind, rawURL string) bool
}

// Deps bundles the collaborators shared by every worker of a run.
type Deps struct {
	Frontier Frontier
	Fetcher  crawler.Fetcher
	Parser   crawler.Parser
	Writer   Persister
	Retry    crawler.RetryPolicy
	Clock    crawler.Clock
	// Scope filters discovered links; nil admits every link.
	Scope LinkPolicy
	// Quota caps how many distinct targets the pool works on; nil means unlimited.
	Quota *Quota
}

// Worker leases targets of one kind and runs them through the pipeline.
type Worker struct {
	id     int
	kind   crawler.TargetKind
	deps   Deps
	logger *zap.Logger
}

// New constructs a Worker for the given target kind.
func New(id int, kind crawler.TargetKind, deps Deps, logger *zap.Logger) *Worker {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Retry == nil {
		deps.Retry = crawler.NewExponentialRetryPolicy(0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:   id,
		kind: kind,
		deps: deps,
		logger: logger.Named("worker").With(
			zap.Int("worker_id", id),
			zap.String("kind", string(kind)),
		),
	}
}

// Run leases and processes targets until every target the quota allows is
// resolved or ctx is done. A leased target is always finished, even after
// cancellation, so no entry is left in_progress by a clean shutdown.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		entry, ok, err := w.deps.Frontier.LeaseIf(ctx, w.kind, w.deps.Quota.Admit)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return fmt.Errorf("lease %s: %w", w.kind, err)
		}
		if !ok {
			if w.deps.Frontier.DrainedIf(w.kind, w.deps.Quota.Allows) {
				w.logger.Debug("nothing left to lease", zap.Stringer("quota", w.deps.Quota))
				return nil
			}
			if err := w.deps.Frontier.WaitIf(ctx, w.kind, w.deps.Quota.Allows); err != nil {
				return nil //nolint:nilerr // cancellation ends the loop cleanly
			}
			continue
		}
		if err := w.Process(context.WithoutCancel(ctx), entry); err != nil {
			return err
		}
	}
}

// Process runs one leased entry through the pipeline and records the outcome
// in the frontier. Only frontier write failures are returned.
func (w *Worker) Process(ctx context.Context, entry crawler.FrontierEntry) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("url", entry.URL()), zap.Int("attempt", entry.Attempts+1))
	logger.Debug("processing target")

	var err error
	switch entry.Target.Kind {
	case crawler.KindCategoryPage:
		err = w.processCategory(ctx, entry)
	case crawler.KindEntityPage:
		err = w.processEntity(ctx, entry)
	default:
		err = fmt.Errorf("unknown target kind %q", entry.Target.Kind)
	}
	if err == nil {
		if markErr := w.deps.Frontier.MarkDone(ctx, entry.URL()); markErr != nil {
			return fmt.Errorf("mark done: %w", markErr)
		}
		logger.Debug("target done")
		return nil
	}

	kind, hint := crawler.Classify(err)
	failure := frontier.Failure{
		Err:  err,
		Kind: kind,
	}
	if kind.Retryable() {
		failure.RetryAt = w.deps.Clock.Now().Add(w.deps.Retry.Backoff(entry.Attempts+1, hint))
	}
	logger.Info("target attempt failed", zap.String("error_kind", string(kind)), zap.Error(err))
	if markErr := w.deps.Frontier.MarkFailed(ctx, entry.URL(), failure); markErr != nil {
		return fmt.Errorf("mark failed: %w", markErr)
	}
	return nil
}

func (w *Worker) processCategory(ctx context.Context, entry crawler.FrontierEntry) error {
	resp, err := w.fetch(ctx, entry.URL(), htmlAccept, crawler.KindCategoryPage)
	if err != nil {
		return err
	}
	page, err := w.deps.Parser.ParseCategoryPage(resp.Body, entry.URL())
	if err != nil {
		return fmt.Errorf("parse category page: %w", err)
	}

	discovered := 0
	for _, link := range page.Entities {
		if !w.allowed(crawler.KindEntityPage, link.URL) {
			continue
		}
		inserted, err := w.deps.Frontier.Enqueue(ctx, crawler.CrawlTarget{
			URL:  link.URL,
			Kind: crawler.KindEntityPage,
		})
		if err != nil {
			if isEnqueueRejection(err) {
				w.logger.Debug("skipping entity link", zap.String("link", link.URL), zap.Error(err))
				continue
			}
			return fmt.Errorf("enqueue entity: %w", err)
		}
		if inserted {
			discovered++
		}
	}
	if page.NextPageURL != "" && w.allowed(crawler.KindCategoryPage, page.NextPageURL) {
		if _, err := w.deps.Frontier.Enqueue(ctx, crawler.CrawlTarget{
			URL:       page.NextPageURL,
			Kind:      crawler.KindCategoryPage,
			PageIndex: entry.Target.PageIndex + 1,
		}); err != nil && !isEnqueueRejection(err) {
			return fmt.Errorf("enqueue next page: %w", err)
		}
	}
	w.logger.Info("category page parsed",
		zap.String("url", entry.URL()),
		zap.Int("page_index", entry.Target.PageIndex),
		zap.Int("links", len(page.Entities)),
		zap.Int("new_entities", discovered),
		zap.Bool("has_next", page.NextPageURL != ""),
	)
	return nil
}

func (w *Worker) allowed(kind crawler.TargetKind, rawURL string) bool {
	if w.deps.Scope == nil || w.deps.Scope.AllowFetch(kind, rawURL) {
		return true
	}
	w.logger.Debug("link out of scope", zap.String("link", rawURL))
	return false
}

func (w *Worker) processEntity(ctx context.Context, entry crawler.FrontierEntry) error {
	resp, err := w.fetch(ctx, entry.URL(), htmlAccept, crawler.KindEntityPage)
	if err != nil {
		return err
	}
	page, err := w.deps.Parser.ParseEntityPage(resp.Body, entry.URL())
	if err != nil {
		return fmt.Errorf("parse entity page: %w", err)
	}

	record := crawler.EntityRecord{
		URL:             entry.URL(),
		Name:            page.Name,
		ThumbnailURL:    page.ThumbnailURL,
		ThumbnailStatus: crawler.ThumbnailNone,
		StatusCode:      resp.StatusCode,
		FetchedAt:       w.deps.Clock.Now().UTC(),
	}
	var thumbnail []byte
	if page.ThumbnailURL != "" {
		thumbnail, err = w.FetchThumbnail(ctx, page.ThumbnailURL)
		if err != nil {
			w.logger.Warn("thumbnail fetch failed",
				zap.String("url", entry.URL()),
				zap.String("thumbnail_url", page.ThumbnailURL),
				zap.Error(err),
			)
			record.ThumbnailStatus = crawler.ThumbnailFailed
		}
	}

	stored, err := w.deps.Writer.Persist(ctx, record, resp.Body, thumbnail)
	if err != nil {
		return fmt.Errorf("persist entity: %w", err)
	}
	w.logger.Info("entity stored",
		zap.String("url", stored.URL),
		zap.String("name", stored.Name),
		zap.String("html_path", stored.HTMLPath),
		zap.String("thumbnail_status", string(stored.ThumbnailStatus)),
	)
	return nil
}

// FetchThumbnail downloads an image. Thumbnail failures never fail the entity.
func (w *Worker) FetchThumbnail(ctx context.Context, imageURL string) ([]byte, error) {
	resp, err := w.fetch(ctx, imageURL, imageAccept, "thumbnail")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (w *Worker) fetch(ctx context.Context, url, accept string, kind crawler.TargetKind) (crawler.FetchResponse, error) {
	start := time.Now()
	resp, err := w.deps.Fetcher.Fetch(ctx, crawler.FetchRequest{URL: url, Accept: accept})
	if err != nil {
		errKind, _ := crawler.Classify(err)
		metrics.ObserveFetch(string(kind), string(errKind), 0, time.Since(start))
		return crawler.FetchResponse{}, fmt.Errorf("fetch: %w", err)
	}
	metrics.ObserveFetch(string(kind), "ok", len(resp.Body), resp.Duration)
	return resp, nil
}

// isEnqueueRejection reports errors caused by the link itself, such as a
// non-http scheme, as opposed to frontier persistence failures.
func isEnqueueRejection(err error) bool {
	return errors.Is(err, crawler.ErrInvalidURL)
}

// Quota caps how many distinct targets a pool may work on. A target is
// charged the first time it is leased; retries of a charged target are free.
type Quota struct {
	mu      sync.Mutex
	limit   int
	charged map[string]struct{}
}

// NewQuota returns a quota of n targets; n <= 0 means unlimited (nil).
func NewQuota(n int) *Quota {
	if n <= 0 {
		return nil
	}
	return &Quota{limit: n, charged: make(map[string]struct{}, n)}
}

// Admit charges url against the quota unless it is already charged. It
// reports false when url is new and the quota is spent. A nil quota admits
// everything.
func (q *Quota) Admit(url string) bool {
	if q == nil {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.charged[url]; ok {
		return true
	}
	if len(q.charged) >= q.limit {
		return false
	}
	q.charged[url] = struct{}{}
	return true
}

// Allows reports whether Admit would accept url, without charging it.
func (q *Quota) Allows(url string) bool {
	if q == nil {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.charged[url]
	return ok || len(q.charged) < q.limit
}

// Used returns how many distinct targets have been charged.
func (q *Quota) Used() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.charged)
}

func (q *Quota) String() string {
	if q == nil {
		return "unlimited"
	}
	return fmt.Sprintf("%d/%d", q.Used(), q.limit)
}
