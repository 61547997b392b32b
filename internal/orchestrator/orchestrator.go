// Package orchestrator drives a crawl run: startup checks, category
// discovery, the entity fetch pool, optional thumbnail repair, and the final
// summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikicrawl/internal/clock"
	"github.com/JakeFAU/wikicrawl/internal/crawler"
	"github.com/JakeFAU/wikicrawl/internal/dispatcher"
	"github.com/JakeFAU/wikicrawl/internal/frontier"
	"github.com/JakeFAU/wikicrawl/internal/policy/scope"
	"github.com/JakeFAU/wikicrawl/internal/worker"
	"github.com/JakeFAU/wikicrawl/internal/writer"
)

const defaultWorkers = 4

// Config controls one crawl run.
type Config struct {
	RootURL string
	Workers int
	// MaxDiscoveryPages caps category pages fetched this run; 0 is unlimited.
	MaxDiscoveryPages int
	// MaxEntities caps entity pages processed this run; 0 is unlimited.
	MaxEntities      int
	RepairThumbnails bool
}

// Deps are the long-lived services a run drives.
type Deps struct {
	Frontier *frontier.Frontier
	Fetcher  crawler.Fetcher
	Parser   crawler.Parser
	Writer   *writer.Writer
	Blobs    crawler.BlobStore
	Index    crawler.IndexStore
	Retry    crawler.RetryPolicy
	Clock    crawler.Clock
	IDs      crawler.IDGenerator
}

// Summary is the operator-facing result of a run.
type Summary struct {
	RunID              string                 `json:"run_id"`
	StartedAt          time.Time              `json:"started_at"`
	Elapsed            time.Duration          `json:"elapsed"`
	Reconciled         int                    `json:"reconciled"`
	CategoryPages      int                    `json:"category_pages"`
	EntitiesDone       int                    `json:"entities_done"`
	ThumbnailsRepaired int                    `json:"thumbnails_repaired"`
	StillPending       int                    `json:"still_pending"`
	PermanentlyFailed  []crawler.FailedTarget `json:"permanently_failed"`
	Interrupted        bool                   `json:"interrupted"`
}

// Orchestrator runs the two-phase crawl.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New validates the configuration and returns an Orchestrator.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	root, err := crawler.CanonicalURL(cfg.RootURL)
	if err != nil {
		return nil, fmt.Errorf("root url: %w", err)
	}
	cfg.RootURL = root
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	switch {
	case deps.Frontier == nil:
		return nil, errors.New("frontier is required")
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Parser == nil:
		return nil, errors.New("parser is required")
	case deps.Writer == nil:
		return nil, errors.New("writer is required")
	case deps.Blobs == nil:
		return nil, errors.New("blob store is required")
	case deps.Index == nil:
		return nil, errors.New("index store is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps, logger: logger.Named("orchestrator")}, nil
}

// Run executes one crawl. It returns an error only for startup failures, an
// unreachable root, or frontier persistence failures; per-target failures are
// reported in the Summary.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	summary := Summary{StartedAt: o.deps.Clock.Now()}
	if o.deps.IDs != nil {
		id, err := o.deps.IDs.NewID()
		if err != nil {
			return summary, fmt.Errorf("generate run id: %w", err)
		}
		summary.RunID = id
	}
	logger := o.logger.With(zap.String("run_id", summary.RunID))
	logger.Info("crawl starting",
		zap.String("root_url", o.cfg.RootURL),
		zap.Int("workers", o.cfg.Workers),
		zap.Int("max_discovery_pages", o.cfg.MaxDiscoveryPages),
		zap.Int("max_entities", o.cfg.MaxEntities),
	)

	if err := o.deps.Blobs.CheckWritable(ctx); err != nil {
		return summary, fmt.Errorf("output storage not writable: %w", err)
	}
	reset, err := o.deps.Frontier.Reconcile(ctx, o.deps.Index)
	if err != nil {
		return summary, fmt.Errorf("reconcile frontier: %w", err)
	}
	summary.Reconciled = reset

	if err := o.discover(ctx, logger); err != nil {
		return o.finish(ctx, summary), err
	}
	if ctx.Err() == nil {
		if err := o.fetchEntities(ctx, logger); err != nil {
			return o.finish(ctx, summary), err
		}
	}
	if o.cfg.RepairThumbnails && ctx.Err() == nil {
		repaired, err := o.repairThumbnails(ctx, logger)
		if err != nil {
			logger.Warn("thumbnail repair incomplete", zap.Error(err))
		}
		summary.ThumbnailsRepaired = repaired
	}

	summary = o.finish(ctx, summary)
	logger.Info("crawl finished",
		zap.Duration("elapsed", summary.Elapsed),
		zap.Int("category_pages", summary.CategoryPages),
		zap.Int("entities_done", summary.EntitiesDone),
		zap.Int("permanently_failed", len(summary.PermanentlyFailed)),
		zap.Int("still_pending", summary.StillPending),
		zap.Bool("interrupted", summary.Interrupted),
	)
	return summary, nil
}

func (o *Orchestrator) discover(ctx context.Context, logger *zap.Logger) error {
	if _, err := o.deps.Frontier.Enqueue(ctx, crawler.CrawlTarget{
		URL:       o.cfg.RootURL,
		Kind:      crawler.KindCategoryPage,
		PageIndex: 0,
	}); err != nil {
		return fmt.Errorf("enqueue root: %w", err)
	}

	logger.Info("discovery phase starting")
	deps := o.workerDeps(worker.NewQuota(o.cfg.MaxDiscoveryPages))
	if err := worker.New(0, crawler.KindCategoryPage, deps, o.logger).Run(ctx); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}

	root, ok := o.deps.Frontier.Get(o.cfg.RootURL)
	if ok && root.State == crawler.StateFailed && root.Permanent {
		return fmt.Errorf("%w: %s (%s)", crawler.ErrRootUnreachable, root.LastError, root.LastErrorKind)
	}
	logger.Info("discovery phase finished", zap.Any("frontier", o.deps.Frontier.Stats()))
	return nil
}

func (o *Orchestrator) fetchEntities(ctx context.Context, logger *zap.Logger) error {
	logger.Info("fetch phase starting", zap.Int("workers", o.cfg.Workers))
	deps := o.workerDeps(worker.NewQuota(o.cfg.MaxEntities))
	runners := make([]dispatcher.Runner, o.cfg.Workers)
	for i := range runners {
		runners[i] = worker.New(i+1, crawler.KindEntityPage, deps, o.logger)
	}
	if err := dispatcher.New(runners).Run(ctx); err != nil {
		return fmt.Errorf("fetch phase: %w", err)
	}
	return nil
}

// repairThumbnails re-fetches thumbnails for records whose image could not
// be stored on an earlier attempt.
func (o *Orchestrator) repairThumbnails(ctx context.Context, logger *zap.Logger) (int, error) {
	records, err := o.deps.Index.ListByThumbnailStatus(ctx, crawler.ThumbnailFailed)
	if err != nil {
		return 0, fmt.Errorf("list failed thumbnails: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	logger.Info("repairing thumbnails", zap.Int("records", len(records)))

	fetcher := worker.New(0, crawler.KindEntityPage, o.workerDeps(nil), o.logger)
	repaired := 0
	for _, record := range records {
		if ctx.Err() != nil {
			break
		}
		if record.ThumbnailURL == "" {
			continue
		}
		img, err := fetcher.FetchThumbnail(ctx, record.ThumbnailURL)
		if err != nil {
			logger.Debug("thumbnail still unavailable", zap.String("url", record.URL), zap.Error(err))
			continue
		}
		if _, err := o.deps.Writer.PersistThumbnail(ctx, record, img); err != nil {
			logger.Warn("thumbnail repair write failed", zap.String("url", record.URL), zap.Error(err))
			continue
		}
		repaired++
	}
	return repaired, nil
}

func (o *Orchestrator) workerDeps(quota *worker.Quota) worker.Deps {
	return worker.Deps{
		Frontier: o.deps.Frontier,
		Fetcher:  o.deps.Fetcher,
		Parser:   o.deps.Parser,
		Writer:   o.deps.Writer,
		Retry:    o.deps.Retry,
		Clock:    o.deps.Clock,
		Scope:    scope.New(o.cfg.RootURL),
		Quota:    quota,
	}
}

func (o *Orchestrator) finish(ctx context.Context, summary Summary) Summary {
	summary.Elapsed = o.deps.Clock.Now().Sub(summary.StartedAt)
	for _, stats := range o.deps.Frontier.Stats() {
		outstanding := stats.Pending + stats.InProgress + stats.RetryWaiting
		switch stats.Kind {
		case crawler.KindCategoryPage:
			summary.CategoryPages = stats.Done
		case crawler.KindEntityPage:
			summary.EntitiesDone = stats.Done
		}
		summary.StillPending += outstanding
	}
	summary.PermanentlyFailed = o.deps.Frontier.Failures("")
	summary.Interrupted = ctx.Err() != nil
	return summary
}
