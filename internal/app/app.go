// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikicrawl/internal/clock"
	"github.com/JakeFAU/wikicrawl/internal/config"
	"github.com/JakeFAU/wikicrawl/internal/crawler"
	collyfetcher "github.com/JakeFAU/wikicrawl/internal/fetcher/colly"
	"github.com/JakeFAU/wikicrawl/internal/frontier"
	frontiermem "github.com/JakeFAU/wikicrawl/internal/frontier/memory"
	redisstore "github.com/JakeFAU/wikicrawl/internal/frontier/redis"
	"github.com/JakeFAU/wikicrawl/internal/id/uuid"
	"github.com/JakeFAU/wikicrawl/internal/orchestrator"
	"github.com/JakeFAU/wikicrawl/internal/parser"
	"github.com/JakeFAU/wikicrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/wikicrawl/internal/storage/gcs"
	"github.com/JakeFAU/wikicrawl/internal/storage/local"
	"github.com/JakeFAU/wikicrawl/internal/storage/postgres"
	"github.com/JakeFAU/wikicrawl/internal/storage/sqlite"
	"github.com/JakeFAU/wikicrawl/internal/writer"
)

// App holds the shared services selected by configuration: the frontier
// store, the entity index and the artifact blob store.
type App struct {
	cfg           config.Config
	logger        *zap.Logger
	frontierStore crawler.FrontierStore
	index         crawler.IndexStore
	blobs         crawler.BlobStore
	closers       []func() error
}

// New opens every backend named in cfg. It fails fast if any of them is
// unreachable; already opened backends are closed before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	var db *sqlite.DB
	if a.cfg.UsesSQLite() {
		var err error
		db, err = sqlite.Open(ctx, a.cfg.Index.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.logger.Info("using sqlite", zap.String("path", db.Path()))
	}

	switch a.cfg.Frontier.Backend {
	case config.BackendSQLite:
		a.frontierStore = db.FrontierStore()
	case config.BackendRedis:
		store, err := redisstore.New(ctx, redisstore.Options{
			Addr:     a.cfg.Frontier.RedisAddr,
			Password: a.cfg.Frontier.RedisPassword,
			DB:       a.cfg.Frontier.RedisDB,
			Key:      a.cfg.Frontier.RedisKey,
		})
		if err != nil {
			return fmt.Errorf("open redis frontier: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.frontierStore = store
		a.logger.Info("using redis frontier", zap.String("addr", a.cfg.Frontier.RedisAddr))
	case config.BackendMemory:
		a.logger.Warn("frontier is in-memory; progress will not survive a restart")
		a.frontierStore = frontiermem.NewStore()
	default:
		return fmt.Errorf("unknown frontier backend: %s", a.cfg.Frontier.Backend)
	}

	switch a.cfg.Index.Backend {
	case config.BackendSQLite:
		a.index = db.IndexStore()
	case config.BackendPostgres:
		store, err := postgres.NewIndexStore(ctx, postgres.IndexStoreConfig{
			DSN:             a.cfg.Index.PostgresDSN,
			Table:           a.cfg.Index.PostgresTable,
			MaxConns:        a.cfg.Index.MaxConns,
			MinConns:        a.cfg.Index.MinConns,
			MaxConnLifetime: a.cfg.Index.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("open postgres index: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		a.index = store
		a.logger.Info("using postgres index", zap.String("table", a.cfg.Index.PostgresTable))
	default:
		return fmt.Errorf("unknown index backend: %s", a.cfg.Index.Backend)
	}

	switch a.cfg.Storage.Backend {
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.OutputDir})
		if err != nil {
			return fmt.Errorf("open output dir: %w", err)
		}
		a.blobs = store
		a.logger.Info("writing artifacts locally", zap.String("dir", store.BaseDir()))
	case config.BackendGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.GCSPrefix})
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("open gcs bucket: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.blobs = store
		a.logger.Info("writing artifacts to gcs", zap.String("bucket", a.cfg.Storage.GCSBucket))
	default:
		return fmt.Errorf("unknown storage backend: %s", a.cfg.Storage.Backend)
	}
	return nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// FrontierStore returns the configured frontier persistence backend.
func (a *App) FrontierStore() crawler.FrontierStore {
	return a.frontierStore
}

// Index returns the configured entity index.
func (a *App) Index() crawler.IndexStore {
	return a.index
}

// Blobs returns the configured artifact store.
func (a *App) Blobs() crawler.BlobStore {
	return a.blobs
}

// OpenFrontier loads the frontier from its store.
func (a *App) OpenFrontier(ctx context.Context) (*frontier.Frontier, error) {
	f, err := frontier.Open(ctx, a.frontierStore, frontier.Options{
		RetryCeiling: a.cfg.Crawler.RetryCeiling,
		Logger:       a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open frontier: %w", err)
	}
	return f, nil
}

// Orchestrator assembles a crawl run over f from the configured services.
func (a *App) Orchestrator(f *frontier.Frontier) (*orchestrator.Orchestrator, error) {
	c := a.cfg.Crawler
	budget := ratelimit.New(ratelimit.Config{MinInterval: c.RateInterval, MaxInFlight: c.MaxInFlight})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     c.UserAgent,
		RespectRobots: c.RespectRobots,
		Timeout:       c.RequestTimeout,
		MaxBodySize:   c.MaxBodyBytes,
	}, budget)
	w := writer.New(a.blobs, a.index, writer.Config{WriteAttempts: a.cfg.Storage.WriteAttempts}, a.logger)

	orch, err := orchestrator.New(orchestrator.Config{
		RootURL:           c.RootURL,
		Workers:           c.Workers,
		MaxDiscoveryPages: c.MaxDiscoveryPages,
		MaxEntities:       c.MaxEntities,
		RepairThumbnails:  c.RepairThumbnails,
	}, orchestrator.Deps{
		Frontier: f,
		Fetcher:  fetcher,
		Parser:   parser.New(),
		Writer:   w,
		Blobs:    a.blobs,
		Index:    a.index,
		Retry:    crawler.NewExponentialRetryPolicy(c.BackoffInitial, c.BackoffMax, c.MaxRetryAfter),
		Clock:    clock.New(),
		IDs:      uuid.New(),
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}
	return orch, nil
}

// Close shuts down every opened backend in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
		return err
	}
	return nil
}
