// Package ratelimit implements the process-wide request budget shared by every fetch.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/wikicrawl/internal/metrics"
)

// Config holds rate budget configuration.
type Config struct {
	// MinInterval is the minimum spacing between request starts. Zero disables spacing.
	MinInterval time.Duration
	// MaxInFlight caps concurrent requests. Values below one are treated as one.
	MaxInFlight int
}

// Budget gates outbound requests on both an interval and an in-flight cap.
type Budget struct {
	limiter     *rate.Limiter
	inFlight    *semaphore.Weighted
	maxInFlight int
}

// New creates a Budget.
func New(cfg Config) *Budget {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Budget{
		limiter:     rate.NewLimiter(limit, 1),
		inFlight:    semaphore.NewWeighted(int64(maxInFlight)),
		maxInFlight: maxInFlight,
	}
}

// Acquire blocks until a request may start. The caller must invoke the returned
// release func once the request has finished.
func (b *Budget) Acquire(ctx context.Context) (func(), error) {
	start := time.Now()
	if err := b.inFlight.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("rate budget acquire: %w", err)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		b.inFlight.Release(1)
		return nil, fmt.Errorf("rate budget wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	var once sync.Once
	return func() {
		once.Do(func() { b.inFlight.Release(1) })
	}, nil
}

// MaxInFlight reports the configured concurrency cap.
func (b *Budget) MaxInFlight() int {
	return b.maxInFlight
}
