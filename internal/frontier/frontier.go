// Package frontier tracks the lifecycle of every crawl target: which URLs are
// pending, leased, done or failed. All transitions are serialized by one mutex
// and written through to a Store before they become visible, so a restarted
// crawl resumes from exactly the state it last reported.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikicrawl/internal/clock"
	"github.com/JakeFAU/wikicrawl/internal/crawler"
	"github.com/JakeFAU/wikicrawl/internal/metrics"
)

const defaultRetryCeiling = 5

// Options configures a Frontier.
type Options struct {
	// RetryCeiling is the attempt count at which a failing entry becomes permanent.
	RetryCeiling int
	Clock        crawler.Clock
	Logger       *zap.Logger
}

// Failure describes why a leased entry failed.
type Failure struct {
	Err error
	// Kind defaults to crawler.Classify(Err) when empty.
	Kind crawler.ErrorKind
	// Terminal forces the entry to become permanently failed.
	Terminal bool
	// RetryAt holds the entry back until the given time.
	RetryAt time.Time
}

// Filter restricts which entries of a kind a caller considers, by URL. A nil
// Filter admits every entry.
type Filter func(url string) bool

func (fl Filter) admits(url string) bool {
	return fl == nil || fl(url)
}

// EntityLookup is the slice of crawler.IndexStore used by Reconcile.
type EntityLookup interface {
	GetEntity(ctx context.Context, url string) (crawler.EntityRecord, error)
}

// Frontier is the synchronized lifecycle table of crawl targets.
type Frontier struct {
	mu      sync.Mutex
	store   crawler.FrontierStore
	entries map[string]*crawler.FrontierEntry
	order   map[crawler.TargetKind][]*crawler.FrontierEntry
	nextSeq int64
	changed chan struct{}
	ceiling int
	clock   crawler.Clock
	logger  *zap.Logger
}

// Open loads previously persisted entries from store and returns a Frontier.
func Open(ctx context.Context, store crawler.FrontierStore, opts Options) (*Frontier, error) {
	if store == nil {
		return nil, errors.New("frontier store is required")
	}
	if opts.RetryCeiling <= 0 {
		opts.RetryCeiling = defaultRetryCeiling
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	stored, err := store.LoadEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("load frontier entries: %w", err)
	}
	f := &Frontier{
		store:   store,
		entries: make(map[string]*crawler.FrontierEntry, len(stored)),
		order:   make(map[crawler.TargetKind][]*crawler.FrontierEntry),
		nextSeq: 1,
		changed: make(chan struct{}),
		ceiling: opts.RetryCeiling,
		clock:   opts.Clock,
		logger:  opts.Logger.Named("frontier"),
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Seq < stored[j].Seq })
	for i := range stored {
		entry := stored[i]
		if _, dup := f.entries[entry.URL()]; dup {
			continue
		}
		f.insertLocked(&entry)
		if entry.Seq >= f.nextSeq {
			f.nextSeq = entry.Seq + 1
		}
	}
	f.logger.Info("frontier opened", zap.Int("entries", len(f.entries)))
	return f, nil
}

// Enqueue adds target as pending unless its canonical URL is already tracked.
// It reports whether a new entry was inserted.
func (f *Frontier) Enqueue(ctx context.Context, target crawler.CrawlTarget) (bool, error) {
	if !target.Kind.Valid() {
		return false, fmt.Errorf("enqueue %s: invalid kind %q", target.URL, target.Kind)
	}
	canonical, err := crawler.CanonicalURL(target.URL)
	if err != nil {
		return false, fmt.Errorf("enqueue: %w", err)
	}
	target.URL = canonical

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.entries[canonical]; exists {
		return false, nil
	}
	if target.DiscoveredAt.IsZero() {
		target.DiscoveredAt = f.clock.Now()
	}
	entry := crawler.FrontierEntry{
		Target: target,
		State:  crawler.StatePending,
		Seq:    f.nextSeq,
	}
	if err := f.store.SaveEntry(ctx, entry); err != nil {
		return false, fmt.Errorf("persist enqueue %s: %w", canonical, err)
	}
	f.nextSeq++
	f.insertLocked(&entry)
	f.notifyLocked()
	metrics.ObserveTransition(string(target.Kind), string(crawler.StatePending))
	return true, nil
}

// Lease hands out the oldest entry of kind that is pending or retry-eligible,
// marking it in_progress. ok is false when nothing is eligible right now.
func (f *Frontier) Lease(ctx context.Context, kind crawler.TargetKind) (crawler.FrontierEntry, bool, error) {
	return f.LeaseIf(ctx, kind, nil)
}

// LeaseIf is Lease restricted to entries admit accepts. admit runs under the
// frontier lock, in discovery order, only on eligible entries, and the first
// entry it accepts is leased, so admit may record what it accepts.
func (f *Frontier) LeaseIf(ctx context.Context, kind crawler.TargetKind, admit Filter) (crawler.FrontierEntry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()
	for _, entry := range f.order[kind] {
		if entry.State != crawler.StatePending && !entry.RetryEligible(now) {
			continue
		}
		if !admit.admits(entry.URL()) {
			continue
		}
		next := *entry
		next.State = crawler.StateInProgress
		next.LastAttempt = now
		next.NotBefore = time.Time{}
		if err := f.store.SaveEntry(ctx, next); err != nil {
			return crawler.FrontierEntry{}, false, fmt.Errorf("persist lease %s: %w", entry.URL(), err)
		}
		*entry = next
		metrics.ObserveTransition(string(kind), string(crawler.StateInProgress))
		return next, true, nil
	}
	return crawler.FrontierEntry{}, false, nil
}

// MarkDone completes a leased entry. Completing a done entry is a no-op.
func (f *Frontier) MarkDone(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[url]
	if !ok {
		return fmt.Errorf("mark done %s: %w", url, crawler.ErrUnknownURL)
	}
	switch entry.State {
	case crawler.StateDone:
		return nil
	case crawler.StateInProgress:
	default:
		return fmt.Errorf("mark done %s (state %s): %w", url, entry.State, crawler.ErrNotLeased)
	}

	next := *entry
	next.State = crawler.StateDone
	next.Attempts++
	next.NotBefore = time.Time{}
	next.Permanent = false
	if err := f.store.SaveEntry(ctx, next); err != nil {
		return fmt.Errorf("persist done %s: %w", url, err)
	}
	*entry = next
	f.notifyLocked()
	metrics.ObserveTransition(string(next.Target.Kind), string(crawler.StateDone))
	return nil
}

// MarkFailed records a failed attempt on a leased entry. The entry becomes
// permanently failed when the failure is terminal, when a malformed response
// repeats, or when the attempt count reaches the retry ceiling.
func (f *Frontier) MarkFailed(ctx context.Context, url string, failure Failure) error {
	kind := failure.Kind
	if kind == "" {
		kind, _ = crawler.Classify(failure.Err)
	}
	message := ""
	if failure.Err != nil {
		message = failure.Err.Error()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[url]
	if !ok {
		return fmt.Errorf("mark failed %s: %w", url, crawler.ErrUnknownURL)
	}
	if entry.State != crawler.StateInProgress {
		return fmt.Errorf("mark failed %s (state %s): %w", url, entry.State, crawler.ErrNotLeased)
	}

	next := *entry
	next.State = crawler.StateFailed
	next.Attempts++
	next.LastError = message
	next.NotBefore = failure.RetryAt

	terminal := failure.Terminal || !kind.Retryable() ||
		(kind == crawler.ErrKindMalformed && entry.LastErrorKind == crawler.ErrKindMalformed)
	switch {
	case terminal:
		next.Permanent = true
	case next.Attempts >= f.ceiling:
		next.Permanent = true
		next.LastError = fmt.Sprintf("%s after %d attempts: %s", kind, next.Attempts, message)
		kind = crawler.ErrKindExhausted
	}
	next.LastErrorKind = kind
	if next.Permanent {
		next.NotBefore = time.Time{}
	}

	if err := f.store.SaveEntry(ctx, next); err != nil {
		return fmt.Errorf("persist failure %s: %w", url, err)
	}
	*entry = next
	f.notifyLocked()
	metrics.ObserveTransition(string(next.Target.Kind), string(crawler.StateFailed))

	fields := []zap.Field{
		zap.String("url", url),
		zap.String("kind", string(next.Target.Kind)),
		zap.String("error_kind", string(next.LastErrorKind)),
		zap.Int("attempts", next.Attempts),
	}
	if next.Permanent {
		f.logger.Warn("target permanently failed", append(fields, zap.String("error", next.LastError))...)
	} else {
		f.logger.Debug("target failed, will retry", append(fields, zap.Time("not_before", next.NotBefore))...)
	}
	return nil
}

// Drained reports whether no pending, leased or retry-eligible entries of kind remain.
func (f *Frontier) Drained(kind crawler.TargetKind) bool {
	return f.DrainedIf(kind, nil)
}

// DrainedIf is Drained over the entries allow accepts.
func (f *Frontier) DrainedIf(kind crawler.TargetKind, allow Filter) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entry := range f.order[kind] {
		if entry.Outstanding() && allow.admits(entry.URL()) {
			return false
		}
	}
	return true
}

// Wait blocks until the frontier changes, the earliest backoff of kind
// expires, or ctx is done. It returns at once when an entry is leasable or
// nothing of kind is outstanding.
func (f *Frontier) Wait(ctx context.Context, kind crawler.TargetKind) error {
	return f.WaitIf(ctx, kind, nil)
}

// WaitIf is Wait over the entries allow accepts.
func (f *Frontier) WaitIf(ctx context.Context, kind crawler.TargetKind, allow Filter) error {
	f.mu.Lock()
	changed := f.changed
	now := f.clock.Now()
	var (
		wake        time.Time
		hasWake     bool
		outstanding bool
	)
	for _, entry := range f.order[kind] {
		if !entry.Outstanding() || !allow.admits(entry.URL()) {
			continue
		}
		if entry.State == crawler.StatePending || entry.RetryEligible(now) {
			f.mu.Unlock()
			return nil
		}
		outstanding = true
		if entry.State != crawler.StateFailed {
			continue
		}
		if !hasWake || entry.NotBefore.Before(wake) {
			wake = entry.NotBefore
			hasWake = true
		}
	}
	f.mu.Unlock()

	if !outstanding {
		return nil
	}
	var timer <-chan time.Time
	if hasWake {
		t := time.NewTimer(wake.Sub(now))
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("frontier wait: %w", ctx.Err())
	case <-changed:
		return nil
	case <-timer:
		return nil
	}
}

// Reconcile repairs state left by an interrupted run: in_progress entries go
// back to pending, and done entity entries without an index record are
// re-queued. It returns the number of entries reset.
func (f *Frontier) Reconcile(ctx context.Context, index EntityLookup) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	reset := 0
	for _, entry := range f.sortedLocked() {
		requeue := entry.State == crawler.StateInProgress
		if !requeue && index != nil && entry.State == crawler.StateDone && entry.Target.Kind == crawler.KindEntityPage {
			_, err := index.GetEntity(ctx, entry.URL())
			switch {
			case errors.Is(err, crawler.ErrRecordNotFound):
				requeue = true
			case err != nil:
				return reset, fmt.Errorf("reconcile lookup %s: %w", entry.URL(), err)
			}
		}
		if !requeue {
			continue
		}
		next := *entry
		next.State = crawler.StatePending
		if err := f.store.SaveEntry(ctx, next); err != nil {
			return reset, fmt.Errorf("persist reconcile %s: %w", entry.URL(), err)
		}
		*entry = next
		reset++
	}
	if reset > 0 {
		f.notifyLocked()
		f.logger.Info("frontier reconciled", zap.Int("reset", reset))
	}
	return reset, nil
}

// Get returns a copy of the entry for url.
func (f *Frontier) Get(url string) (crawler.FrontierEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[url]
	if !ok {
		return crawler.FrontierEntry{}, false
	}
	return *entry, true
}

// Stats counts entries per kind, category pages first.
func (f *Frontier) Stats() []crawler.FrontierStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	kinds := []crawler.TargetKind{crawler.KindCategoryPage, crawler.KindEntityPage}
	out := make([]crawler.FrontierStats, 0, len(kinds))
	for _, kind := range kinds {
		stats := crawler.FrontierStats{Kind: kind}
		for _, entry := range f.order[kind] {
			switch {
			case entry.State == crawler.StatePending:
				stats.Pending++
			case entry.State == crawler.StateInProgress:
				stats.InProgress++
			case entry.State == crawler.StateDone:
				stats.Done++
			case entry.Permanent:
				stats.PermanentlyFailed++
			default:
				stats.RetryWaiting++
			}
		}
		out = append(out, stats)
	}
	return out
}

// Failures lists permanently failed entries of kind in discovery order.
// An empty kind lists every kind.
func (f *Frontier) Failures(kind crawler.TargetKind) []crawler.FailedTarget {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []crawler.FailedTarget
	for _, entry := range f.sortedLocked() {
		if kind != "" && entry.Target.Kind != kind {
			continue
		}
		if entry.State != crawler.StateFailed || !entry.Permanent {
			continue
		}
		out = append(out, crawler.FailedTarget{
			URL:       entry.URL(),
			Kind:      entry.Target.Kind,
			ErrorKind: entry.LastErrorKind,
			Error:     entry.LastError,
			Attempts:  entry.Attempts,
		})
	}
	return out
}

// RequeueFailed returns permanently failed entries of kind to pending with a
// fresh attempt budget. It returns the number of entries requeued.
func (f *Frontier) RequeueFailed(ctx context.Context, kind crawler.TargetKind) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	requeued := 0
	for _, entry := range f.order[kind] {
		if entry.State != crawler.StateFailed || !entry.Permanent {
			continue
		}
		next := *entry
		next.State = crawler.StatePending
		next.Permanent = false
		next.Attempts = 0
		next.LastError = ""
		next.LastErrorKind = ""
		next.NotBefore = time.Time{}
		if err := f.store.SaveEntry(ctx, next); err != nil {
			return requeued, fmt.Errorf("persist requeue %s: %w", entry.URL(), err)
		}
		*entry = next
		requeued++
	}
	if requeued > 0 {
		f.notifyLocked()
	}
	return requeued, nil
}

// Reset forgets every entry, in memory and in the store.
func (f *Frontier) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.store.ClearEntries(ctx); err != nil {
		return fmt.Errorf("clear frontier: %w", err)
	}
	f.entries = make(map[string]*crawler.FrontierEntry)
	f.order = make(map[crawler.TargetKind][]*crawler.FrontierEntry)
	f.nextSeq = 1
	f.notifyLocked()
	return nil
}

func (f *Frontier) insertLocked(entry *crawler.FrontierEntry) {
	f.entries[entry.URL()] = entry
	f.order[entry.Target.Kind] = append(f.order[entry.Target.Kind], entry)
}

// notifyLocked wakes every goroutine blocked in Wait.
func (f *Frontier) notifyLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}

func (f *Frontier) sortedLocked() []*crawler.FrontierEntry {
	out := make([]*crawler.FrontierEntry, 0, len(f.entries))
	for _, entry := range f.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
