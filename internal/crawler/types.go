package crawler

import (
	"net/http"
	"time"
)

// TargetKind distinguishes category index pages from entity pages.
type TargetKind string

// Target kinds tracked by the frontier.
const (
	KindCategoryPage TargetKind = "category_page"
	KindEntityPage   TargetKind = "entity_page"
)

// Valid reports whether k is a known kind.
func (k TargetKind) Valid() bool {
	return k == KindCategoryPage || k == KindEntityPage
}

// EntryState represents the lifecycle state of a frontier entry.
type EntryState string

// Frontier entry states.
const (
	StatePending    EntryState = "pending"
	StateInProgress EntryState = "in_progress"
	StateDone       EntryState = "done"
	StateFailed     EntryState = "failed"
)

// ThumbnailStatus records what happened to an entity's thumbnail.
type ThumbnailStatus string

// Thumbnail statuses persisted with each EntityRecord.
const (
	ThumbnailNone   ThumbnailStatus = "none"
	ThumbnailStored ThumbnailStatus = "stored"
	ThumbnailFailed ThumbnailStatus = "failed"
)

// CrawlTarget is one unit of work. It is immutable once created.
type CrawlTarget struct {
	URL          string     `json:"url"`
	Kind         TargetKind `json:"kind"`
	PageIndex    int        `json:"page_index"`
	DiscoveredAt time.Time  `json:"discovered_at"`
}

// FrontierEntry is the lifecycle record of a CrawlTarget.
type FrontierEntry struct {
	Target        CrawlTarget `json:"target"`
	State         EntryState  `json:"state"`
	Attempts      int         `json:"attempts"`
	LastError     string      `json:"last_error,omitempty"`
	LastErrorKind ErrorKind   `json:"last_error_kind,omitempty"`
	LastAttempt   time.Time   `json:"last_attempt"`
	// NotBefore holds back a retry-eligible failed entry until its backoff expires.
	NotBefore time.Time `json:"not_before"`
	Permanent bool      `json:"permanent"`
	Seq       int64     `json:"seq"`
}

// URL is shorthand for e.Target.URL.
func (e FrontierEntry) URL() string {
	return e.Target.URL
}

// RetryEligible reports whether a failed entry may be leased again at now.
func (e FrontierEntry) RetryEligible(now time.Time) bool {
	return e.State == StateFailed && !e.Permanent && !now.Before(e.NotBefore)
}

// Outstanding reports whether the entry still represents unresolved work.
func (e FrontierEntry) Outstanding() bool {
	switch e.State {
	case StatePending, StateInProgress:
		return true
	case StateFailed:
		return !e.Permanent
	default:
		return false
	}
}

// EntityRecord is the persisted output for one entity page.
type EntityRecord struct {
	URL             string          `json:"url"`
	Name            string          `json:"name"`
	HTMLPath        string          `json:"html_path"`
	ThumbnailURL    string          `json:"thumbnail_url,omitempty"`
	ThumbnailPath   string          `json:"thumbnail_path,omitempty"`
	ThumbnailStatus ThumbnailStatus `json:"thumbnail_status"`
	ContentHash     string          `json:"content_hash"`
	HTMLBytes       int64           `json:"html_bytes"`
	ThumbnailBytes  int64           `json:"thumbnail_bytes"`
	StatusCode      int             `json:"status_code"`
	FetchedAt       time.Time       `json:"fetched_at"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL string
	// Accept is a Content-Type prefix the response must match, e.g. "text/html".
	Accept string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Link is a named hyperlink extracted from a category page.
type Link struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// CategoryPage is the parsed form of one category index page.
type CategoryPage struct {
	Entities []Link
	// NextPageURL is empty on the last page.
	NextPageURL string
}

// EntityPage is the parsed form of one entity page.
type EntityPage struct {
	Name string
	// ThumbnailURL is empty when the page has no thumbnail.
	ThumbnailURL string
}

// FrontierStats counts frontier entries by kind and state.
type FrontierStats struct {
	Kind              TargetKind `json:"kind"`
	Pending           int        `json:"pending"`
	InProgress        int        `json:"in_progress"`
	Done              int        `json:"done"`
	RetryWaiting      int        `json:"retry_waiting"`
	PermanentlyFailed int        `json:"permanently_failed"`
}

// Total returns the number of entries counted.
func (s FrontierStats) Total() int {
	return s.Pending + s.InProgress + s.Done + s.RetryWaiting + s.PermanentlyFailed
}

// FailedTarget describes a permanently failed target for operator inspection.
type FailedTarget struct {
	URL       string     `json:"url"`
	Kind      TargetKind `json:"kind"`
	ErrorKind ErrorKind  `json:"error_kind"`
	Error     string     `json:"error"`
	Attempts  int        `json:"attempts"`
}
