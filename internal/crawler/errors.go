package crawler

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind tags a per-target failure so callers can decide retry vs. terminal.
type ErrorKind string

// Failure kinds recorded on frontier entries.
const (
	ErrKindTransient   ErrorKind = "transient_network"
	ErrKindRateLimited ErrorKind = "rate_limited"
	ErrKindNotFound    ErrorKind = "not_found"
	ErrKindClientError ErrorKind = "client_error"
	ErrKindDisallowed  ErrorKind = "disallowed"
	ErrKindMalformed   ErrorKind = "malformed_response"
	ErrKindParse       ErrorKind = "parse_error"
	ErrKindStorage     ErrorKind = "storage_error"
	ErrKindExhausted   ErrorKind = "retries_exhausted"
)

// Retryable reports whether failures of this kind may be attempted again.
// Malformed responses are retryable exactly once; callers track that.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindTransient, ErrKindRateLimited, ErrKindMalformed:
		return true
	default:
		return false
	}
}

var (
	// ErrRecordNotFound is returned by index stores for unknown URLs.
	ErrRecordNotFound = errors.New("entity record not found")
	// ErrInvalidURL is returned for URLs that cannot be canonicalized.
	ErrInvalidURL = errors.New("invalid crawl url")
	// ErrUnknownURL is returned by the frontier for URLs it does not track.
	ErrUnknownURL = errors.New("url not tracked by frontier")
	// ErrNotLeased is returned when completing an entry that is not in progress.
	ErrNotLeased = errors.New("frontier entry is not in progress")
	// ErrRootUnreachable aborts a run whose root category page could not be fetched.
	ErrRootUnreachable = errors.New("root category page unreachable")
)

// FetchError is the typed failure returned by fetchers.
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	// RetryAfter is the server-supplied delay hint, zero when absent.
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: %s (status %d): %v", e.URL, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError reports a page lacking the structural anchors of the wiki template.
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
}

// StorageError reports an artifact or index write that kept failing.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Classify maps any pipeline error to its ErrorKind and server retry hint.
func Classify(err error) (ErrorKind, time.Duration) {
	var fetchErr *FetchError
	var parseErr *ParseError
	var storageErr *StorageError
	switch {
	case err == nil:
		return "", 0
	case errors.As(err, &fetchErr):
		return fetchErr.Kind, fetchErr.RetryAfter
	case errors.As(err, &parseErr):
		return ErrKindParse, 0
	case errors.As(err, &storageErr):
		return ErrKindStorage, 0
	default:
		// Timeouts, resets and anything unrecognized are treated as transient.
		return ErrKindTransient, 0
	}
}
