package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		wantKind ErrorKind
		wantHint time.Duration
	}{
		{"nil", nil, "", 0},
		{
			"fetch error with hint",
			&FetchError{Kind: ErrKindRateLimited, URL: "https://wiki.example.org/w/Bob", StatusCode: 429, RetryAfter: 2 * time.Second},
			ErrKindRateLimited,
			2 * time.Second,
		},
		{
			"wrapped fetch error",
			fmt.Errorf("entity: %w", &FetchError{Kind: ErrKindNotFound, StatusCode: 404}),
			ErrKindNotFound,
			0,
		},
		{"parse error", &ParseError{URL: "u", Reason: "no heading"}, ErrKindParse, 0},
		{"storage error", fmt.Errorf("persist: %w", &StorageError{Op: "put", Err: errors.New("disk full")}), ErrKindStorage, 0},
		{"deadline", context.DeadlineExceeded, ErrKindTransient, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			kind, hint := Classify(tc.err)
			assert.Equal(t, tc.wantKind, kind)
			assert.Equal(t, tc.wantHint, hint)
		})
	}
}

func TestErrorKindRetryable(t *testing.T) {
	t.Parallel()

	for _, k := range []ErrorKind{ErrKindTransient, ErrKindRateLimited, ErrKindMalformed} {
		assert.True(t, k.Retryable(), k)
	}
	for _, k := range []ErrorKind{ErrKindNotFound, ErrKindClientError, ErrKindDisallowed, ErrKindParse, ErrKindStorage, ErrKindExhausted} {
		assert.False(t, k.Retryable(), k)
	}
}

func TestErrorMessagesAndUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	fetchErr := &FetchError{Kind: ErrKindTransient, URL: "https://wiki.example.org/w/Bob", Err: cause}
	assert.Equal(t, "fetch https://wiki.example.org/w/Bob: transient_network: connection reset", fetchErr.Error())
	require.ErrorIs(t, fetchErr, cause)

	fetchErr.StatusCode = 503
	assert.Contains(t, fetchErr.Error(), "(status 503)")

	storageErr := &StorageError{Op: "upsert", Err: cause}
	assert.Equal(t, "storage upsert: connection reset", storageErr.Error())
	require.ErrorIs(t, storageErr, cause)

	assert.Equal(t, "parse u: missing listing", (&ParseError{URL: "u", Reason: "missing listing"}).Error())
}
