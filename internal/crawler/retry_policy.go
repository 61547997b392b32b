package crawler

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryPolicy computes the wait before the next attempt of a failed target.
type RetryPolicy interface {
	Backoff(attempt int, hint time.Duration) time.Duration
}

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff.
type ExponentialRetryPolicy struct {
	baseDelay     time.Duration
	maxDelay      time.Duration
	maxRetryAfter time.Duration
}

// NewExponentialRetryPolicy builds a policy. Zero values fall back to defaults.
func NewExponentialRetryPolicy(baseDelay, maxDelay, maxRetryAfter time.Duration) *ExponentialRetryPolicy {
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if maxRetryAfter <= 0 {
		maxRetryAfter = 5 * time.Minute
	}
	return &ExponentialRetryPolicy{
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
		maxRetryAfter: maxRetryAfter,
	}
}

// Backoff returns the wait duration after the given (1-based) failed attempt.
// A server-supplied hint wins over the computed delay, capped at maxRetryAfter.
func (p *ExponentialRetryPolicy) Backoff(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return min(hint, p.maxRetryAfter)
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
