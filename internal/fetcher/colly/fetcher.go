// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
)

const defaultTimeout = 10 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodySize truncates response bodies; zero keeps colly's default.
	MaxBodySize int
}

// Budget gates every outbound request.
type Budget interface {
	Acquire(ctx context.Context) (func(), error)
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	budget        Budget
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. A nil budget disables throttling.
func New(cfg Config, budget Budget) *Fetcher {
	return NewWithTransport(cfg, budget, newHTTPTransport())
}

// NewWithTransport builds a Fetcher that sends requests through transport.
func NewWithTransport(cfg Config, budget Budget, transport http.RoundTripper) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		budget:        budget,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly and classifies the outcome.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := validateURL(request.URL); err != nil {
		return crawler.FetchResponse{}, &crawler.FetchError{Kind: crawler.ErrKindDisallowed, URL: request.URL, Err: err}
	}
	if f.budget != nil {
		release, err := f.budget.Acquire(ctx)
		if err != nil {
			return crawler.FetchResponse{}, &crawler.FetchError{Kind: crawler.ErrKindTransient, URL: request.URL, Err: err}
		}
		defer release()
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx)
	f.configureCollectorHooks(collector, request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return crawler.FetchResponse{}, classifyVisitError(request.URL, err)
	}
	if err := checkResponse(request, result); err != nil {
		return result, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		finalURL := request.URL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		*result = crawler.FetchResponse{
			URL:        request.URL,
			FinalURL:   finalURL,
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// checkResponse maps a completed HTTP exchange onto the failure taxonomy.
func checkResponse(request crawler.FetchRequest, resp crawler.FetchResponse) error {
	code := resp.StatusCode
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return statusError(crawler.ErrKindNotFound, request.URL, code, 0)
	case code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable:
		return statusError(crawler.ErrKindRateLimited, request.URL, code, parseRetryAfter(resp.Headers.Get("Retry-After"), time.Now()))
	case code >= 500:
		return statusError(crawler.ErrKindTransient, request.URL, code, 0)
	case code >= 400:
		return statusError(crawler.ErrKindClientError, request.URL, code, 0)
	case code < 200 || code >= 300:
		return statusError(crawler.ErrKindClientError, request.URL, code, 0)
	}
	if len(resp.Body) == 0 {
		return &crawler.FetchError{
			Kind:       crawler.ErrKindMalformed,
			URL:        request.URL,
			StatusCode: code,
			Err:        errors.New("empty body"),
		}
	}
	if request.Accept != "" && !contentTypeMatches(resp.Headers.Get("Content-Type"), request.Accept) {
		return &crawler.FetchError{
			Kind:       crawler.ErrKindMalformed,
			URL:        request.URL,
			StatusCode: code,
			Err:        fmt.Errorf("content type %q does not match %q", resp.Headers.Get("Content-Type"), request.Accept),
		}
	}
	return nil
}

func statusError(kind crawler.ErrorKind, url string, code int, retryAfter time.Duration) error {
	return &crawler.FetchError{
		Kind:       kind,
		URL:        url,
		StatusCode: code,
		RetryAfter: retryAfter,
		Err:        errors.New(http.StatusText(code)),
	}
}

func classifyVisitError(url string, err error) error {
	kind := crawler.ErrKindTransient
	if errors.Is(err, colly.ErrRobotsTxtBlocked) {
		kind = crawler.ErrKindDisallowed
	}
	return &crawler.FetchError{Kind: kind, URL: url, Err: err}
}

func contentTypeMatches(header, accept string) bool {
	if header == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(header, ";", 2)[0])
	}
	return strings.HasPrefix(strings.ToLower(mediaType), strings.ToLower(accept))
}

// parseRetryAfter accepts either delta-seconds or an HTTP-date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("unsupported url %q", raw)
	}
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
