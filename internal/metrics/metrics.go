// Package metrics exposes Prometheus collectors for the crawler and its index API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	frontierTransitionsTotal   *prometheus.CounterVec
	entitiesPersistedTotal     *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaySeconds      prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wikicrawl_fetches_total",
				Help: "Total number of fetches, labeled by target kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wikicrawl_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by target kind.",
			},
			[]string{"kind"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wikicrawl_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by target kind.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"kind"},
		)

		frontierTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wikicrawl_frontier_transitions_total",
				Help: "Frontier entry transitions, labeled by target kind and new state.",
			},
			[]string{"kind", "state"},
		)

		entitiesPersistedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wikicrawl_entities_persisted_total",
				Help: "Entity records written to the index, labeled by thumbnail status.",
			},
			[]string{"thumbnail"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "wikicrawl_active_workers",
				Help: "Number of workers currently processing a target.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wikicrawl_rate_limit_delay_seconds",
				Help:    "Histogram of time spent waiting on the rate budget.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wikicrawl_http_requests_total",
				Help: "Index API requests, labeled by method, route and status code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wikicrawl_http_request_duration_seconds",
				Help:    "Index API latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records one fetch of the given target kind.
func ObserveFetch(kind, outcome string, bytesFetched int, duration time.Duration) {
	Init()
	fetchesTotal.WithLabelValues(kind, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(kind).Add(float64(bytesFetched))
	}
	if duration > 0 {
		fetchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// ObserveTransition counts a frontier entry moving into state.
func ObserveTransition(kind, state string) {
	Init()
	frontierTransitionsTotal.WithLabelValues(kind, state).Inc()
}

// ObservePersisted counts an entity record written with the given thumbnail status.
func ObservePersisted(thumbnailStatus string) {
	Init()
	entitiesPersistedTotal.WithLabelValues(thumbnailStatus).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate budget wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
