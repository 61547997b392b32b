// Package api hosts the read-only HTTP interface over the entity index and
// the crawl frontier. Notable routes:
//   - GET /healthz and /readyz for probes; readyz pings the index.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/entities, /v1/entities/count and /v1/entities/lookup?url=.
//   - GET /v1/frontier for state counts and permanently failed targets.
package api
