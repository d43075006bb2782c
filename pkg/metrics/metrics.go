// Package metrics provides the Prometheus registry and scrape handler for the
// XRPC client. Metrics are defined in their respective packages (client,
// cache, ratelimit, worker) and registered via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer used by the XRPC client.
// All metrics are registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler that exposes every registered metric.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - xrpc_rate_limit_remaining (Gauge): Requests remaining in the current window
//   - xrpc_rate_limit_blocks_total (Counter): Requests blocked due to an exhausted quota
//   - xrpc_rate_limit_throttles_total (Counter): Requests throttled due to a low quota
//
// Cache Metrics (pkg/cache):
//   - xrpc_cache_hits_total (Counter): Cache hits
//   - xrpc_cache_misses_total (Counter): Cache misses
//   - xrpc_cache_stored_bytes_total (Counter): Bytes written to the cache
//   - xrpc_conditional_requests_total (Counter): Requests sent with If-None-Match
//   - xrpc_304_responses_total (Counter): 304 Not Modified responses
//   - xrpc_cache_invalidations_total (Counter): Entries dropped after a mutation
//   - xrpc_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - xrpc_requests_total{operation, status} (Counter): Requests by operation and HTTP status
//   - xrpc_request_duration_seconds{operation} (Histogram): Request duration by operation
//   - xrpc_errors_total{class} (Counter): Errors by class
//
// Retry Metrics (pkg/client):
//   - xrpc_retries_total{error_class} (Counter): Retry attempts by error class
//   - xrpc_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - xrpc_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Worker Metrics (pkg/worker):
//   - xrpc_worker_dispatches_total{port} (Counter): Requests received per port
//   - xrpc_worker_exchanges_total (Counter): Network exchanges started
//   - xrpc_worker_coalesced_total (Counter): Requests served by an exchange already in flight
//   - xrpc_worker_abandoned_total (Counter): Requests given up by their caller
//   - xrpc_worker_cancelled_flights_total (Counter): Exchanges cancelled after every waiter left
//   - xrpc_worker_in_flight (Gauge): Exchanges in flight
//   - xrpc_worker_ports (Gauge): Connected ports
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(xrpc_cache_hits_total[5m])) /
//   (sum(rate(xrpc_cache_hits_total[5m])) + sum(rate(xrpc_cache_misses_total[5m])))
//
//   # Coalescing Ratio
//   rate(xrpc_worker_coalesced_total[5m]) / sum(rate(xrpc_worker_dispatches_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(xrpc_request_duration_seconds_bucket[5m]))
//
//   # 304 Response Rate
//   rate(xrpc_304_responses_total[5m]) / sum(rate(xrpc_requests_total[5m]))
