package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by freshness ("fresh", "stale")
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xrpc_cache_hits_total",
			Help: "Total number of XRPC cache hits",
		},
		[]string{"freshness"},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xrpc_cache_misses_total",
			Help: "Total number of XRPC cache misses",
		},
	)

	// CacheStoredBytes tracks bytes written to the cache
	CacheStoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xrpc_cache_stored_bytes_total",
			Help: "Total bytes of XRPC responses written to the cache",
		},
	)

	// ConditionalRequestsSent tracks revalidation requests carrying If-None-Match or If-Modified-Since
	ConditionalRequestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xrpc_conditional_requests_total",
			Help: "Total number of conditional XRPC requests sent",
		},
	)

	// NotModifiedResponses tracks 304 Not Modified responses
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xrpc_304_responses_total",
			Help: "Total number of XRPC 304 Not Modified responses",
		},
	)

	// Invalidations tracks entries dropped after a successful mutation
	Invalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xrpc_cache_invalidations_total",
			Help: "Total number of cache entries invalidated by mutations",
		},
		[]string{"operation"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xrpc_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "refresh", "invalidate"
	)
)
