// Package cache provides XRPC response caching with a Redis backend.
//
// The cache manager implements a two-deadline policy:
//
// - Fresh entries (before the soft deadline) are served without a request
// - Stale entries are revalidated with a conditional request (If-None-Match)
// - Entries past the hard deadline are dropped (Redis TTL)
// - Successful mutations invalidate every entry of the operations they touch
// - Deterministic cache key generation, scoped by credential identity
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create cache manager
//	manager := cache.NewManager(redisClient)
//
//	// Key for a descriptor as seen by an anonymous caller
//	d, _ := actor.GetProfile("alice.bsky.social")
//	key := cache.KeyFor(d, "")
//
//	// Get from cache
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// Cache miss - fetch from the service
//	}
//
// # Storing Responses
//
//	entry := cache.EntryFromResponse(resp, cache.DefaultPolicy())
//	if err := manager.Set(ctx, key, entry); err != nil {
//		return err
//	}
//
// # Conditional Requests
//
//	if entry.IsStale() && cache.ShouldMakeConditionalRequest(entry) {
//		cache.AddConditionalHeaders(req, entry)
//		// A 304 answer is followed by manager.Refresh
//	}
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - xrpc_cache_hits_total{freshness} - Cache hits (fresh, stale)
//   - xrpc_cache_misses_total - Cache misses
//   - xrpc_cache_stored_bytes_total - Bytes written
//   - xrpc_conditional_requests_total - Revalidation requests sent
//   - xrpc_304_responses_total - Conditional request successes
//   - xrpc_cache_invalidations_total{operation} - Entries dropped by mutations
//   - xrpc_cache_errors_total{operation} - Cache operation errors
package cache
