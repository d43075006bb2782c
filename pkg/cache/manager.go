package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// scanBatch is the COUNT hint for SCAN during invalidation.
const scanBatch = 100

// Manager handles caching operations with Redis backend.
type Manager struct {
	redis *redis.Client
	group singleflight.Group
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis: redisClient,
	}
}

// Get retrieves a cache entry by key. Stale entries are returned (check
// IsStale); hard-expired entries are deleted and reported as ErrCacheMiss.
//
// Concurrent lookups of the same key share one Redis round trip. Each caller
// receives its own copy of the entry.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	cacheKey := key.String()

	ch := m.group.DoChan(cacheKey, func() (any, error) {
		return m.load(context.WithoutCancel(ctx), cacheKey)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		entry := res.Val.(*Entry)
		if entry.IsStale() {
			CacheHits.WithLabelValues("stale").Inc()
		} else {
			CacheHits.WithLabelValues("fresh").Inc()
		}
		return entry.Clone(), nil
	}
}

func (m *Manager) load(ctx context.Context, cacheKey string) (*Entry, error) {
	data, err := m.redis.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.redis.Del(ctx, cacheKey).Err()
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	return &entry, nil
}

// Set stores a cache entry with a Redis TTL equal to its hard expiry.
// The entry will be automatically removed from Redis when it expires.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		// Already expired, don't cache
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheStoredBytes.Add(float64(len(data)))
	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Refresh revalidates an entry after a 304 Not Modified response: expiries
// are recomputed from header and p, and a new ETag or Last-Modified replaces
// the stored one. The refreshed entry is returned.
func (m *Manager) Refresh(ctx context.Context, key Key, header http.Header, p Policy) (*Entry, error) {
	entry, err := m.load(ctx, key.String())
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			CacheErrors.WithLabelValues("refresh").Inc()
		}
		return nil, err
	}

	now := time.Now()
	entry.SoftExpires, entry.HardExpires = expiries(header, p, now)
	entry.CachedAt = now
	if etag := header.Get("ETag"); etag != "" {
		entry.ETag = etag
	}
	if lastModStr := header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	if err := m.Set(ctx, key, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// InvalidateOperation deletes every entry cached for op, across all
// parameters and principals. It returns the number of keys removed.
func (m *Manager) InvalidateOperation(ctx context.Context, op string) (int, error) {
	removed := 0

	n, err := m.redis.Del(ctx, KeyPrefix+":"+op).Result()
	if err != nil {
		CacheErrors.WithLabelValues("invalidate").Inc()
		return 0, fmt.Errorf("redis del: %w", err)
	}
	removed += int(n)

	var cursor uint64
	for {
		keys, next, err := m.redis.Scan(ctx, cursor, operationPattern(op), scanBatch).Result()
		if err != nil {
			CacheErrors.WithLabelValues("invalidate").Inc()
			return removed, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := m.redis.Del(ctx, keys...).Result()
			if err != nil {
				CacheErrors.WithLabelValues("invalidate").Inc()
				return removed, fmt.Errorf("redis del: %w", err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	Invalidations.WithLabelValues(op).Add(float64(removed))
	return removed, nil
}
