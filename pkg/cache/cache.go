package cache

import (
	"context"
	"time"
)

// Cache is the interface for TTL-bounded caches of authorization decisions.
// An entry past its expiry is never returned.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns the value and true if found, or nil and false if not found or expired.
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set stores a value in cache with TTL. A non-positive TTL uses the
	// cache's default.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// DeleteFunc removes every entry whose key matches and returns how many
	// were removed.
	DeleteFunc(ctx context.Context, match func(key string) bool) (int, error)

	// Clear removes all entries from cache.
	Clear(ctx context.Context) error

	// CleanupExpired removes expired entries and returns how many were removed.
	CleanupExpired(ctx context.Context) (int, error)

	// Len returns the number of entries currently held, expired or not.
	Len() int

	// Close releases resources held by the cache.
	Close() error

	// Metrics returns cache statistics.
	Metrics() *Metrics
}

// Metrics holds cache performance statistics.
type Metrics struct {
	// Hits is the number of cache hits
	Hits uint64

	// Misses is the number of cache misses
	Misses uint64

	// KeysAdded is the number of keys added to cache
	KeysAdded uint64

	// KeysEvicted is the number of keys evicted to stay under the size limit
	KeysEvicted uint64

	// KeysExpired is the number of keys removed after their TTL passed
	KeysExpired uint64
}

// HitRate returns the cache hit rate (0.0 to 1.0).
func (m *Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0.0
	}
	return float64(m.Hits) / float64(total)
}
