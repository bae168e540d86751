package authorization

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/asakaida/rowguard/internal/entities"
	"github.com/asakaida/rowguard/pkg/cache"
	"github.com/asakaida/rowguard/pkg/cache/memorycache"
)

// DefaultCacheTTL is how long a resolved policy stays cached
const DefaultCacheTTL = 300 * time.Second

// groupsKeySuffix marks the cache entry holding a user's group memberships
const groupsKeySuffix = "__groups__"

// anonymousUser stands in for the empty user ID in cache keys
const anonymousUser = "__anonymous__"

// PermissionCache caches resolved policies under "{user}:{collection}:{operation}"
// and group memberships under "{user}:__groups__".
type PermissionCache struct {
	store  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewPermissionCache wraps store. A nil store gets an unbounded in-memory
// cache, and a non-positive ttl uses DefaultCacheTTL.
func NewPermissionCache(store cache.Cache, ttl time.Duration, logger *zap.Logger) *PermissionCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store, _ = memorycache.New(&memorycache.Config{DefaultTTL: ttl, EnableMetrics: true})
	}
	return &PermissionCache{store: store, ttl: ttl, logger: logger}
}

// CacheKey returns the key a policy is cached under
func CacheKey(userID, collection string, op entities.Operation) string {
	return userKey(userID) + ":" + collection + ":" + string(op)
}

func userKey(userID string) string {
	if userID == "" {
		return anonymousUser
	}
	return userID
}

// TTL returns the lifetime of new entries
func (c *PermissionCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached policy. An expired entry is a miss and is evicted.
func (c *PermissionCache) Get(ctx context.Context, userID, collection string, op entities.Operation) (*Policy, bool) {
	v, ok := c.store.Get(ctx, CacheKey(userID, collection, op))
	if !ok {
		return nil, false
	}
	p, ok := v.(*Policy)
	return p, ok
}

// Set caches a policy for the configured TTL
func (c *PermissionCache) Set(ctx context.Context, userID, collection string, op entities.Operation, policy *Policy) {
	if err := c.store.Set(ctx, CacheKey(userID, collection, op), policy, c.ttl); err != nil {
		c.logger.Warn("failed to cache policy", zap.String("collection", collection), zap.Error(err))
	}
}

// Groups returns cached group memberships
func (c *PermissionCache) Groups(ctx context.Context, userID string) ([]string, bool) {
	v, ok := c.store.Get(ctx, userKey(userID)+":"+groupsKeySuffix)
	if !ok {
		return nil, false
	}
	groups, ok := v.([]string)
	return groups, ok
}

// SetGroups caches group memberships
func (c *PermissionCache) SetGroups(ctx context.Context, userID string, groups []string) {
	cp := append([]string(nil), groups...)
	if err := c.store.Set(ctx, userKey(userID)+":"+groupsKeySuffix, cp, c.ttl); err != nil {
		c.logger.Warn("failed to cache groups", zap.String("user_id", userID), zap.Error(err))
	}
}

// InvalidateUser removes every entry of the user, group memberships included
func (c *PermissionCache) InvalidateUser(ctx context.Context, userID string) int {
	prefix := userKey(userID) + ":"
	n, _ := c.store.DeleteFunc(ctx, func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
	c.logger.Debug("invalidated user", zap.String("user_id", userID), zap.Int("removed", n))
	return n
}

// InvalidateCollection removes every entry containing ":{collection}:"
func (c *PermissionCache) InvalidateCollection(ctx context.Context, collection string) int {
	infix := ":" + collection + ":"
	n, _ := c.store.DeleteFunc(ctx, func(key string) bool {
		return strings.Contains(key, infix)
	})
	c.logger.Debug("invalidated collection", zap.String("collection", collection), zap.Int("removed", n))
	return n
}

// InvalidateAll clears the cache
func (c *PermissionCache) InvalidateAll(ctx context.Context) {
	_ = c.store.Clear(ctx)
	c.logger.Debug("invalidated all cached policies")
}

// CleanupExpired sweeps expired entries and returns how many were removed
func (c *PermissionCache) CleanupExpired(ctx context.Context) int {
	n, _ := c.store.CleanupExpired(ctx)
	return n
}

// Size returns the number of entries held
func (c *PermissionCache) Size() int {
	return c.store.Len()
}

// Metrics returns hit and miss statistics of the underlying store
func (c *PermissionCache) Metrics() *cache.Metrics {
	return c.store.Metrics()
}

// RunCleanup sweeps expired entries every interval until ctx is done
func (c *PermissionCache) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.CleanupExpired(ctx); n > 0 {
				c.logger.Debug("removed expired cache entries", zap.Int("removed", n))
			}
		}
	}
}
