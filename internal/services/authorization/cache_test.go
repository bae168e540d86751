package authorization

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/rowguard/internal/entities"
)

func TestPermissionCache_SetThenGet(t *testing.T) {
	ctx := context.Background()
	c := NewPermissionCache(nil, time.Minute, nil)

	policy := &Policy{Collection: "posts", Operation: entities.OperationView, Rule: entities.Rule("")}
	c.Set(ctx, "u1", "posts", entities.OperationView, policy)

	got, ok := c.Get(ctx, "u1", "posts", entities.OperationView)
	require.True(t, ok)
	assert.Same(t, policy, got)

	_, ok = c.Get(ctx, "u1", "posts", entities.OperationList)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Size())
}

func TestPermissionCache_TTL(t *testing.T) {
	ctx := context.Background()
	c := NewPermissionCache(nil, 50*time.Millisecond, nil)

	c.Set(ctx, "u1", "posts", entities.OperationView, &Policy{})
	_, ok := c.Get(ctx, "u1", "posts", entities.OperationView)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)

	_, ok = c.Get(ctx, "u1", "posts", entities.OperationView)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size(), "expired entry is evicted on read")
}

func TestPermissionCache_DefaultTTL(t *testing.T) {
	c := NewPermissionCache(nil, 0, nil)
	assert.Equal(t, DefaultCacheTTL, c.TTL())
	assert.Equal(t, 300*time.Second, c.TTL())
}

func TestPermissionCache_Keys(t *testing.T) {
	assert.Equal(t, "u1:posts:view", CacheKey("u1", "posts", entities.OperationView))
	assert.Equal(t, "__anonymous__:posts:list", CacheKey("", "posts", entities.OperationList))
}

func seedCache(ctx context.Context, c *PermissionCache) {
	for _, user := range []string{"u1", "u2"} {
		for _, collection := range []string{"posts", "comments"} {
			for _, op := range []entities.Operation{entities.OperationList, entities.OperationView} {
				c.Set(ctx, user, collection, op, &Policy{Collection: collection, Operation: op})
			}
		}
		c.SetGroups(ctx, user, []string{"staff"})
	}
}

func TestPermissionCache_InvalidateUser(t *testing.T) {
	ctx := context.Background()
	c := NewPermissionCache(nil, time.Minute, nil)
	seedCache(ctx, c)
	require.Equal(t, 10, c.Size())

	removed := c.InvalidateUser(ctx, "u1")
	assert.Equal(t, 5, removed, "four policies and the group entry")
	assert.Equal(t, 5, c.Size())

	_, ok := c.Get(ctx, "u1", "posts", entities.OperationView)
	assert.False(t, ok)
	_, ok = c.Groups(ctx, "u1")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "u2", "posts", entities.OperationView)
	assert.True(t, ok)
}

func TestPermissionCache_InvalidateUserIsPrefixExact(t *testing.T) {
	ctx := context.Background()
	c := NewPermissionCache(nil, time.Minute, nil)

	c.Set(ctx, "u1", "posts", entities.OperationView, &Policy{})
	c.Set(ctx, "u10", "posts", entities.OperationView, &Policy{})

	assert.Equal(t, 1, c.InvalidateUser(ctx, "u1"))
	_, ok := c.Get(ctx, "u10", "posts", entities.OperationView)
	assert.True(t, ok)
}

func TestPermissionCache_InvalidateCollection(t *testing.T) {
	ctx := context.Background()
	c := NewPermissionCache(nil, time.Minute, nil)
	seedCache(ctx, c)

	removed := c.InvalidateCollection(ctx, "posts")
	assert.Equal(t, 4, removed)
	assert.Equal(t, 6, c.Size())

	_, ok := c.Get(ctx, "u2", "posts", entities.OperationList)
	assert.False(t, ok)
	_, ok = c.Get(ctx, "u2", "comments", entities.OperationList)
	assert.True(t, ok)

	groups, ok := c.Groups(ctx, "u2")
	require.True(t, ok, "group memberships survive collection invalidation")
	assert.Equal(t, []string{"staff"}, groups)
}

func TestPermissionCache_InvalidateAll(t *testing.T) {
	ctx := context.Background()
	c := NewPermissionCache(nil, time.Minute, nil)
	seedCache(ctx, c)

	c.InvalidateAll(ctx)
	assert.Equal(t, 0, c.Size())
}

func TestPermissionCache_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	c := NewPermissionCache(nil, 20*time.Millisecond, nil)
	seedCache(ctx, c)

	assert.Equal(t, 0, c.CleanupExpired(ctx))

	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 10, c.CleanupExpired(ctx))
	assert.Equal(t, 0, c.Size())
}

func TestPermissionCache_RunCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewPermissionCache(nil, 10*time.Millisecond, nil)
	seedCache(ctx, c)

	done := make(chan struct{})
	go func() {
		c.RunCleanup(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return c.Size() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCleanup did not stop after cancel")
	}
}

func TestPermissionCache_GroupsAreCopied(t *testing.T) {
	ctx := context.Background()
	c := NewPermissionCache(nil, time.Minute, nil)

	groups := []string{"staff"}
	c.SetGroups(ctx, "u1", groups)
	groups[0] = "changed"

	got, ok := c.Groups(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, []string{"staff"}, got)
}
