package authorization

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/rowguard/internal/entities"
	"github.com/asakaida/rowguard/internal/repositories"
	"github.com/asakaida/rowguard/internal/repositories/memory"
	"github.com/asakaida/rowguard/internal/services/evaluation"
	"github.com/asakaida/rowguard/internal/services/macro"
	"github.com/asakaida/rowguard/internal/services/parser"
)

type recordedDecision struct {
	collection string
	operation  string
	allowed    bool
	cached     bool
}

type fakeDecisionRecorder struct {
	mu        sync.Mutex
	decisions []recordedDecision
}

func (r *fakeDecisionRecorder) RecordDecision(collection, operation string, allowed, cached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, recordedDecision{collection, operation, allowed, cached})
}

// countingRules counts loads from the wrapped repository
type countingRules struct {
	repositories.CollectionRuleRepository
	loads atomic.Int32
	delay time.Duration
}

func (c *countingRules) Get(ctx context.Context, collection string) (*entities.CollectionRule, error) {
	c.loads.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.CollectionRuleRepository.Get(ctx, collection)
}

type fixture struct {
	rules    *countingRules
	perms    *memory.PermissionRepository
	macros   *memory.MacroRepository
	groups   *memory.GroupRepository
	cache    *PermissionCache
	recorder *fakeDecisionRecorder
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		rules:    &countingRules{CollectionRuleRepository: memory.NewCollectionRuleRepository()},
		perms:    memory.NewPermissionRepository(),
		macros:   memory.NewMacroRepository(),
		groups:   memory.NewGroupRepository(),
		cache:    NewPermissionCache(nil, time.Minute, nil),
		recorder: &fakeDecisionRecorder{},
	}

	engine := macro.NewEngine(f.macros, nil, macro.WithGroupSource(NewCachedGroupSource(f.groups, f.cache)))
	f.resolver = NewResolver(
		f.rules,
		f.perms,
		macro.NewExpander(f.macros),
		evaluation.NewEvaluator(engine),
		WithCache(f.cache),
		WithDecisionRecorder(f.recorder),
	)

	require.NoError(t, f.rules.Upsert(context.Background(), &entities.CollectionRule{
		Collection: "posts",
		ListRule:   entities.Rule("@owns_record || @is_public"),
		ViewRule:   entities.Rule(""),
		CreateRule: entities.Rule("@request.auth.id != null"),
		UpdateRule: entities.Rule("user.id == record.owner_id"),
		DeleteRule: nil,
		ViewFields: `["title", "body"]`,
	}))
	return f
}

func alice() *entities.User {
	return &entities.User{ID: "u1", Email: "alice@example.com", Role: "member", RoleID: "member"}
}

func TestResolver_TriStateRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// public
	d, err := f.resolver.Resolve(ctx, &Request{Collection: "posts", Operation: entities.OperationView})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonPublic, d.Reason)
	assert.Equal(t, []string{"title", "body"}, d.Fields)

	// locked
	d, err = f.resolver.Resolve(ctx, &Request{User: alice(), Collection: "posts", Operation: entities.OperationDelete})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonLocked, d.Reason)
	assert.Nil(t, d.Fields)

	// expression
	d, err = f.resolver.Resolve(ctx, &Request{User: alice(), Collection: "posts", Operation: entities.OperationCreate})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonAllowed, d.Reason)

	d, err = f.resolver.Resolve(ctx, &Request{Collection: "posts", Operation: entities.OperationCreate})
	require.NoError(t, err)
	assert.False(t, d.Allowed, "anonymous users have no auth id")
	assert.Equal(t, ReasonDenied, d.Reason)
}

func TestResolver_UnknownCollectionIsLocked(t *testing.T) {
	f := newFixture(t)

	d, err := f.resolver.Resolve(context.Background(), &Request{User: alice(), Collection: "secrets", Operation: entities.OperationView})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, OriginNone, d.Origin)
}

func TestResolver_SuperadminBypassesLockedRules(t *testing.T) {
	f := newFixture(t)
	admin := &entities.User{ID: "root", Superadmin: true}

	for _, collection := range []string{"posts", "secrets"} {
		d, err := f.resolver.Resolve(context.Background(), &Request{User: admin, Collection: collection, Operation: entities.OperationDelete})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, ReasonSuperadmin, d.Reason)
	}
	assert.Equal(t, int32(0), f.rules.loads.Load(), "superadmins never load rules")
}

func TestResolver_GateEvaluatesAgainstRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	allowed, err := f.resolver.Check(ctx, &Request{
		User: alice(), Collection: "posts", Operation: entities.OperationUpdate,
		Record: map[string]any{"owner_id": "u1"},
	})
	require.NoError(t, err)
	assert.True(t, allowed)

	// the cached policy is re-evaluated for every record
	allowed, err = f.resolver.Check(ctx, &Request{
		User: alice(), Collection: "posts", Operation: entities.OperationUpdate,
		Record: map[string]any{"owner_id": "u2"},
	})
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int32(1), f.rules.loads.Load())
}

func TestResolver_ListReturnsExpandedFilter(t *testing.T) {
	f := newFixture(t)

	d, err := f.resolver.Resolve(context.Background(), &Request{User: alice(), Collection: "posts", Operation: entities.OperationList})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonFilter, d.Reason)
	assert.Equal(t, "(created_by = @request.auth.id) || (public = true)", d.Filter)
	assert.Nil(t, d.Fields, "empty fields mean every field")
}

func TestResolver_ListExpandsStoredMacros(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.macros.Upsert(ctx, &entities.Macro{
		Name:       "in_team",
		SQLQuery:   "SELECT EXISTS (SELECT 1 FROM members m WHERE m.team_id = team_id AND m.user_id = $1)",
		Parameters: []string{"user_id"},
	}))
	require.NoError(t, f.rules.Upsert(ctx, &entities.CollectionRule{
		Collection: "tasks",
		ListRule:   entities.Rule("@in_team(@request.auth.id)"),
	}))

	d, err := f.resolver.Resolve(ctx, &Request{User: alice(), Collection: "tasks", Operation: entities.OperationList})
	require.NoError(t, err)
	assert.Equal(t, "(SELECT EXISTS (SELECT 1 FROM members m WHERE m.team_id = team_id AND m.user_id = @request.auth.id))", d.Filter)
}

func TestResolver_ListRecursionError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.macros.Upsert(ctx, &entities.Macro{Name: "loop", SQLQuery: "@loop"}))
	require.NoError(t, f.rules.Upsert(ctx, &entities.CollectionRule{Collection: "tasks", ListRule: entities.Rule("@loop")}))

	_, err := f.resolver.Resolve(ctx, &Request{User: alice(), Collection: "tasks", Operation: entities.OperationList})
	require.Error(t, err)
	assert.True(t, errors.Is(err, macro.ErrRecursion))

	_, cached := f.cache.Get(ctx, "u1", "tasks", entities.OperationList)
	assert.False(t, cached, "failed loads are not cached")
}

func TestResolver_SyntaxErrorInGateRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.rules.Upsert(ctx, &entities.CollectionRule{Collection: "tasks", ViewRule: entities.Rule("user.id ==")}))

	_, err := f.resolver.Resolve(ctx, &Request{User: alice(), Collection: "tasks", Operation: entities.OperationView})
	require.Error(t, err)
	assert.True(t, errors.Is(err, parser.ErrSyntax))
}

func TestResolver_RolePermissionPrecedence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.perms.Upsert(ctx, &entities.Permission{
		RoleID:     "member",
		Collection: entities.AnyCollection,
		Rules: map[entities.Operation]entities.PermissionRule{
			entities.OperationDelete: {Rule: "@has_role('member')"},
			entities.OperationUpdate: {Rule: "false"},
		},
	}))
	require.NoError(t, f.perms.Upsert(ctx, &entities.Permission{
		RoleID:     "member",
		Collection: "posts",
		Rules: map[entities.Operation]entities.PermissionRule{
			entities.OperationUpdate: {Rule: "true", Fields: []any{"title"}},
		},
	}))

	// collection-specific permission wins over the wildcard
	d, err := f.resolver.Resolve(ctx, &Request{User: alice(), Collection: "posts", Operation: entities.OperationUpdate})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, OriginPermission, d.Origin)
	assert.Equal(t, []string{"title"}, d.Fields)

	// wildcard permission wins over the locked collection rule
	d, err = f.resolver.Resolve(ctx, &Request{User: alice(), Collection: "posts", Operation: entities.OperationDelete})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, OriginWildcard, d.Origin)

	// no permission for view falls back to the collection rule
	d, err = f.resolver.Resolve(ctx, &Request{User: alice(), Collection: "posts", Operation: entities.OperationView})
	require.NoError(t, err)
	assert.Equal(t, OriginCollection, d.Origin)

	// users without the role get the collection rule
	d, err = f.resolver.Resolve(ctx, &Request{User: &entities.User{ID: "u2"}, Collection: "posts", Operation: entities.OperationDelete})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestResolver_HasGroupUsesCachedGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.groups.AddMember("staff", "u1")
	require.NoError(t, f.rules.Upsert(ctx, &entities.CollectionRule{Collection: "reports", ViewRule: entities.Rule("@has_group('staff')")}))

	allowed, err := f.resolver.Check(ctx, &Request{User: alice(), Collection: "reports", Operation: entities.OperationView})
	require.NoError(t, err)
	assert.True(t, allowed)

	groups, ok := f.cache.Groups(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, []string{"staff"}, groups)

	// membership changes are visible after the user is invalidated
	f.groups.RemoveMember("staff", "u1")
	allowed, _ = f.resolver.Check(ctx, &Request{User: alice(), Collection: "reports", Operation: entities.OperationView})
	assert.True(t, allowed, "still served from cache")

	f.cache.InvalidateUser(ctx, "u1")
	allowed, err = f.resolver.Check(ctx, &Request{User: alice(), Collection: "reports", Operation: entities.OperationView})
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestResolver_HasPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.rules.Upsert(ctx, &entities.CollectionRule{Collection: "drafts", CreateRule: entities.Rule("@has_permission('create', 'posts')")}))

	allowed, err := f.resolver.Check(ctx, &Request{
		User: alice(), Collection: "drafts", Operation: entities.OperationCreate,
		Permissions: map[string]any{"posts": []string{"create", "read"}},
	})
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = f.resolver.Check(ctx, &Request{
		User: alice(), Collection: "drafts", Operation: entities.OperationCreate,
		Permissions: map[string]any{"posts": []string{"read"}},
	})
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestResolver_RequestData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.rules.Upsert(ctx, &entities.CollectionRule{Collection: "comments", CreateRule: entities.Rule("@request.data.author == @request.auth.id")}))

	allowed, err := f.resolver.Check(ctx, &Request{
		User: alice(), Collection: "comments", Operation: entities.OperationCreate,
		Data: map[string]any{"author": "u1"},
	})
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = f.resolver.Check(ctx, &Request{
		User: alice(), Collection: "comments", Operation: entities.OperationCreate,
		Data: map[string]any{"author": "u2"},
	})
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestResolver_CachesPolicies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := &Request{User: alice(), Collection: "posts", Operation: entities.OperationCreate}

	d, err := f.resolver.Resolve(ctx, req)
	require.NoError(t, err)
	assert.False(t, d.Cached)

	d, err = f.resolver.Resolve(ctx, req)
	require.NoError(t, err)
	assert.True(t, d.Cached)
	assert.Equal(t, int32(1), f.rules.loads.Load())

	// rule changes apply once the collection is invalidated
	require.NoError(t, f.rules.Upsert(ctx, &entities.CollectionRule{Collection: "posts", CreateRule: entities.Rule("false")}))
	f.cache.InvalidateCollection(ctx, "posts")

	d, err = f.resolver.Resolve(ctx, req)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.False(t, d.Cached)

	f.recorder.mu.Lock()
	defer f.recorder.mu.Unlock()
	require.Len(t, f.recorder.decisions, 3)
	assert.Equal(t, recordedDecision{"posts", "create", true, true}, f.recorder.decisions[1])
}

func TestResolver_WithoutCache(t *testing.T) {
	rules := &countingRules{CollectionRuleRepository: memory.NewCollectionRuleRepository()}
	require.NoError(t, rules.Upsert(context.Background(), &entities.CollectionRule{Collection: "posts", ViewRule: entities.Rule("true")}))
	resolver := NewResolver(rules, nil, nil, nil)

	for i := 0; i < 3; i++ {
		allowed, err := resolver.Check(context.Background(), &Request{Collection: "posts", Operation: entities.OperationView})
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	assert.Equal(t, int32(3), rules.loads.Load())
	assert.Nil(t, resolver.Cache())
}

func TestResolver_InvalidRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.resolver.Resolve(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.resolver.Resolve(ctx, &Request{Operation: entities.OperationView})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.resolver.Resolve(ctx, &Request{Collection: "posts", Operation: "publish"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestResolver_ConcurrentMissesShareOneLoad(t *testing.T) {
	f := newFixture(t)
	f.rules.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, err := f.resolver.Check(context.Background(), &Request{
				User: alice(), Collection: "posts", Operation: entities.OperationUpdate,
				Record: map[string]any{"owner_id": "u1"},
			})
			assert.NoError(t, err)
			assert.True(t, allowed)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.rules.loads.Load())
}

func TestResolver_TextMacroMeansTheSameOnListAndView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.rules.Upsert(ctx, &entities.CollectionRule{
		Collection: "notes",
		ListRule:   entities.Rule("@is_authenticated"),
		ViewRule:   entities.Rule("@is_authenticated"),
		UpdateRule: entities.Rule("@owns_record || @is_public"),
	}))

	d, err := f.resolver.Resolve(ctx, &Request{User: alice(), Collection: "notes", Operation: entities.OperationList})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "(@request.auth.id != null)", d.Filter)

	d, err = f.resolver.Resolve(ctx, &Request{User: alice(), Collection: "notes", Operation: entities.OperationView})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonAllowed, d.Reason)

	d, err = f.resolver.Resolve(ctx, &Request{Collection: "notes", Operation: entities.OperationView})
	require.NoError(t, err)
	assert.False(t, d.Allowed, "anonymous users are not authenticated")

	records := []struct {
		record  map[string]any
		allowed bool
	}{
		{map[string]any{"created_by": "u1", "public": false}, true},
		{map[string]any{"created_by": "u2", "public": true}, true},
		{map[string]any{"created_by": "u2", "public": false}, false},
	}
	for _, tt := range records {
		allowed, err := f.resolver.Check(ctx, &Request{User: alice(), Collection: "notes", Operation: entities.OperationUpdate, Record: tt.record})
		require.NoError(t, err)
		assert.Equal(t, tt.allowed, allowed, "record %v", tt.record)
	}
}

func TestResolver_BlankRuleIsNotPublic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.rules.Upsert(ctx, &entities.CollectionRule{
		Collection: "drafts",
		ViewRule:   entities.Rule("   "),
	}))

	d, err := f.resolver.Resolve(ctx, &Request{Collection: "drafts", Operation: entities.OperationView})
	assert.Nil(t, d)
	assert.ErrorIs(t, err, parser.ErrSyntax)

	assert.False(t, (&Policy{Rule: entities.Rule("   ")}).Public())
	assert.True(t, (&Policy{Rule: entities.Rule("")}).Public())
}

// blockingRules holds Get until released or until ctx is done
type blockingRules struct {
	repositories.CollectionRuleRepository
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingRules) Get(ctx context.Context, collection string) (*entities.CollectionRule, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.CollectionRuleRepository.Get(ctx, collection)
}

func TestResolver_CancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	f := newFixture(t)
	rules := &blockingRules{
		CollectionRuleRepository: f.rules,
		started:                  make(chan struct{}),
		release:                  make(chan struct{}),
	}
	resolver := NewResolver(rules, f.perms, macro.NewExpander(f.macros), evaluation.NewEvaluator(macro.NewEngine(f.macros, nil)), WithCache(f.cache))
	req := &Request{User: alice(), Collection: "posts", Operation: entities.OperationView}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := resolver.Resolve(ctxA, req)
		errA <- err
	}()
	<-rules.started

	type result struct {
		d   *Decision
		err error
	}
	resB := make(chan result, 1)
	go func() {
		d, err := resolver.Resolve(context.Background(), req)
		resB <- result{d, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(rules.release)
	b := <-resB
	require.NoError(t, b.err)
	assert.True(t, b.d.Allowed)
	assert.Equal(t, ReasonPublic, b.d.Reason)

	_, cached := f.cache.Get(context.Background(), "u1", "posts", entities.OperationView)
	assert.True(t, cached, "the shared load still fills the cache")
}
