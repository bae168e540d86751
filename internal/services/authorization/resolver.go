package authorization

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/asakaida/rowguard/internal/entities"
	"github.com/asakaida/rowguard/internal/repositories"
	"github.com/asakaida/rowguard/internal/services/evaluation"
	"github.com/asakaida/rowguard/internal/services/macro"
	"github.com/asakaida/rowguard/internal/services/parser"
)

// ErrInvalidRequest is returned for a request missing its collection or
// naming an unknown operation
var ErrInvalidRequest = errors.New("invalid authorization request")

// Request asks whether a user may perform an operation on a collection
type Request struct {
	User       *entities.User // nil for anonymous requests
	Collection string
	Operation  entities.Operation

	// Record is the record under test for gate operations
	Record any

	// Data is the submitted body, exposed as @request.data
	Data map[string]any

	// Permissions maps resource names to granted actions, for @has_permission
	Permissions map[string]any
}

// DecisionRecorder receives one call per resolved request
type DecisionRecorder interface {
	RecordDecision(collection string, operation string, allowed bool, cached bool)
}

// Resolver finds the effective rule for a request and applies it: filter
// operations get a macro-expanded filter, gate operations are evaluated
// against the request.
type Resolver struct {
	rules       repositories.CollectionRuleRepository
	permissions repositories.PermissionRepository
	expander    *macro.Expander
	evaluator   *evaluation.Evaluator
	cache       *PermissionCache
	loads       singleflight.Group
	logger      *zap.Logger
	recorder    DecisionRecorder
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithCache enables policy caching
func WithCache(c *PermissionCache) ResolverOption {
	return func(r *Resolver) {
		r.cache = c
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDecisionRecorder sets the metrics recorder
func WithDecisionRecorder(recorder DecisionRecorder) ResolverOption {
	return func(r *Resolver) {
		r.recorder = recorder
	}
}

// NewResolver creates a new Resolver. permissions may be nil when roles are
// not used; expander may be nil, in which case filters are returned unexpanded.
func NewResolver(
	rules repositories.CollectionRuleRepository,
	permissions repositories.PermissionRepository,
	expander *macro.Expander,
	evaluator *evaluation.Evaluator,
	opts ...ResolverOption,
) *Resolver {
	r := &Resolver{
		rules:       rules,
		permissions: permissions,
		expander:    expander,
		evaluator:   evaluator,
		logger:      zap.NewNop(),
	}
	if r.evaluator == nil {
		r.evaluator = evaluation.NewEvaluator(nil)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cache returns the policy cache, or nil when caching is disabled
func (r *Resolver) Cache() *PermissionCache {
	return r.cache
}

// Resolve decides a request. Superadmins bypass every rule; a locked rule
// denies everyone else.
func (r *Resolver) Resolve(ctx context.Context, req *Request) (*Decision, error) {
	if req == nil || req.Collection == "" {
		return nil, fmt.Errorf("%w: collection is required", ErrInvalidRequest)
	}
	op, err := entities.ParseOperation(string(req.Operation))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if req.User != nil && req.User.Superadmin {
		d := &Decision{Allowed: true, Reason: ReasonSuperadmin}
		r.record(req.Collection, op, d)
		return d, nil
	}

	policy, cached, err := r.policy(ctx, req.User, req.Collection, op)
	if err != nil {
		return nil, err
	}

	d := &Decision{Origin: policy.Origin, Cached: cached}
	switch {
	case policy.Locked():
		d.Reason = ReasonLocked
	case policy.Public():
		d.Allowed = true
		d.Reason = ReasonPublic
	case op.IsFilter():
		d.Allowed = true
		d.Filter = policy.Filter
		d.Reason = ReasonFilter
	default:
		allowed, err := r.evaluator.EvaluateBool(ctx, policy.Expr, r.evaluationContext(req))
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate %s rule of %q: %w", op, req.Collection, err)
		}
		d.Allowed = allowed
		d.Reason = ReasonDenied
		if allowed {
			d.Reason = ReasonAllowed
		}
	}
	if d.Allowed {
		d.Fields = slices.Clone(policy.Fields)
	}

	r.logger.Debug("resolved request",
		zap.String("collection", req.Collection),
		zap.String("operation", op.String()),
		zap.Bool("allowed", d.Allowed),
		zap.String("reason", d.Reason),
		zap.Bool("cached", cached),
	)
	r.record(req.Collection, op, d)
	return d, nil
}

// Check resolves a request and reports only whether it is allowed
func (r *Resolver) Check(ctx context.Context, req *Request) (bool, error) {
	d, err := r.Resolve(ctx, req)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// policy returns the cached policy or loads it. Concurrent misses for the
// same key share one load. The shared load is detached from the caller
// that started it; each caller stops waiting when its own ctx is done.
func (r *Resolver) policy(ctx context.Context, user *entities.User, collection string, op entities.Operation) (*Policy, bool, error) {
	var userID string
	if user != nil {
		userID = user.ID
	}

	if r.cache != nil {
		if p, ok := r.cache.Get(ctx, userID, collection, op); ok {
			return p, true, nil
		}
	}

	loads := r.loads.DoChan(CacheKey(userID, collection, op), func() (any, error) {
		loadCtx := context.WithoutCancel(ctx)
		if r.cache != nil {
			if p, ok := r.cache.Get(loadCtx, userID, collection, op); ok {
				return p, nil
			}
		}
		p, err := r.loadPolicy(loadCtx, user, collection, op)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			r.cache.Set(loadCtx, userID, collection, op, p)
		}
		return p, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-loads:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*Policy), false, nil
	}
}

// loadPolicy finds the effective rule: the role's permission for the
// collection, then the role's "*" permission, then the collection rule.
// A collection without rules is locked.
func (r *Resolver) loadPolicy(ctx context.Context, user *entities.User, collection string, op entities.Operation) (*Policy, error) {
	if r.permissions != nil && user != nil && user.RoleID != "" {
		perms, err := r.permissions.ListForRole(ctx, user.RoleID, collection)
		if err != nil {
			return nil, fmt.Errorf("failed to load permissions of role %s: %w", user.RoleID, err)
		}
		for _, perm := range perms {
			rule, ok := perm.RuleFor(op)
			if !ok {
				continue
			}
			fields, err := rule.FieldList()
			if err != nil {
				return nil, fmt.Errorf("invalid %s fields of role %s on %q: %w", op, user.RoleID, perm.Collection, err)
			}
			origin := OriginPermission
			if perm.IsWildcard() {
				origin = OriginWildcard
			}
			source := rule.Rule
			return r.compile(ctx, &Policy{
				Collection: collection,
				Operation:  op,
				Origin:     origin,
				Rule:       &source,
				Fields:     fields,
			})
		}
	}

	cr, err := r.rules.Get(ctx, collection)
	if errors.Is(err, repositories.ErrNotFound) {
		return &Policy{Collection: collection, Operation: op, Origin: OriginNone}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rules of %q: %w", collection, err)
	}

	fields, err := entities.ParseFields(cr.FieldsFor(op))
	if err != nil {
		return nil, fmt.Errorf("invalid %s fields of %q: %w", op, collection, err)
	}
	return r.compile(ctx, &Policy{
		Collection: collection,
		Operation:  op,
		Origin:     OriginCollection,
		Rule:       cr.RuleFor(op),
		Fields:     fields,
	})
}

// compile expands filter rules and parses gate rules
func (r *Resolver) compile(ctx context.Context, p *Policy) (*Policy, error) {
	if p.Locked() || p.Public() {
		return p, nil
	}

	if p.Operation.IsFilter() {
		p.Filter = *p.Rule
		if r.expander != nil {
			filter, err := r.expander.Expand(ctx, *p.Rule, 0)
			if err != nil {
				return nil, fmt.Errorf("failed to expand %s rule of %q: %w", p.Operation, p.Collection, err)
			}
			p.Filter = filter
		}
		return p, nil
	}

	node, err := parser.ParseString(*p.Rule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s rule of %q: %w", p.Operation, p.Collection, err)
	}
	p.Expr = node
	return p, nil
}

// evaluationContext exposes the request as user, record, request, auth
// and permissions
func (r *Resolver) evaluationContext(req *Request) *evaluation.Context {
	var user any
	if req.User != nil {
		user = req.User
	}
	return evaluation.NewContext(map[string]any{
		evaluation.RootUser:   user,
		evaluation.RootRecord: req.Record,
		evaluation.RootRequest: map[string]any{
			"auth": user,
			"data": req.Data,
		},
		evaluation.RootPermissions: req.Permissions,
		"auth":                     user,
	})
}

func (r *Resolver) record(collection string, op entities.Operation, d *Decision) {
	if r.recorder != nil {
		r.recorder.RecordDecision(collection, op.String(), d.Allowed, d.Cached)
	}
}
