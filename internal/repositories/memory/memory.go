// Package memory provides in-memory implementations of the repositories.
// They are intended for tests, development and offline tooling.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/asakaida/rowguard/internal/entities"
	"github.com/asakaida/rowguard/internal/repositories"
	"github.com/google/uuid"
)

// Compile-time interface checks.
var (
	_ repositories.CollectionRuleRepository = (*CollectionRuleRepository)(nil)
	_ repositories.PermissionRepository     = (*PermissionRepository)(nil)
	_ repositories.MacroRepository          = (*MacroRepository)(nil)
	_ repositories.GroupRepository          = (*GroupRepository)(nil)
	_ repositories.Session                  = SessionFunc(nil)
)

// ──────────────────────────────────────────────────
// Collection rules
// ──────────────────────────────────────────────────

// CollectionRuleRepository is a thread-safe in-memory CollectionRuleRepository.
type CollectionRuleRepository struct {
	mu    sync.RWMutex
	rules map[string]*entities.CollectionRule
}

// NewCollectionRuleRepository creates an empty repository.
func NewCollectionRuleRepository() *CollectionRuleRepository {
	return &CollectionRuleRepository{rules: make(map[string]*entities.CollectionRule)}
}

func (r *CollectionRuleRepository) Get(_ context.Context, collection string) (*entities.CollectionRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[collection]
	if !ok {
		return nil, fmt.Errorf("collection rule %q: %w", collection, repositories.ErrNotFound)
	}
	return copyCollectionRule(rule), nil
}

func (r *CollectionRuleRepository) Upsert(_ context.Context, rule *entities.CollectionRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid collection rule: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rule.UpdatedAt = time.Now()
	r.rules[rule.Collection] = copyCollectionRule(rule)
	return nil
}

func (r *CollectionRuleRepository) Delete(_ context.Context, collection string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[collection]; !ok {
		return fmt.Errorf("collection rule %q: %w", collection, repositories.ErrNotFound)
	}
	delete(r.rules, collection)
	return nil
}

func (r *CollectionRuleRepository) List(_ context.Context) ([]*entities.CollectionRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entities.CollectionRule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, copyCollectionRule(rule))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Collection < out[j].Collection })
	return out, nil
}

func copyCollectionRule(r *entities.CollectionRule) *entities.CollectionRule {
	cp := *r
	cp.ListRule = copyString(r.ListRule)
	cp.ViewRule = copyString(r.ViewRule)
	cp.CreateRule = copyString(r.CreateRule)
	cp.UpdateRule = copyString(r.UpdateRule)
	cp.DeleteRule = copyString(r.DeleteRule)
	return &cp
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// ──────────────────────────────────────────────────
// Permissions
// ──────────────────────────────────────────────────

// PermissionRepository is a thread-safe in-memory PermissionRepository.
type PermissionRepository struct {
	mu          sync.RWMutex
	permissions map[string]*entities.Permission // roleID + "\x00" + collection
}

// NewPermissionRepository creates an empty repository.
func NewPermissionRepository() *PermissionRepository {
	return &PermissionRepository{permissions: make(map[string]*entities.Permission)}
}

func permissionKey(roleID, collection string) string {
	return roleID + "\x00" + collection
}

func (r *PermissionRepository) ListForRole(_ context.Context, roleID string, collection string) ([]*entities.Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entities.Permission
	if p, ok := r.permissions[permissionKey(roleID, collection)]; ok {
		out = append(out, copyPermission(p))
	}
	if collection != entities.AnyCollection {
		if p, ok := r.permissions[permissionKey(roleID, entities.AnyCollection)]; ok {
			out = append(out, copyPermission(p))
		}
	}
	return out, nil
}

func (r *PermissionRepository) Upsert(_ context.Context, p *entities.Permission) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid permission: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	key := permissionKey(p.RoleID, p.Collection)
	if existing, ok := r.permissions[key]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r.permissions[key] = copyPermission(p)
	return nil
}

func (r *PermissionRepository) Delete(_ context.Context, roleID string, collection string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := permissionKey(roleID, collection)
	if _, ok := r.permissions[key]; !ok {
		return fmt.Errorf("permission %s on %q: %w", roleID, collection, repositories.ErrNotFound)
	}
	delete(r.permissions, key)
	return nil
}

func copyPermission(p *entities.Permission) *entities.Permission {
	cp := *p
	cp.Rules = make(map[entities.Operation]entities.PermissionRule, len(p.Rules))
	for op, rule := range p.Rules {
		cp.Rules[op] = rule
	}
	return &cp
}

// ──────────────────────────────────────────────────
// Macros
// ──────────────────────────────────────────────────

// MacroRepository is a thread-safe in-memory MacroRepository.
type MacroRepository struct {
	mu     sync.RWMutex
	macros map[string]*entities.Macro
}

// NewMacroRepository creates a repository holding the given macros.
func NewMacroRepository(macros ...*entities.Macro) *MacroRepository {
	r := &MacroRepository{macros: make(map[string]*entities.Macro)}
	for _, m := range macros {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		r.macros[m.Name] = copyMacro(m)
	}
	return r
}

func (r *MacroRepository) GetByName(_ context.Context, name string) (*entities.Macro, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.macros[name]
	if !ok {
		return nil, fmt.Errorf("macro %q: %w", name, repositories.ErrNotFound)
	}
	return copyMacro(m), nil
}

func (r *MacroRepository) Upsert(_ context.Context, m *entities.Macro) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if existing, ok := r.macros[m.Name]; ok {
		m.ID = existing.ID
		m.CreatedAt = existing.CreatedAt
	} else {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	r.macros[m.Name] = copyMacro(m)
	return nil
}

func (r *MacroRepository) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.macros[name]; !ok {
		return fmt.Errorf("macro %q: %w", name, repositories.ErrNotFound)
	}
	delete(r.macros, name)
	return nil
}

func (r *MacroRepository) List(_ context.Context) ([]*entities.Macro, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entities.Macro, 0, len(r.macros))
	for _, m := range r.macros {
		out = append(out, copyMacro(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func copyMacro(m *entities.Macro) *entities.Macro {
	cp := *m
	cp.Parameters = append([]string(nil), m.Parameters...)
	return &cp
}

// ──────────────────────────────────────────────────
// Groups
// ──────────────────────────────────────────────────

// GroupRepository is a thread-safe in-memory GroupRepository.
type GroupRepository struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // userID -> set of groups
}

// NewGroupRepository creates an empty repository.
func NewGroupRepository() *GroupRepository {
	return &GroupRepository{members: make(map[string]map[string]struct{})}
}

// AddMember adds a user to a group.
func (r *GroupRepository) AddMember(group, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[userID]
	if !ok {
		set = make(map[string]struct{})
		r.members[userID] = set
	}
	set[group] = struct{}{}
}

// RemoveMember removes a user from a group.
func (r *GroupRepository) RemoveMember(group, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[userID], group)
}

func (r *GroupRepository) GroupsForUser(_ context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups := make([]string, 0, len(r.members[userID]))
	for g := range r.members[userID] {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups, nil
}

// ──────────────────────────────────────────────────
// Session
// ──────────────────────────────────────────────────

// SessionFunc adapts a function to the Session interface.
type SessionFunc func(ctx context.Context, query string, args ...any) (any, error)

// QueryScalar calls f(ctx, query, args...).
func (f SessionFunc) QueryScalar(ctx context.Context, query string, args ...any) (any, error) {
	return f(ctx, query, args...)
}
