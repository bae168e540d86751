package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/asakaida/rowguard/internal/entities"
	"github.com/asakaida/rowguard/internal/repositories/memory"
)

// Fixture is the offline world a rule is tried against: the principal, the
// record, stored macros with canned results, group memberships and
// collection rules.
type Fixture struct {
	User        map[string]any          `yaml:"user"`
	Record      map[string]any          `yaml:"record"`
	Data        map[string]any          `yaml:"data"`
	Permissions map[string]any          `yaml:"permissions"`
	Now         string                  `yaml:"now"`
	Groups      map[string][]string     `yaml:"groups"`
	Macros      []FixtureMacro          `yaml:"macros"`
	Collections []FixtureCollection     `yaml:"collections"`
	Roles       map[string]FixtureRoles `yaml:"roles"`
}

// FixtureMacro is a stored macro plus the value its query returns
type FixtureMacro struct {
	Name        string   `yaml:"name"`
	SQLQuery    string   `yaml:"sql_query"`
	Parameters  []string `yaml:"parameters"`
	Description string   `yaml:"description"`
	Result      any      `yaml:"result"`
}

// FixtureCollection holds a collection's rules. A missing key is a locked
// operation; an empty string is public.
type FixtureCollection struct {
	Name   string             `yaml:"name"`
	Rules  map[string]*string `yaml:"rules"`
	Fields map[string]string  `yaml:"fields"`
}

// FixtureRoles maps a collection (or "*") to per-operation role rules
type FixtureRoles map[string]map[string]entities.PermissionRule

func loadFixture(path string) (*Fixture, error) {
	f := &Fixture{}
	if path == "" {
		return f, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	if err := yaml.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	return f, nil
}

// Clock returns the fixture's fixed time, or time.Now when unset
func (f *Fixture) Clock() (func() time.Time, error) {
	if f.Now == "" {
		return time.Now, nil
	}
	t, err := time.Parse(time.RFC3339, f.Now)
	if err != nil {
		return nil, fmt.Errorf("invalid now %q: %w", f.Now, err)
	}
	return func() time.Time { return t }, nil
}

// UserEntity converts the fixture user; nil for anonymous
func (f *Fixture) UserEntity() *entities.User {
	if f.User == nil {
		return nil
	}
	str := func(key string) string {
		s, _ := f.User[key].(string)
		return s
	}
	flag := func(key string) bool {
		b, _ := f.User[key].(bool)
		return b
	}

	u := &entities.User{
		ID:         str("id"),
		Email:      str("email"),
		Role:       str("role"),
		RoleID:     str("role_id"),
		Verified:   flag("verified"),
		Superadmin: flag("superadmin"),
	}
	if groups, ok := f.User["groups"].([]any); ok {
		for _, g := range groups {
			if s, ok := g.(string); ok {
				u.Groups = append(u.Groups, s)
			}
		}
	}
	return u
}

// world is the set of in-memory repositories built from a fixture
type world struct {
	rules       *memory.CollectionRuleRepository
	permissions *memory.PermissionRepository
	macros      *memory.MacroRepository
	groups      *memory.GroupRepository
	session     memory.SessionFunc
}

func (f *Fixture) build(ctx context.Context) (*world, error) {
	w := &world{
		rules:       memory.NewCollectionRuleRepository(),
		permissions: memory.NewPermissionRepository(),
		macros:      memory.NewMacroRepository(),
		groups:      memory.NewGroupRepository(),
	}

	results := make(map[string]any, len(f.Macros))
	for _, m := range f.Macros {
		if err := w.macros.Upsert(ctx, &entities.Macro{
			Name:        m.Name,
			SQLQuery:    m.SQLQuery,
			Parameters:  m.Parameters,
			Description: m.Description,
		}); err != nil {
			return nil, fmt.Errorf("failed to load macro %q: %w", m.Name, err)
		}
		results[strings.TrimSpace(m.SQLQuery)] = m.Result
	}
	w.session = func(_ context.Context, query string, _ ...any) (any, error) {
		return results[strings.TrimSpace(query)], nil
	}

	for group, members := range f.Groups {
		for _, userID := range members {
			w.groups.AddMember(group, userID)
		}
	}

	for _, c := range f.Collections {
		rule := &entities.CollectionRule{Collection: c.Name}
		for name, source := range c.Rules {
			op, err := entities.ParseOperation(name)
			if err != nil {
				return nil, fmt.Errorf("collection %q: %w", c.Name, err)
			}
			rule.SetRule(op, source)
		}
		for name, fields := range c.Fields {
			op, err := entities.ParseOperation(name)
			if err != nil {
				return nil, fmt.Errorf("collection %q: %w", c.Name, err)
			}
			switch op {
			case entities.OperationList:
				rule.ListFields = fields
			case entities.OperationView:
				rule.ViewFields = fields
			case entities.OperationCreate:
				rule.CreateFields = fields
			case entities.OperationUpdate:
				rule.UpdateFields = fields
			}
		}
		if err := w.rules.Upsert(ctx, rule); err != nil {
			return nil, fmt.Errorf("failed to load collection %q: %w", c.Name, err)
		}
	}

	for roleID, collections := range f.Roles {
		for collection, ops := range collections {
			p := &entities.Permission{
				RoleID:     roleID,
				Collection: collection,
				Rules:      make(map[entities.Operation]entities.PermissionRule, len(ops)),
			}
			for name, rule := range ops {
				op, err := entities.ParseOperation(name)
				if err != nil {
					return nil, fmt.Errorf("role %q: %w", roleID, err)
				}
				p.Rules[op] = rule
			}
			if err := w.permissions.Upsert(ctx, p); err != nil {
				return nil, fmt.Errorf("failed to load role %q on %q: %w", roleID, collection, err)
			}
		}
	}

	return w, nil
}
