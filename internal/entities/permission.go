package entities

import (
	"fmt"
	"time"
)

// AnyCollection is the wildcard collection of a role permission
const AnyCollection = "*"

// PermissionRule is the rule and visible fields a role gets for one operation
type PermissionRule struct {
	Rule   string `json:"rule"`
	Fields any    `json:"fields,omitempty"` // "*" or []string
}

// Permission grants a role rules on a collection, independent of the
// collection's own rules
// Example: role "editor" on "posts": {"update": {"rule": "@owns_record", "fields": ["title"]}}
type Permission struct {
	ID         string
	RoleID     string
	Collection string // collection name or "*"
	Rules      map[Operation]PermissionRule
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RuleFor returns the rule for op, if the permission defines one
func (p *Permission) RuleFor(op Operation) (PermissionRule, bool) {
	rule, ok := p.Rules[op]
	return rule, ok
}

// IsWildcard reports whether the permission applies to every collection
func (p *Permission) IsWildcard() bool {
	return p.Collection == AnyCollection
}

// FieldList returns the visible fields; nil means every field
func (r PermissionRule) FieldList() ([]string, error) {
	switch f := r.Fields.(type) {
	case nil:
		return nil, nil
	case string:
		return ParseFields(f)
	case []string:
		for _, name := range f {
			if name == AllFields {
				return nil, nil
			}
		}
		return f, nil
	case []any:
		fields := make([]string, 0, len(f))
		for _, item := range f {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("field names must be strings, got %T", item)
			}
			if name == AllFields {
				return nil, nil
			}
			fields = append(fields, name)
		}
		return fields, nil
	default:
		return nil, fmt.Errorf("unsupported fields value %T", r.Fields)
	}
}

// Validate checks if the permission is valid
func (p *Permission) Validate() error {
	if p.RoleID == "" {
		return fmt.Errorf("role ID is required")
	}
	if p.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	for op, rule := range p.Rules {
		if _, err := ParseOperation(string(op)); err != nil {
			return err
		}
		if _, err := rule.FieldList(); err != nil {
			return fmt.Errorf("%s fields: %w", op, err)
		}
	}
	return nil
}
