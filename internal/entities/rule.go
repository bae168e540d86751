package entities

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AllFields is the field-visibility value that exposes every field
const AllFields = "*"

// CollectionRule holds the rules of one collection.
//
// Each rule is tri-state: nil means locked (superadmins only), an empty
// string means public, anything else is an expression.
type CollectionRule struct {
	Collection string
	ListRule   *string
	ViewRule   *string
	CreateRule *string
	UpdateRule *string
	DeleteRule *string

	// Field visibility: "*" or a JSON array of field names
	ListFields   string
	ViewFields   string
	CreateFields string
	UpdateFields string

	UpdatedAt time.Time
}

// RuleFor returns the rule gating op
func (r *CollectionRule) RuleFor(op Operation) *string {
	switch op {
	case OperationList:
		return r.ListRule
	case OperationView:
		return r.ViewRule
	case OperationCreate:
		return r.CreateRule
	case OperationUpdate:
		return r.UpdateRule
	case OperationDelete:
		return r.DeleteRule
	default:
		return nil
	}
}

// SetRule replaces the rule gating op
func (r *CollectionRule) SetRule(op Operation, rule *string) {
	switch op {
	case OperationList:
		r.ListRule = rule
	case OperationView:
		r.ViewRule = rule
	case OperationCreate:
		r.CreateRule = rule
	case OperationUpdate:
		r.UpdateRule = rule
	case OperationDelete:
		r.DeleteRule = rule
	}
}

// FieldsFor returns the field-visibility value for op.
// Delete has no fields and empty values default to all fields.
func (r *CollectionRule) FieldsFor(op Operation) string {
	var fields string
	switch op {
	case OperationList:
		fields = r.ListFields
	case OperationView:
		fields = r.ViewFields
	case OperationCreate:
		fields = r.CreateFields
	case OperationUpdate:
		fields = r.UpdateFields
	}
	if strings.TrimSpace(fields) == "" {
		return AllFields
	}
	return fields
}

// Validate checks if the collection rule is valid
func (r *CollectionRule) Validate() error {
	if r.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	for _, op := range []Operation{OperationList, OperationView, OperationCreate, OperationUpdate} {
		if _, err := ParseFields(r.FieldsFor(op)); err != nil {
			return fmt.Errorf("%s fields: %w", op, err)
		}
	}
	return nil
}

// ParseFields decodes a field-visibility value. A nil result means every
// field is visible.
func ParseFields(value string) ([]string, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == AllFields {
		return nil, nil
	}

	var fields []string
	if err := json.Unmarshal([]byte(value), &fields); err != nil {
		return nil, fmt.Errorf("fields must be %q or a JSON array of names: %w", AllFields, err)
	}
	for _, f := range fields {
		if f == AllFields {
			return nil, nil
		}
	}
	if fields == nil {
		fields = []string{}
	}
	return fields, nil
}

// Rule returns a pointer to s, for building tri-state rule values
func Rule(s string) *string {
	return &s
}
