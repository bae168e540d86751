package authorization

import (
	"github.com/asakaida/rowguard/internal/entities"
	"github.com/asakaida/rowguard/internal/services/parser"
)

// Origin names where an effective rule came from
type Origin string

const (
	OriginPermission Origin = "permission" // role permission on the collection
	OriginWildcard   Origin = "wildcard"   // role permission on "*"
	OriginCollection Origin = "collection" // the collection's own rule
	OriginNone       Origin = "none"       // no rule anywhere
)

// Policy is the compiled effective rule of one (user, collection, operation).
// It is immutable once cached and shared between concurrent requests.
type Policy struct {
	Collection string
	Operation  entities.Operation
	Origin     Origin

	// Rule is the rule source; nil means locked
	Rule *string

	// Filter is the macro-expanded rule of a filter operation
	Filter string

	// Expr is the parsed rule of a gate operation; nil for public rules
	Expr parser.Node

	// Fields lists the visible fields; nil means every field
	Fields []string
}

// Locked reports whether only a superadmin may proceed
func (p *Policy) Locked() bool {
	return p.Rule == nil
}

// Public reports whether everyone may proceed. Only the empty string is
// public; a blank rule is an (invalid) expression.
func (p *Policy) Public() bool {
	return p.Rule != nil && *p.Rule == ""
}

// Reasons reported in a Decision
const (
	ReasonSuperadmin = "superadmin"
	ReasonLocked     = "locked"
	ReasonPublic     = "public"
	ReasonFilter     = "filter"
	ReasonAllowed    = "rule_allowed"
	ReasonDenied     = "rule_denied"
)

// Decision is the outcome of resolving a request
type Decision struct {
	Allowed bool

	// Filter is set for filter operations; the storage layer applies it
	Filter string

	// Fields lists the visible fields; nil means every field
	Fields []string

	Origin Origin
	Reason string
	Cached bool
}
