package entities

import (
	"regexp"
	"time"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Macro is a named, parameterized SELECT stored in the database and
// referenced from rules as @name or @name(args)
type Macro struct {
	ID          string
	Name        string
	SQLQuery    string
	Parameters  []string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsIdentifier reports whether s is a valid macro or parameter name
func IsIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}
