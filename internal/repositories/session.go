package repositories

import "context"

// Session executes the read-only queries behind stored macros
type Session interface {
	// QueryScalar runs query with positional arguments and returns the first
	// column of the first row, or nil when there are no rows
	QueryScalar(ctx context.Context, query string, args ...any) (any, error)
}
