package macro

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrRecursion is returned when macro expansion exceeds the maximum depth
	ErrRecursion = errors.New("macro recursion limit exceeded")

	// ErrInvalidMacro is returned when a macro definition is rejected
	ErrInvalidMacro = errors.New("invalid macro")

	// ErrArgumentCount is returned when a stored macro is called with the
	// wrong number of arguments
	ErrArgumentCount = errors.New("macro argument count mismatch")

	// ErrFilterOnly is returned when a gate rule calls a text macro that
	// has no predicate
	ErrFilterOnly = errors.New("macro is only available in list rules")
)

// RecursionError reports the expression being expanded when the depth
// limit was hit
type RecursionError struct {
	Expression string
	Depth      int
	MaxDepth   int
}

func (e *RecursionError) Error() string {
	return fmt.Sprintf("macro expansion depth %d exceeds maximum %d while expanding %q", e.Depth, e.MaxDepth, e.Expression)
}

func (e *RecursionError) Unwrap() error {
	return ErrRecursion
}

// ValidationError lists every problem found in a macro definition
type ValidationError struct {
	Name   string
	Errors *multierror.Error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid macro %q: %s", e.Name, e.Errors.Error())
}

// Unwrap exposes both ErrInvalidMacro and the individual problems
func (e *ValidationError) Unwrap() []error {
	return append([]error{ErrInvalidMacro}, e.Errors.WrappedErrors()...)
}

// ArgumentCountError is returned when a stored macro is called with a
// different number of arguments than it declares
type ArgumentCountError struct {
	Name     string
	Expected int
	Got      int
}

func (e *ArgumentCountError) Error() string {
	return fmt.Sprintf("macro @%s expects %d argument(s), got %d", e.Name, e.Expected, e.Got)
}

func (e *ArgumentCountError) Unwrap() error {
	return ErrArgumentCount
}
