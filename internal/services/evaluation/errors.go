package evaluation

import (
	"errors"
	"fmt"

	"github.com/asakaida/rowguard/internal/services/parser"
)

var (
	// ErrEvaluation is the root of every error returned by Evaluate.
	ErrEvaluation = errors.New("evaluation error")

	// ErrUnknownFunction is returned for calls to a function that is neither
	// built in nor a macro.
	ErrUnknownFunction = fmt.Errorf("%w: unknown function", ErrEvaluation)
)

// Error describes a failure while evaluating a node.
type Error struct {
	Node    parser.Node
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Node == nil {
		return fmt.Sprintf("evaluation error: %s", e.Message)
	}
	return fmt.Sprintf("evaluation error at offset %d in %s: %s", e.Node.Pos(), e.Node.String(), e.Message)
}

// Unwrap returns the underlying cause, or ErrEvaluation.
func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrEvaluation
}
