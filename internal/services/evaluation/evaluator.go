package evaluation

import (
	"context"
	"fmt"

	"github.com/asakaida/rowguard/internal/services/parser"
)

// MacroExecutor runs @name(...) calls found in a parsed rule.
type MacroExecutor interface {
	ExecuteMacro(ctx context.Context, name string, args []any, ectx *Context) (any, error)
}

// Evaluator walks a rule AST against an evaluation context.
//
// An Evaluator holds no per-call state; one instance may evaluate shared
// ASTs from many goroutines.
type Evaluator struct {
	macros MacroExecutor
}

// NewEvaluator creates a new Evaluator. macros may be nil, in which case
// every macro call is reported as an unknown function.
func NewEvaluator(macros MacroExecutor) *Evaluator {
	return &Evaluator{macros: macros}
}

// Evaluate evaluates node with a one-off Evaluator.
func Evaluate(ctx context.Context, node parser.Node, ectx *Context, macros MacroExecutor) (any, error) {
	return NewEvaluator(macros).Evaluate(ctx, node, ectx)
}

// EvaluateBool evaluates node and reduces the result to its truthiness.
func (e *Evaluator) EvaluateBool(ctx context.Context, node parser.Node, ectx *Context) (bool, error) {
	v, err := e.Evaluate(ctx, node, ectx)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Evaluate returns the value of node. Missing data and incomparable operands
// never produce an error; only unknown functions and macro failures do.
func (e *Evaluator) Evaluate(ctx context.Context, node parser.Node, ectx *Context) (any, error) {
	switch n := node.(type) {
	case *parser.Literal:
		return n.Value, nil
	case *parser.Variable:
		return e.evaluateVariable(ctx, n, ectx)
	case *parser.ListLiteral:
		return e.evaluateList(ctx, n, ectx)
	case *parser.UnaryOp:
		return e.evaluateUnary(ctx, n, ectx)
	case *parser.BinaryOp:
		return e.evaluateBinary(ctx, n, ectx)
	case *parser.FunctionCall:
		return e.evaluateCall(ctx, n, ectx)
	case nil:
		return nil, &Error{Message: "nil expression"}
	default:
		return nil, &Error{Node: node, Message: fmt.Sprintf("unknown node type: %T", node)}
	}
}

// evaluateVariable resolves a path. A bare path whose first segment is not a
// context key is read from the record; @root.path reads the context
// directly, and a lone @name that is not a context key is a macro call.
func (e *Evaluator) evaluateVariable(ctx context.Context, n *parser.Variable, ectx *Context) (any, error) {
	segments := n.Segments()

	if ectx.Has(segments[0]) {
		return ectx.Lookup(segments...), nil
	}

	if n.IsContextRef() {
		if len(segments) == 1 && e.macros != nil {
			return e.callMacro(ctx, n, segments[0], nil, ectx)
		}
		return nil, nil
	}

	return ectx.Lookup(append([]string{RootRecord}, segments...)...), nil
}

func (e *Evaluator) evaluateList(ctx context.Context, n *parser.ListLiteral, ectx *Context) (any, error) {
	items := make([]any, len(n.Items))
	for i, item := range n.Items {
		v, err := e.Evaluate(ctx, item, ectx)
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	return items, nil
}

func (e *Evaluator) evaluateUnary(ctx context.Context, n *parser.UnaryOp, ectx *Context) (any, error) {
	operand, err := e.Evaluate(ctx, n.Operand, ectx)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case parser.OpNot:
		return !Truthy(operand), nil
	default:
		return nil, &Error{Node: n, Message: fmt.Sprintf("unsupported unary operator %s", n.Op)}
	}
}

func (e *Evaluator) evaluateBinary(ctx context.Context, n *parser.BinaryOp, ectx *Context) (any, error) {
	left, err := e.Evaluate(ctx, n.Left, ectx)
	if err != nil {
		return nil, err
	}

	// Short-circuit before touching the right operand
	switch n.Op {
	case parser.OpAnd:
		if !Truthy(left) {
			return false, nil
		}
		right, err := e.Evaluate(ctx, n.Right, ectx)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	case parser.OpOr:
		if Truthy(left) {
			return true, nil
		}
		right, err := e.Evaluate(ctx, n.Right, ectx)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	}

	right, err := e.Evaluate(ctx, n.Right, ectx)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case parser.OpEq:
		return Equal(left, right), nil
	case parser.OpNeq:
		return !Equal(left, right), nil
	case parser.OpGt:
		c, ok := Compare(left, right)
		return ok && c > 0, nil
	case parser.OpLt:
		c, ok := Compare(left, right)
		return ok && c < 0, nil
	case parser.OpGte:
		c, ok := Compare(left, right)
		return ok && c >= 0, nil
	case parser.OpLte:
		c, ok := Compare(left, right)
		return ok && c <= 0, nil
	case parser.OpIn:
		return Contains(right, left), nil
	default:
		return nil, &Error{Node: n, Message: fmt.Sprintf("unsupported binary operator %s", n.Op)}
	}
}

func (e *Evaluator) evaluateCall(ctx context.Context, n *parser.FunctionCall, ectx *Context) (any, error) {
	args := make([]any, len(n.Args))
	for i, arg := range n.Args {
		v, err := e.Evaluate(ctx, arg, ectx)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	if n.IsMacro() {
		return e.callMacro(ctx, n, n.MacroName(), args, ectx)
	}

	fn, ok := builtinFunctions[n.Name]
	if !ok {
		return nil, &Error{Node: n, Message: fmt.Sprintf("unknown function %q", n.Name), Err: ErrUnknownFunction}
	}
	return fn(args), nil
}

func (e *Evaluator) callMacro(ctx context.Context, n parser.Node, name string, args []any, ectx *Context) (any, error) {
	if e.macros == nil {
		return nil, &Error{Node: n, Message: fmt.Sprintf("unknown macro @%s", name), Err: ErrUnknownFunction}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err := e.macros.ExecuteMacro(ctx, name, args, ectx)
	if err != nil {
		return nil, fmt.Errorf("macro @%s: %w", name, err)
	}
	return v, nil
}
