package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is a rule expression AST node.
// Nodes are never modified after Parse returns, so one tree can be
// evaluated from many goroutines at once.
type Node interface {
	// Pos returns the byte offset of the node in the source
	Pos() int
	// String renders the node in fully parenthesized form
	String() string
	isNode()
}

// Operator is the closed set of unary and binary operators
type Operator int

const (
	OpEq Operator = iota
	OpNeq
	OpGt
	OpLt
	OpGte
	OpLte
	OpAnd
	OpOr
	OpIn
	OpNot
)

var operatorNames = [...]string{
	OpEq:  "==",
	OpNeq: "!=",
	OpGt:  ">",
	OpLt:  "<",
	OpGte: ">=",
	OpLte: "<=",
	OpAnd: "and",
	OpOr:  "or",
	OpIn:  "in",
	OpNot: "not",
}

func (o Operator) String() string {
	if int(o) >= 0 && int(o) < len(operatorNames) {
		return operatorNames[o]
	}
	return fmt.Sprintf("Operator(%d)", int(o))
}

// comparisonOperators maps comparison tokens to operators
var comparisonOperators = map[TokenType]Operator{
	TOKEN_EQ:  OpEq,
	TOKEN_NEQ: OpNeq,
	TOKEN_GT:  OpGt,
	TOKEN_LT:  OpLt,
	TOKEN_GTE: OpGte,
	TOKEN_LTE: OpLte,
	TOKEN_IN:  OpIn,
}

// Literal is a string, int64, float64, bool or nil constant
type Literal struct {
	Value    any
	Position int
}

func (n *Literal) isNode()  {}
func (n *Literal) Pos() int { return n.Position }

func (n *Literal) String() string {
	switch v := n.Value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	default:
		return fmt.Sprint(v)
	}
}

// Variable is a dotted context path such as user.role or @request.auth.id
type Variable struct {
	Path     string
	Position int
}

func (n *Variable) isNode()        {}
func (n *Variable) Pos() int       { return n.Position }
func (n *Variable) String() string { return n.Path }

// Segments returns the path split on dots, without a leading '@'
func (n *Variable) Segments() []string {
	return strings.Split(strings.TrimPrefix(n.Path, "@"), ".")
}

// IsContextRef reports whether the path was written with a leading '@'
func (n *Variable) IsContextRef() bool {
	return strings.HasPrefix(n.Path, "@")
}

// ListLiteral is a bracketed list of expressions
type ListLiteral struct {
	Items    []Node
	Position int
}

func (n *ListLiteral) isNode()  {}
func (n *ListLiteral) Pos() int { return n.Position }

func (n *ListLiteral) String() string {
	parts := make([]string, len(n.Items))
	for i, item := range n.Items {
		parts[i] = item.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// UnaryOp applies OpNot to its operand
type UnaryOp struct {
	Op       Operator
	Operand  Node
	Position int
}

func (n *UnaryOp) isNode()  {}
func (n *UnaryOp) Pos() int { return n.Position }

func (n *UnaryOp) String() string {
	return fmt.Sprintf("(%s %s)", n.Op, n.Operand)
}

// BinaryOp is a comparison, membership or logical operation
type BinaryOp struct {
	Op       Operator
	Left     Node
	Right    Node
	Position int
}

func (n *BinaryOp) isNode()  {}
func (n *BinaryOp) Pos() int { return n.Position }

func (n *BinaryOp) String() string {
	return fmt.Sprintf("(%s %s %s)", n.Left, n.Op, n.Right)
}

// FunctionCall is a built-in function call or, when Name starts with '@', a macro call
type FunctionCall struct {
	Name     string
	Args     []Node
	Position int
}

func (n *FunctionCall) isNode()  {}
func (n *FunctionCall) Pos() int { return n.Position }

func (n *FunctionCall) String() string {
	parts := make([]string, len(n.Args))
	for i, arg := range n.Args {
		parts[i] = arg.String()
	}
	return n.Name + "(" + strings.Join(parts, ", ") + ")"
}

// IsMacro reports whether the call targets a macro
func (n *FunctionCall) IsMacro() bool {
	return strings.HasPrefix(n.Name, "@")
}

// MacroName returns the call name without its '@' prefix
func (n *FunctionCall) MacroName() string {
	return strings.TrimPrefix(n.Name, "@")
}
