package macro

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/asakaida/rowguard/internal/repositories"
	"github.com/asakaida/rowguard/internal/services/parser"
)

// DefaultMaxDepth is the default maximum macro expansion depth
const DefaultMaxDepth = 3

// macroPattern matches @name and @name(args). Arguments end at the first
// closing parenthesis, so nested calls and quoted commas inside arguments
// are not supported.
var macroPattern = regexp.MustCompile(`@(\w+)(?:\(([^)]*)\))?`)

// Expander substitutes macros into rule source text before it is parsed.
// Depth is passed explicitly on every call; an Expander has no mutable
// state and is safe for concurrent use.
type Expander struct {
	macros     repositories.MacroRepository
	textMacros map[string]string
	maxDepth   int
	logger     *zap.Logger
}

// ExpanderOption configures an Expander
type ExpanderOption func(*Expander)

// WithMaxDepth sets the maximum expansion depth
func WithMaxDepth(depth int) ExpanderOption {
	return func(e *Expander) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// WithTextMacros adds text macros on top of the built-in table
func WithTextMacros(fragments map[string]string) ExpanderOption {
	return func(e *Expander) {
		for name, fragment := range fragments {
			e.textMacros[name] = fragment
		}
	}
}

// WithExpanderLogger sets the logger
func WithExpanderLogger(logger *zap.Logger) ExpanderOption {
	return func(e *Expander) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExpander creates a new Expander. macros may be nil, in which case
// only built-in text macros are expanded.
func NewExpander(macros repositories.MacroRepository, opts ...ExpanderOption) *Expander {
	e := &Expander{
		macros:     macros,
		textMacros: make(map[string]string, len(textMacros)),
		maxDepth:   DefaultMaxDepth,
		logger:     zap.NewNop(),
	}
	for name, fragment := range textMacros {
		e.textMacros[name] = fragment
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxDepth returns the configured maximum depth
func (e *Expander) MaxDepth() int {
	return e.maxDepth
}

// CheckGateRule reports text macros in a parsed gate rule that would be
// evaluated as unknown stored macros. Gate rules are never expanded, so a
// text macro there needs a predicate of the same name.
func (e *Expander) CheckGateRule(node parser.Node) error {
	switch n := node.(type) {
	case *parser.FunctionCall:
		if n.IsMacro() {
			if err := e.checkGateMacro(n.MacroName()); err != nil {
				return err
			}
		}
		for _, arg := range n.Args {
			if err := e.CheckGateRule(arg); err != nil {
				return err
			}
		}
	case *parser.Variable:
		if segments := n.Segments(); n.IsContextRef() && len(segments) == 1 {
			return e.checkGateMacro(segments[0])
		}
	case *parser.UnaryOp:
		return e.CheckGateRule(n.Operand)
	case *parser.BinaryOp:
		if err := e.CheckGateRule(n.Left); err != nil {
			return err
		}
		return e.CheckGateRule(n.Right)
	case *parser.ListLiteral:
		for _, item := range n.Items {
			if err := e.CheckGateRule(item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Expander) checkGateMacro(name string) error {
	if _, ok := e.textMacros[name]; ok && !IsPredicate(name) {
		return fmt.Errorf("%w: @%s", ErrFilterOnly, name)
	}
	return nil
}

// Expand replaces every @name / @name(args) in expression with its
// parenthesized, recursively expanded fragment. References to context roots
// (@request.auth.id) and unknown names are left as written.
func (e *Expander) Expand(ctx context.Context, expression string, depth int) (string, error) {
	if depth > e.maxDepth {
		return "", &RecursionError{Expression: expression, Depth: depth, MaxDepth: e.maxDepth}
	}

	if !strings.Contains(expression, "@") {
		return expression, nil
	}

	matches := macroPattern.FindAllStringSubmatchIndex(expression, -1)
	result := expression

	// Splice from the end so earlier offsets stay valid
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		name := expression[m[2]:m[3]]

		var args []string
		if m[4] >= 0 {
			args = splitArgs(expression[m[4]:m[5]])
		}

		fragment, ok, err := e.fragment(ctx, name, args)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}

		expanded, err := e.Expand(ctx, fragment, depth+1)
		if err != nil {
			return "", err
		}

		result = result[:m[0]] + "(" + expanded + ")" + result[m[1]:]
	}

	return result, nil
}

// fragment returns the replacement text for a macro; ok is false when the
// occurrence must be left untouched
func (e *Expander) fragment(ctx context.Context, name string, args []string) (string, bool, error) {
	if contextRoots[name] {
		return "", false, nil
	}

	if text, ok := e.textMacros[name]; ok {
		return text, true, nil
	}

	// Predicate macros are resolved at evaluation time
	if IsPredicate(name) || e.macros == nil {
		return "", false, nil
	}

	m, err := e.macros.GetByName(ctx, name)
	if errors.Is(err, repositories.ErrNotFound) {
		e.logger.Debug("leaving unknown macro unexpanded", zap.String("macro", name))
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load macro %q: %w", name, err)
	}

	if len(args) != len(m.Parameters) {
		e.logger.Warn("macro expanded with mismatched argument count",
			zap.String("macro", name),
			zap.Int("expected", len(m.Parameters)),
			zap.Int("got", len(args)),
		)
	}

	return substituteParams(m.SQLQuery, args), true, nil
}

// splitArgs splits macro arguments on commas without regard to quoting
func splitArgs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// substituteParams replaces $1..$n with args, highest first so that $1
// never clobbers the prefix of $10
func substituteParams(query string, args []string) string {
	for n := len(args); n >= 1; n-- {
		query = strings.ReplaceAll(query, "$"+strconv.Itoa(n), args[n-1])
	}
	return query
}
