package evaluation

import "strings"

// builtinFunc receives already evaluated arguments. Built-ins never fail:
// a wrong argument count or type yields false.
type builtinFunc func(args []any) any

var builtinFunctions = map[string]builtinFunc{
	"contains":    containsFunc,
	"starts_with": startsWithFunc,
	"ends_with":   endsWithFunc,
}

// IsBuiltinFunction reports whether name is a built-in (non-macro) function.
func IsBuiltinFunction(name string) bool {
	_, ok := builtinFunctions[name]
	return ok
}

// contains(seq, item): sequence membership, map key membership, or substring.
func containsFunc(args []any) any {
	if len(args) != 2 {
		return false
	}
	if s, ok := args[0].(string); ok {
		sub, ok := args[1].(string)
		return ok && strings.Contains(s, sub)
	}
	return Contains(args[0], args[1])
}

func startsWithFunc(args []any) any {
	s, prefix, ok := stringPair(args)
	return ok && strings.HasPrefix(s, prefix)
}

func endsWithFunc(args []any) any {
	s, suffix, ok := stringPair(args)
	return ok && strings.HasSuffix(s, suffix)
}

func stringPair(args []any) (string, string, bool) {
	if len(args) != 2 {
		return "", "", false
	}
	a, ok := args[0].(string)
	if !ok {
		return "", "", false
	}
	b, ok := args[1].(string)
	if !ok {
		return "", "", false
	}
	return a, b, true
}
