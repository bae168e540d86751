package parser

import (
	"errors"
	"fmt"
)

// ErrSyntax is matched by every lexing and parsing failure.
var ErrSyntax = errors.New("syntax error")

// SyntaxError reports malformed rule source together with the offending token.
type SyntaxError struct {
	Token   Token
	Message string
}

func newSyntaxError(tok *Token, msg string) *SyntaxError {
	return &SyntaxError{Token: *tok, Message: msg}
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d:%d: %s (got %s)", e.Token.Line, e.Token.Column, e.Message, describe(&e.Token))
}

func (e *SyntaxError) Unwrap() error {
	return ErrSyntax
}

func describe(tok *Token) string {
	switch tok.Type {
	case TOKEN_EOF:
		return "end of input"
	case TOKEN_STRING:
		return fmt.Sprintf("string %q", tok.Value)
	default:
		return fmt.Sprintf("%q", tok.Value)
	}
}
