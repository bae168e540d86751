package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// TokenType represents the type of a token
type TokenType int

const (
	TOKEN_ILLEGAL TokenType = iota
	TOKEN_EOF

	// Identifiers and literals
	TOKEN_IDENTIFIER // user.profile.email, @request.auth.id
	TOKEN_STRING
	TOKEN_INT
	TOKEN_FLOAT
	TOKEN_BOOLEAN
	TOKEN_NULL

	// Logical operators
	TOKEN_AND // and, &&
	TOKEN_OR  // or, ||
	TOKEN_NOT // not, !
	TOKEN_IN

	// Comparison operators
	TOKEN_EQ  // ==, =
	TOKEN_NEQ // !=
	TOKEN_LT  // <
	TOKEN_LTE // <=
	TOKEN_GT  // >
	TOKEN_GTE // >=

	// Delimiters
	TOKEN_LPAREN
	TOKEN_RPAREN
	TOKEN_LBRACKET
	TOKEN_RBRACKET
	TOKEN_COMMA
)

var tokenNames = map[TokenType]string{
	TOKEN_ILLEGAL:    "ILLEGAL",
	TOKEN_EOF:        "EOF",
	TOKEN_IDENTIFIER: "IDENTIFIER",
	TOKEN_STRING:     "STRING",
	TOKEN_INT:        "INT",
	TOKEN_FLOAT:      "FLOAT",
	TOKEN_BOOLEAN:    "BOOLEAN",
	TOKEN_NULL:       "null",
	TOKEN_AND:        "and",
	TOKEN_OR:         "or",
	TOKEN_NOT:        "not",
	TOKEN_IN:         "in",
	TOKEN_EQ:         "==",
	TOKEN_NEQ:        "!=",
	TOKEN_LT:         "<",
	TOKEN_LTE:        "<=",
	TOKEN_GT:         ">",
	TOKEN_GTE:        ">=",
	TOKEN_LPAREN:     "(",
	TOKEN_RPAREN:     ")",
	TOKEN_LBRACKET:   "[",
	TOKEN_RBRACKET:   "]",
	TOKEN_COMMA:      ",",
}

// String returns the display name of the token type
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(t))
}

// keyword tokens carry their resolved literal value
var keywords = map[string]struct {
	typ     TokenType
	literal any
}{
	"true":  {TOKEN_BOOLEAN, true},
	"false": {TOKEN_BOOLEAN, false},
	"null":  {TOKEN_NULL, nil},
	"and":   {TOKEN_AND, nil},
	"or":    {TOKEN_OR, nil},
	"not":   {TOKEN_NOT, nil},
	"in":    {TOKEN_IN, nil},
}

// Token represents a lexical token
type Token struct {
	Type    TokenType
	Value   string // source text (unquoted for strings)
	Literal any    // resolved value for STRING, INT, FLOAT, BOOLEAN
	Pos     int    // byte offset in the source
	Line    int
	Column  int
}

// String returns a string representation of the token
func (t *Token) String() string {
	if t.Type == TOKEN_EOF {
		return fmt.Sprintf("EOF at %d:%d", t.Line, t.Column)
	}
	return fmt.Sprintf("%s(%s) at %d:%d", t.Type, t.Value, t.Line, t.Column)
}

// Lexer performs lexical analysis of rule expressions
type Lexer struct {
	input        string
	position     int  // current position in input (points to current char)
	readPosition int  // current reading position in input (after current char)
	ch           byte // current char under examination
	line         int
	column       int
}

// NewLexer creates a new Lexer
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input:  input,
		line:   1,
		column: 0,
	}
	l.readChar()
	return l
}

// Tokenize converts source into a token stream that always ends with EOF.
func Tokenize(source string) ([]Token, error) {
	l := NewLexer(source)
	var tokens []Token
	for {
		tok, err := l.NextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *tok)
		if tok.Type == TOKEN_EOF {
			return tokens, nil
		}
	}
}

// readChar reads the next character and advances position
func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0 // EOF
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
	l.column++

	if l.ch == '\n' {
		l.line++
		l.column = 0
	}
}

// peekChar returns the next character without advancing position
func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

func (l *Lexer) atEOF() bool {
	return l.position >= len(l.input)
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

// readIdentifier reads an identifier including dotted segments.
// A dot only continues the identifier when it is followed by a letter or underscore.
func (l *Lexer) readIdentifier() string {
	position := l.position
	if l.ch == '@' {
		l.readChar()
	}
	for {
		for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
			l.readChar()
		}
		if l.ch == '.' && isIdentStart(l.peekChar()) {
			l.readChar()
			continue
		}
		return l.input[position:l.position]
	}
}

// readNumber reads an integer or float literal, with an optional leading minus
func (l *Lexer) readNumber() (string, bool) {
	position := l.position
	isFloat := false
	if l.ch == '-' {
		l.readChar()
	}
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		isFloat = true
		l.readChar() // consume '.'
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[position:l.position], isFloat
}

// readString reads a quoted string literal and resolves escape sequences
func (l *Lexer) readString(line, column int) (string, error) {
	quote := l.ch
	var sb strings.Builder
	for {
		l.readChar()
		if l.atEOF() {
			return "", newSyntaxError(
				&Token{Type: TOKEN_ILLEGAL, Value: string(quote), Pos: l.position, Line: line, Column: column},
				"unterminated string literal")
		}
		switch l.ch {
		case quote:
			l.readChar() // skip closing quote
			return sb.String(), nil
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '\\', '\'', '"':
				sb.WriteByte(l.ch)
			default:
				if l.atEOF() {
					continue
				}
				sb.WriteByte('\\')
				sb.WriteByte(l.ch)
			}
		default:
			sb.WriteByte(l.ch)
		}
	}
}

func (l *Lexer) twoCharToken(next byte, twoType TokenType, oneType TokenType, line, column int) *Token {
	pos := l.position
	if l.peekChar() == next {
		value := l.input[pos : pos+2]
		l.readChar()
		l.readChar()
		return &Token{Type: twoType, Value: value, Pos: pos, Line: line, Column: column}
	}
	value := l.input[pos : pos+1]
	l.readChar()
	return &Token{Type: oneType, Value: value, Pos: pos, Line: line, Column: column}
}

// NextToken returns the next token
func (l *Lexer) NextToken() (*Token, error) {
	l.skipWhitespace()

	line := l.line
	column := l.column
	pos := l.position

	if l.atEOF() {
		return &Token{Type: TOKEN_EOF, Pos: len(l.input), Line: line, Column: column}, nil
	}

	single := func(t TokenType) (*Token, error) {
		tok := &Token{Type: t, Value: string(l.ch), Pos: pos, Line: line, Column: column}
		l.readChar()
		return tok, nil
	}

	switch l.ch {
	case '=':
		// "=" and "==" are both equality
		return l.twoCharToken('=', TOKEN_EQ, TOKEN_EQ, line, column), nil
	case '!':
		return l.twoCharToken('=', TOKEN_NEQ, TOKEN_NOT, line, column), nil
	case '<':
		return l.twoCharToken('=', TOKEN_LTE, TOKEN_LT, line, column), nil
	case '>':
		return l.twoCharToken('=', TOKEN_GTE, TOKEN_GT, line, column), nil
	case '&':
		if l.peekChar() != '&' {
			return nil, l.illegal(line, column)
		}
		return l.twoCharToken('&', TOKEN_AND, TOKEN_ILLEGAL, line, column), nil
	case '|':
		if l.peekChar() != '|' {
			return nil, l.illegal(line, column)
		}
		return l.twoCharToken('|', TOKEN_OR, TOKEN_ILLEGAL, line, column), nil
	case '(':
		return single(TOKEN_LPAREN)
	case ')':
		return single(TOKEN_RPAREN)
	case '[':
		return single(TOKEN_LBRACKET)
	case ']':
		return single(TOKEN_RBRACKET)
	case ',':
		return single(TOKEN_COMMA)
	case '"', '\'':
		value, err := l.readString(line, column)
		if err != nil {
			return nil, err
		}
		return &Token{Type: TOKEN_STRING, Value: value, Literal: value, Pos: pos, Line: line, Column: column}, nil
	case '@':
		if !isIdentStart(l.peekChar()) {
			return nil, l.illegal(line, column)
		}
		value := l.readIdentifier()
		return &Token{Type: TOKEN_IDENTIFIER, Value: value, Pos: pos, Line: line, Column: column}, nil
	case '-':
		if !isDigit(l.peekChar()) {
			return nil, l.illegal(line, column)
		}
		return l.number(pos, line, column)
	}

	switch {
	case isIdentStart(l.ch):
		value := l.readIdentifier()
		if kw, ok := keywords[value]; ok {
			return &Token{Type: kw.typ, Value: value, Literal: kw.literal, Pos: pos, Line: line, Column: column}, nil
		}
		return &Token{Type: TOKEN_IDENTIFIER, Value: value, Pos: pos, Line: line, Column: column}, nil
	case isDigit(l.ch):
		return l.number(pos, line, column)
	default:
		return nil, l.illegal(line, column)
	}
}

func (l *Lexer) number(pos, line, column int) (*Token, error) {
	value, isFloat := l.readNumber()
	if isFloat {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, newSyntaxError(&Token{Type: TOKEN_FLOAT, Value: value, Pos: pos, Line: line, Column: column}, "invalid float literal")
		}
		return &Token{Type: TOKEN_FLOAT, Value: value, Literal: f, Pos: pos, Line: line, Column: column}, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, newSyntaxError(&Token{Type: TOKEN_INT, Value: value, Pos: pos, Line: line, Column: column}, "integer literal out of range")
	}
	return &Token{Type: TOKEN_INT, Value: value, Literal: n, Pos: pos, Line: line, Column: column}, nil
}

func (l *Lexer) illegal(line, column int) error {
	tok := &Token{Type: TOKEN_ILLEGAL, Value: string(l.ch), Pos: l.position, Line: line, Column: column}
	return newSyntaxError(tok, fmt.Sprintf("illegal character '%c'", l.ch))
}

func isIdentStart(ch byte) bool {
	return isLetter(ch) || ch == '_'
}

// isLetter checks if a character is an ASCII letter
func isLetter(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z')
}

// isDigit checks if a character is a digit
func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}
