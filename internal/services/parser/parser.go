package parser

import (
	"fmt"
)

// Parser is a recursive-descent parser for rule expressions.
//
// Precedence, lowest to highest:
//
//	or < and < not < comparison (== != > < >= <= in) < unary < primary
type Parser struct {
	tokens  []Token
	pos     int
	current *Token
	peek    *Token
}

// NewParser creates a new Parser over a token stream produced by Tokenize.
// A missing trailing EOF token is added.
func NewParser(tokens []Token) *Parser {
	if len(tokens) == 0 || tokens[len(tokens)-1].Type != TOKEN_EOF {
		end := 0
		if len(tokens) > 0 {
			last := tokens[len(tokens)-1]
			end = last.Pos + len(last.Value)
		}
		tokens = append(tokens[:len(tokens):len(tokens)], Token{Type: TOKEN_EOF, Pos: end})
	}
	p := &Parser{tokens: tokens, pos: -1}

	// Read one token to initialize current and peek
	p.nextToken()
	return p
}

// Parse parses a full token stream into a single expression.
func Parse(tokens []Token) (Node, error) {
	return NewParser(tokens).Parse()
}

// ParseString tokenizes and parses source in one step.
func ParseString(source string) (Node, error) {
	tokens, err := Tokenize(source)
	if err != nil {
		return nil, err
	}
	return Parse(tokens)
}

// nextToken advances to the next token; EOF is sticky
func (p *Parser) nextToken() {
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	p.current = &p.tokens[p.pos]
	if p.pos+1 < len(p.tokens) {
		p.peek = &p.tokens[p.pos+1]
	} else {
		p.peek = p.current
	}
}

// currentTokenIs checks if the current token is of the given type
func (p *Parser) currentTokenIs(t TokenType) bool {
	return p.current.Type == t
}

// peekTokenIs checks if the peek token is of the given type
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peek.Type == t
}

// expect consumes the current token if it has the given type
func (p *Parser) expect(t TokenType) error {
	if !p.currentTokenIs(t) {
		return newSyntaxError(p.current, fmt.Sprintf("expected %s", t))
	}
	p.nextToken()
	return nil
}

// Parse parses the entire stream; unconsumed tokens are an error.
func (p *Parser) Parse() (Node, error) {
	if p.currentTokenIs(TOKEN_EOF) {
		return nil, newSyntaxError(p.current, "empty expression")
	}

	expr, err := p.parseOrExpression()
	if err != nil {
		return nil, err
	}

	if !p.currentTokenIs(TOKEN_EOF) {
		return nil, newSyntaxError(p.current, "unexpected token after expression")
	}

	return expr, nil
}

// parseOrExpression parses OR expressions
func (p *Parser) parseOrExpression() (Node, error) {
	left, err := p.parseAndExpression()
	if err != nil {
		return nil, err
	}

	for p.currentTokenIs(TOKEN_OR) {
		pos := p.current.Pos
		p.nextToken()
		right, err := p.parseAndExpression()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: OpOr, Left: left, Right: right, Position: pos}
	}

	return left, nil
}

// parseAndExpression parses AND expressions
func (p *Parser) parseAndExpression() (Node, error) {
	left, err := p.parseNotExpression()
	if err != nil {
		return nil, err
	}

	for p.currentTokenIs(TOKEN_AND) {
		pos := p.current.Pos
		p.nextToken()
		right, err := p.parseNotExpression()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: OpAnd, Left: left, Right: right, Position: pos}
	}

	return left, nil
}

// parseNotExpression parses a NOT that applies to a whole comparison
func (p *Parser) parseNotExpression() (Node, error) {
	if p.currentTokenIs(TOKEN_NOT) {
		pos := p.current.Pos
		p.nextToken()
		operand, err := p.parseNotExpression()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: OpNot, Operand: operand, Position: pos}, nil
	}

	return p.parseComparison()
}

// parseComparison parses comparisons and membership, left associative
func (p *Parser) parseComparison() (Node, error) {
	left, err := p.parseUnaryExpression()
	if err != nil {
		return nil, err
	}

	for {
		op, ok := comparisonOperators[p.current.Type]
		if !ok {
			return left, nil
		}
		pos := p.current.Pos
		p.nextToken()
		right, err := p.parseUnaryExpression()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: op, Left: left, Right: right, Position: pos}
	}
}

// parseUnaryExpression parses a NOT in operand position, e.g. a == not b
func (p *Parser) parseUnaryExpression() (Node, error) {
	if p.currentTokenIs(TOKEN_NOT) {
		pos := p.current.Pos
		p.nextToken()
		operand, err := p.parseUnaryExpression()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: OpNot, Operand: operand, Position: pos}, nil
	}

	return p.parsePrimaryExpression()
}

// parsePrimaryExpression parses literals, variables, calls, lists and groups
func (p *Parser) parsePrimaryExpression() (Node, error) {
	tok := p.current

	switch tok.Type {
	case TOKEN_LPAREN:
		// Grouped expression
		p.nextToken()
		expr, err := p.parseOrExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TOKEN_RPAREN); err != nil {
			return nil, err
		}
		return expr, nil

	case TOKEN_LBRACKET:
		return p.parseListLiteral()

	case TOKEN_STRING, TOKEN_INT, TOKEN_FLOAT, TOKEN_BOOLEAN, TOKEN_NULL:
		p.nextToken()
		return &Literal{Value: tok.Literal, Position: tok.Pos}, nil

	case TOKEN_IDENTIFIER:
		if p.peekTokenIs(TOKEN_LPAREN) {
			return p.parseFunctionCall()
		}
		p.nextToken()
		return &Variable{Path: tok.Value, Position: tok.Pos}, nil

	case TOKEN_EOF:
		return nil, newSyntaxError(tok, "unexpected end of input, expected an operand")

	default:
		return nil, newSyntaxError(tok, "unexpected token, expected an operand")
	}
}

// parseFunctionCall parses IDENTIFIER '(' [expr (',' expr)*] ')'
func (p *Parser) parseFunctionCall() (Node, error) {
	name := p.current
	p.nextToken() // identifier
	p.nextToken() // (

	args, err := p.parseExpressionList(TOKEN_RPAREN)
	if err != nil {
		return nil, err
	}

	return &FunctionCall{Name: name.Value, Args: args, Position: name.Pos}, nil
}

// parseListLiteral parses '[' [expr (',' expr)*] ']'
func (p *Parser) parseListLiteral() (Node, error) {
	pos := p.current.Pos
	p.nextToken() // [

	items, err := p.parseExpressionList(TOKEN_RBRACKET)
	if err != nil {
		return nil, err
	}

	return &ListLiteral{Items: items, Position: pos}, nil
}

// parseExpressionList parses comma separated expressions up to and including end
func (p *Parser) parseExpressionList(end TokenType) ([]Node, error) {
	items := []Node{}

	if p.currentTokenIs(end) {
		p.nextToken()
		return items, nil
	}

	for {
		item, err := p.parseOrExpression()
		if err != nil {
			return nil, err
		}
		items = append(items, item)

		if p.currentTokenIs(TOKEN_COMMA) {
			p.nextToken()
			continue
		}
		if err := p.expect(end); err != nil {
			return nil, err
		}
		return items, nil
	}
}
