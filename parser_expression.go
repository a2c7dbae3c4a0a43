package ox

// captureExpression consumes tokens into a deferred Expression Value
// (spec.md §4.2 "Expression capture"): the parser does not evaluate
// arithmetic/reference expressions itself, it only needs to know where one
// ends. It tracks nested (), [], {} depth and stops at the first
// terminator token seen at depth 0, without consuming the terminator.
//
// Grounded on _examples/flosch-pongo2/parser_expression.go's approach of
// deferring evaluation to a later stage, generalized from "parse into an
// expression tree now" to "capture tokens now, evaluate twice later"
// per spec.md §9's two-pass/shared-evaluator design.
func (p *Parser) captureExpression(terminators ...TokenType) *Value {
	start := p.current()
	var tokens []*Token
	depth := 0

	isTerminator := func(t *Token) bool {
		if depth != 0 {
			return false
		}
		for _, term := range terminators {
			if t.Typ == term {
				return true
			}
		}
		return false
	}

	for {
		t := p.current()
		if t.Typ == TokenEOF || isTerminator(t) {
			break
		}
		switch t.Typ {
		case TokenLParen, TokenLBracket, TokenLBrace:
			depth++
		case TokenRParen, TokenRBracket, TokenRBrace:
			depth--
		}
		tokens = append(tokens, t)
		p.advance()
	}

	return &Value{
		Kind:   ValueExpression,
		Tokens: tokens,
		Loc:    Location{File: p.file, Line: start.Line, Column: start.Column},
	}
}

// captureScalarExpression is captureExpression specialized for a property
// value with no surrounding delimiter: since the grammar has no required
// separator between one property and the next (`key1 = 1 key2 = 2`), it
// additionally stops at depth 0 the moment it sees the start of the next
// member — an identifier immediately followed by '=' (the next property),
// or the start of a nested block (a tag marker, a bare '{', or an
// identifier immediately followed by '{').
func (p *Parser) captureScalarExpression(terminators ...TokenType) *Value {
	start := p.current()
	var tokens []*Token
	depth := 0

	isTerminator := func(t *Token) bool {
		for _, term := range terminators {
			if t.Typ == term {
				return true
			}
		}
		return false
	}

	for {
		t := p.current()
		if t.Typ == TokenEOF {
			break
		}
		if depth == 0 {
			if isTerminator(t) {
				break
			}
			if len(tokens) > 0 && p.startsNextMember() {
				break
			}
		}
		switch t.Typ {
		case TokenLParen, TokenLBracket, TokenLBrace:
			depth++
		case TokenRParen, TokenRBracket, TokenRBrace:
			depth--
		}
		tokens = append(tokens, t)
		p.advance()
	}

	return &Value{
		Kind:   ValueExpression,
		Tokens: tokens,
		Loc:    Location{File: p.file, Line: start.Line, Column: start.Column},
	}
}

// startsNextMember reports whether the parser sits at the boundary of the
// next block member: `ident =` (a property) or a block opener (a tag
// marker, a bare '{', or `ident {`).
func (p *Parser) startsNextMember() bool {
	switch p.current().Typ {
	case TokenAt, TokenHash, TokenLBrace, TokenFreeText:
		return true
	case TokenIdent:
		if p.idx+1 < len(p.tokens) {
			next := p.tokens[p.idx+1].Typ
			return next == TokenEquals || next == TokenLBrace
		}
		return false
	default:
		return false
	}
}

// captureArrayOrExpression handles a property value position (spec.md §4.2
// grammar): `[` begins an array literal of comma-separated Values (each of
// which may itself be an expression), anything else is a single deferred
// expression up to the given terminators.
func (p *Parser) captureArrayOrExpression(terminators ...TokenType) (*Value, error) {
	if !p.at(TokenLBracket) {
		return p.captureScalarExpression(terminators...), nil
	}

	start := p.current()
	p.advance() // [
	var items []*Value
	for !p.at(TokenRBracket) {
		if p.atEOF() {
			return nil, p.errorf("unterminated array literal, expected ']'")
		}
		items = append(items, p.captureExpression(TokenComma, TokenRBracket))
		if _, ok := p.match(TokenComma); !ok {
			break
		}
	}
	if _, err := p.expect(TokenRBracket, "']'"); err != nil {
		return nil, err
	}
	return &Value{
		Kind:  ValueArray,
		Items: items,
		Loc:   Location{File: p.file, Line: start.Line, Column: start.Column},
	}, nil
}
