package ox

// parser_template.go implements the `<set>/<if>/<foreach>/<while>/
// <on-data>/<import>/<inject>` directive grammar (spec.md §4.2/§4.4/§4.5),
// grounded on the teacher's per-tag parse functions
// (_examples/flosch-pongo2/tags_if.go, tags_for.go) generalized from
// pongo2's single flat tag namespace to OX's fixed directive set.

// parseTemplateDirective dispatches on the keyword following '<'.
func (p *Parser) parseTemplateDirective() (Node, error) {
	openLoc := p.current().loc(p.file)
	if _, err := p.expect(TokenLT, "'<'"); err != nil {
		return nil, err
	}
	kw := p.current()
	if kw.Typ != TokenKeyword {
		return nil, p.errorf("expected a directive keyword after '<', found %s", kw)
	}
	switch kw.Val {
	case "set":
		return p.parseSet(openLoc)
	case "if":
		return p.parseIf(openLoc)
	case "foreach":
		return p.parseForeach(openLoc)
	case "while":
		return p.parseWhile(openLoc)
	case "on-data":
		return p.parseOnData(openLoc)
	case "import":
		return p.parseImport(openLoc)
	case "inject":
		return p.parseInject(openLoc)
	default:
		return nil, p.errorf("unknown directive '<%s>'", kw.Val)
	}
}

func (p *Parser) parseSet(loc Location) (*Set, error) {
	p.advance() // 'set'
	nameTok, err := p.expect(TokenIdent, "variable name after 'set'")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenEquals, "'=' after 'set " + nameTok.Val + "'"); err != nil {
		return nil, err
	}
	val, err := p.captureArrayOrExpression(TokenGT)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenGT, "'>' to close '<set>'"); err != nil {
		return nil, err
	}
	return &Set{Name: nameTok.Val, Value: val, Loc: loc}, nil
}

func (p *Parser) parseIf(loc Location) (*If, error) {
	p.advance() // 'if'
	cond, err := p.parseParenthesisedCondition()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenGT, "'>' after 'if' condition"); err != nil {
		return nil, err
	}
	thenBody, err := p.parseBodyUntil("elseif", "else")
	if err != nil {
		return nil, err
	}

	node := &If{Condition: cond, ThenBody: thenBody, Loc: loc}
	for p.atClosingDirective("elseif") {
		p.consumeOpeningOf("elseif")
		branchCond, err := p.parseParenthesisedCondition()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenGT, "'>' after 'elseif' condition"); err != nil {
			return nil, err
		}
		body, err := p.parseBodyUntil("elseif", "else")
		if err != nil {
			return nil, err
		}
		node.ElseIfBranch = append(node.ElseIfBranch, IfBranch{Condition: branchCond, Body: body})
	}
	if p.atClosingDirective("else") {
		p.consumeOpeningOf("else")
		if _, err := p.expect(TokenGT, "'>' after 'else'"); err != nil {
			return nil, err
		}
		body, err := p.parseBodyUntil()
		if err != nil {
			return nil, err
		}
		node.ElseBody = body
	}
	if err := p.expectClosingTag("if"); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *Parser) parseForeach(loc Location) (*Foreach, error) {
	p.advance() // 'foreach'
	if _, err := p.expect(TokenLParen, "'(' after 'foreach'"); err != nil {
		return nil, err
	}
	itemTok, err := p.expect(TokenIdent, "loop item variable")
	if err != nil {
		return nil, err
	}
	node := &Foreach{ItemVar: itemTok.Val, Loc: loc}
	if _, ok := p.match(TokenComma); ok {
		idxTok, err := p.expect(TokenIdent, "loop index variable after ','")
		if err != nil {
			return nil, err
		}
		node.IndexVar = idxTok.Val
		node.HasIndex = true
	}
	if err := p.expectKeyword("in"); err != nil {
		return nil, err
	}
	collTok, err := p.expect(TokenIdent, "collection reference")
	if err != nil {
		return nil, err
	}
	node.Collection = collTok.Val
	if _, err := p.expect(TokenRParen, "')' to close 'foreach(...)'"); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenGT, "'>' after 'foreach(...)'"); err != nil {
		return nil, err
	}
	body, err := p.parseBodyUntil()
	if err != nil {
		return nil, err
	}
	node.Body = body
	if err := p.expectClosingTag("foreach"); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *Parser) parseWhile(loc Location) (*While, error) {
	p.advance() // 'while'
	cond, err := p.parseParenthesisedCondition()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenGT, "'>' after 'while(...)'"); err != nil {
		return nil, err
	}
	body, err := p.parseBodyUntil()
	if err != nil {
		return nil, err
	}
	if err := p.expectClosingTag("while"); err != nil {
		return nil, err
	}
	return &While{Condition: cond, Body: body, Loc: loc}, nil
}

func (p *Parser) parseOnData(loc Location) (*OnData, error) {
	p.advance() // 'on-data'
	nameTok, err := p.expect(TokenIdent, "data source name after 'on-data'")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenGT, "'>' after 'on-data " + nameTok.Val + "'"); err != nil {
		return nil, err
	}
	dataBody, err := p.parseBodyUntil("on-error")
	if err != nil {
		return nil, err
	}
	node := &OnData{SourceName: nameTok.Val, DataBody: dataBody, Loc: loc}
	if p.atClosingDirective("on-error") {
		p.consumeOpeningOf("on-error")
		if _, err := p.expect(TokenGT, "'>' after 'on-error'"); err != nil {
			return nil, err
		}
		errBody, err := p.parseBodyUntil()
		if err != nil {
			return nil, err
		}
		node.ErrorBody = errBody
	}
	if err := p.expectClosingTag("on-data"); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *Parser) parseImport(loc Location) (*Import, error) {
	p.advance() // 'import'
	pathTok, err := p.expect(TokenString, "import path string")
	if err != nil {
		return nil, err
	}
	node := &Import{Path: pathTok.Val, Loc: loc}
	if p.atKeyword("as") {
		p.advance()
		aliasTok, err := p.expect(TokenIdent, "alias after 'as'")
		if err != nil {
			return nil, err
		}
		node.Alias = aliasTok.Val
		node.Has = true
	}
	if _, err := p.expect(TokenGT, "'>' to close '<import>'"); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *Parser) parseInject(loc Location) (*Inject, error) {
	p.advance() // 'inject'
	pathTok, err := p.expect(TokenString, "inject path string")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenGT, "'>' to close '<inject>'"); err != nil {
		return nil, err
	}
	return &Inject{Path: pathTok.Val, Loc: loc}, nil
}

func (p *Parser) parseParenthesisedCondition() (*Value, error) {
	if _, err := p.expect(TokenLParen, "'(' to open condition"); err != nil {
		return nil, err
	}
	cond := p.captureExpression(TokenRParen)
	if _, err := p.expect(TokenRParen, "')' to close condition"); err != nil {
		return nil, err
	}
	return cond, nil
}

// parseBodyUntil parses a node list (blocks, free text, nested directives)
// until it sees a closing `</keyword>` tag, or an opening `<keyword>` tag
// whose keyword is one of stopKeywords (used for elseif/else/on-error,
// which are continuations of the same directive rather than its close).
func (p *Parser) parseBodyUntil(stopKeywords ...string) ([]Node, error) {
	var nodes []Node
	var pendingFreeText *FreeText
	flush := func() {
		if pendingFreeText != nil {
			nodes = append(nodes, pendingFreeText)
			pendingFreeText = nil
		}
	}
	for {
		if p.atEOF() {
			return nil, p.errorf("unexpected end of input inside directive body")
		}
		if p.at(TokenLT) && p.peekIsClosingTag() {
			flush()
			return nodes, nil
		}
		if p.at(TokenLT) {
			for _, kw := range stopKeywords {
				if p.peekOpeningKeyword() == kw {
					flush()
					return nodes, nil
				}
			}
		}
		switch {
		case p.at(TokenFreeText):
			t := p.advance()
			ftTags, err := p.parseTags()
			if err != nil {
				return nil, err
			}
			if hasMixedTagKinds(ftTags) {
				return nil, p.errorAs("MixedTagKinds", "free text carries both definition (@) and instance (#) tags")
			}
			if pendingFreeText != nil && len(pendingFreeText.Tags) == 0 && len(ftTags) == 0 {
				pendingFreeText.Text += t.Val
				continue
			}
			flush()
			pendingFreeText = &FreeText{Text: t.Val, Tags: ftTags, Loc: t.loc(p.file)}
		case p.at(TokenLT):
			flush()
			node, err := p.parseTemplateDirective()
			if err != nil {
				return nil, err
			}
			if imp, ok := node.(*Import); ok {
				return nil, newErrf(KindParseError, "NestedImport", imp.Loc, "'<import>' is only valid at document top level")
			}
			nodes = append(nodes, node)
		case p.at(TokenAt), p.at(TokenHash), p.at(TokenIdent), p.at(TokenLBrace):
			flush()
			child, err := p.parseBlock()
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, child)
		default:
			return nil, p.errorf("unexpected token %s inside directive body", p.current())
		}
	}
}

// peekIsClosingTag reports whether the upcoming tokens are `< / KEYWORD >`.
func (p *Parser) peekIsClosingTag() bool {
	return p.idx+1 < len(p.tokens) && p.tokens[p.idx+1].Typ == TokenSlash
}

// peekOpeningKeyword returns the keyword of an upcoming `< KEYWORD` (not a
// closing tag), or "" if the current token isn't such an opener.
func (p *Parser) peekOpeningKeyword() string {
	if !p.at(TokenLT) || p.peekIsClosingTag() {
		return ""
	}
	if p.idx+1 < len(p.tokens) && p.tokens[p.idx+1].Typ == TokenKeyword {
		return p.tokens[p.idx+1].Val
	}
	return ""
}

func (p *Parser) atClosingDirective(keyword string) bool {
	return p.peekOpeningKeyword() == keyword
}

// consumeOpeningOf consumes `< KEYWORD` for a continuation directive
// (elseif/else/on-error), leaving the cursor positioned at whatever follows
// (a '(' for elseif, '>' for else/on-error).
func (p *Parser) consumeOpeningOf(keyword string) {
	p.advance() // '<'
	p.advance() // keyword
	_ = keyword
}

// expectClosingTag consumes `< / KEYWORD >` for the given directive.
func (p *Parser) expectClosingTag(keyword string) error {
	if _, err := p.expect(TokenLT, "'<' to close '<"+keyword+">'"); err != nil {
		return err
	}
	if _, err := p.expect(TokenSlash, "'/' in closing tag"); err != nil {
		return err
	}
	if !p.atKeyword(keyword) {
		return p.errorf("expected closing tag '</%s>', found '</%s>'", keyword, p.current().Val)
	}
	p.advance()
	if _, err := p.expect(TokenGT, "'>' to finish closing tag"); err != nil {
		return err
	}
	return nil
}
