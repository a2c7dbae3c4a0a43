package ox

// This file implements the structural grammar: documents, blocks, tags and
// properties. Template directives (`<set>`, `<if>`, ...) are handled in
// parser_template.go; expression/array value capture lives in
// parser_expression.go. Split the way the teacher splits parser.go from
// tags_*.go per directive (_examples/flosch-pongo2).

// parseDocument lexes and parses a full file into a Document (spec.md §3).
func parseDocument(file, src string) (*Document, error) {
	tokens, err := lexSource(file, src)
	if err != nil {
		return nil, err
	}
	p := newOXParser(file, tokens)
	return p.parseDocument()
}

func (p *Parser) parseDocument() (*Document, error) {
	doc := &Document{File: p.file}
	for !p.atEOF() {
		switch {
		case p.at(TokenLT):
			node, err := p.parseTemplateDirective()
			if err != nil {
				return nil, err
			}
			if imp, ok := node.(*Import); ok {
				doc.Imports = append(doc.Imports, imp)
				continue
			}
			if _, ok := node.(*Inject); ok {
				doc.Blocks = append(doc.Blocks, node)
				continue
			}
			doc.Templates = append(doc.Templates, node)
		case p.at(TokenAt), p.at(TokenHash), p.at(TokenIdent), p.at(TokenLBrace):
			b, err := p.parseBlock()
			if err != nil {
				return nil, err
			}
			doc.Blocks = append(doc.Blocks, b)
		default:
			return nil, p.errorf("unexpected token %s at top level", p.current())
		}
	}
	return doc, nil
}

// parseTags consumes a run of leading `@name` / `#name(arg)` annotations.
func (p *Parser) parseTags() ([]Tag, error) {
	var tags []Tag
	for {
		switch {
		case p.at(TokenAt):
			t := p.advance()
			nameTok, err := p.expect(TokenIdent, "tag name after '@'")
			if err != nil {
				return nil, err
			}
			tags = append(tags, Tag{Kind: TagDefinition, Name: nameTok.Val, Loc: t.loc(p.file)})
		case p.at(TokenHash):
			t := p.advance()
			nameTok, err := p.expect(TokenIdent, "tag name after '#'")
			if err != nil {
				return nil, err
			}
			tag := Tag{Kind: TagInstance, Name: nameTok.Val, Loc: t.loc(p.file)}
			if _, ok := p.match(TokenLParen); ok {
				argTok, err := p.expect(TokenIdent, "tag argument")
				if err != nil {
					return nil, err
				}
				tag.Argument = argTok.Val
				tag.HasArg = true
				if _, err := p.expect(TokenRParen, "')'"); err != nil {
					return nil, err
				}
			}
			tags = append(tags, tag)
		default:
			return tags, nil
		}
	}
}

// hasMixedTagKinds reports whether tags contains both a Definition and an
// Instance tag, which spec.md §4.7 forbids on a single block.
func hasMixedTagKinds(tags []Tag) bool {
	var sawDef, sawInst bool
	for _, t := range tags {
		if t.Kind == TagDefinition {
			sawDef = true
		} else {
			sawInst = true
		}
	}
	return sawDef && sawInst
}

// parseBlock parses `[tags] [id] { members }`.
func (p *Parser) parseBlock() (*Block, error) {
	loc := p.current().loc(p.file)
	tags, err := p.parseTags()
	if err != nil {
		return nil, err
	}
	if hasMixedTagKinds(tags) {
		return nil, p.errorAs("MixedTagKinds", "block carries both definition (@) and instance (#) tags")
	}

	b := newBlock()
	b.Tags = tags
	b.Loc = loc

	if p.at(TokenIdent) {
		idTok := p.advance()
		b.ID = idTok.Val
		b.HasID = true
	}

	if _, err := p.expect(TokenLBrace, "'{' to open block body"); err != nil {
		return nil, err
	}

	var pendingFreeText *FreeText
	flushFreeText := func() {
		if pendingFreeText != nil {
			b.Children = append(b.Children, pendingFreeText)
			pendingFreeText = nil
		}
	}

	for !p.at(TokenRBrace) {
		if p.atEOF() {
			return nil, p.errorf("unterminated block body, expected '}'")
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
			// Adjacent untagged free-text runs merge into a single node so a
			// block's rendered payload is not artificially fragmented by how
			// many backtick fences the author used.
			if pendingFreeText != nil && len(pendingFreeText.Tags) == 0 && len(ftTags) == 0 {
				pendingFreeText.Text += t.Val
				continue
			}
			flushFreeText()
			pendingFreeText = &FreeText{Text: t.Val, Tags: ftTags, Loc: t.loc(p.file)}
		case p.at(TokenLT):
			flushFreeText()
			node, err := p.parseTemplateDirective()
			if err != nil {
				return nil, err
			}
			if imp, ok := node.(*Import); ok {
				return nil, newErrf(KindParseError, "NestedImport", imp.Loc, "'<import>' is only valid at document top level")
			}
			b.Children = append(b.Children, node)
		case p.at(TokenAt), p.at(TokenHash), p.at(TokenIdent), p.at(TokenLBrace):
			// Disambiguate a nested block from a `key = value` property: a
			// bare identifier followed by '=' is a property, otherwise (tags,
			// '{', or ident followed by '{') it's a child block.
			if p.at(TokenIdent) && p.peekIsProperty() {
				flushFreeText()
				key, val, err := p.parseProperty()
				if err != nil {
					return nil, err
				}
				b.SetProperty(key, val)
				continue
			}
			flushFreeText()
			child, err := p.parseBlock()
			if err != nil {
				return nil, err
			}
			b.Children = append(b.Children, child)
		default:
			return nil, p.errorf("unexpected token %s inside block body", p.current())
		}
	}
	flushFreeText()

	if _, err := p.expect(TokenRBrace, "'}' to close block body"); err != nil {
		return nil, err
	}
	return b, nil
}

// peekIsProperty reports whether the current identifier begins a
// `key = value` property rather than a child block's bare id, by checking
// the very next token without consuming anything.
func (p *Parser) peekIsProperty() bool {
	if p.idx+1 >= len(p.tokens) {
		return false
	}
	return p.tokens[p.idx+1].Typ == TokenEquals
}

// parseProperty parses `ident = value`.
func (p *Parser) parseProperty() (string, *Value, error) {
	keyTok, err := p.expect(TokenIdent, "property name")
	if err != nil {
		return "", nil, err
	}
	if _, err := p.expect(TokenEquals, "'=' after property name"); err != nil {
		return "", nil, err
	}
	val, err := p.captureArrayOrExpression(TokenRBrace, TokenFreeText, TokenAt, TokenHash, TokenLT)
	if err != nil {
		return "", nil, err
	}
	if val.Kind == ValueExpression && isLiteralTokenRun(val.Tokens) {
		val = literalizeTokenRun(val.Tokens, val.Loc)
	}
	return keyTok.Val, val, nil
}

// isLiteralTokenRun reports whether a captured token run is trivially a
// single literal with nothing left to evaluate, letting the parser record
// it directly as a Literal instead of deferring it to preprocessing
// (spec.md §3: "a Value that never depended on arithmetic or references is
// already a Literal after parsing").
func isLiteralTokenRun(tokens []*Token) bool {
	if len(tokens) != 1 {
		return false
	}
	switch tokens[0].Typ {
	case TokenString, TokenNumber:
		return true
	case TokenKeyword:
		switch tokens[0].Val {
		case "true", "false", "null":
			return true
		}
	}
	return false
}

func literalizeTokenRun(tokens []*Token, loc Location) *Value {
	t := tokens[0]
	switch t.Typ {
	case TokenString:
		return NewStringLiteral(t.Val)
	case TokenNumber:
		return NewNumberLiteral(t.Num)
	case TokenKeyword:
		switch t.Val {
		case "true":
			return NewBoolLiteral(true)
		case "false":
			return NewBoolLiteral(false)
		case "null":
			return NewNullLiteral()
		}
	}
	return &Value{Kind: ValueExpression, Tokens: tokens, Loc: loc}
}
