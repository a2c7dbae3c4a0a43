package ox

import "github.com/juju/errors"

// Parser is a cursor over a token stream, following the teacher's minimal
// combinator style (_examples/flosch-pongo2/parser.go: Current/Match/Peek/
// Consume) rather than a generated parser. OX generalizes it to also
// capture deferred Expression token runs and template directives.
type Parser struct {
	file   string
	tokens []*Token
	idx    int
}

func newOXParser(file string, tokens []*Token) *Parser {
	return &Parser{file: file, tokens: tokens}
}

func (p *Parser) current() *Token {
	if p.idx < len(p.tokens) {
		return p.tokens[p.idx]
	}
	return p.tokens[len(p.tokens)-1] // EOF
}

func (p *Parser) at(typ TokenType) bool { return p.current().Typ == typ }

func (p *Parser) atKeyword(kw string) bool {
	return p.current().Typ == TokenKeyword && p.current().Val == kw
}

func (p *Parser) advance() *Token {
	t := p.current()
	if p.idx < len(p.tokens)-1 {
		p.idx++
	}
	return t
}

func (p *Parser) match(typ TokenType) (*Token, bool) {
	if p.at(typ) {
		return p.advance(), true
	}
	return nil, false
}

func (p *Parser) expect(typ TokenType, what string) (*Token, error) {
	if t, ok := p.match(typ); ok {
		return t, nil
	}
	return nil, p.errorf("expected %s, found %s", what, p.current())
}

func (p *Parser) expectKeyword(kw string) error {
	if p.atKeyword(kw) {
		p.advance()
		return nil
	}
	return p.errorf("expected keyword %q, found %s", kw, p.current())
}

func (p *Parser) atEOF() bool { return p.at(TokenEOF) }

func (p *Parser) errorf(format string, args ...interface{}) error {
	return p.errorAs("UnexpectedToken", format, args...)
}

func (p *Parser) errorAs(subtype, format string, args ...interface{}) error {
	t := p.current()
	return &Error{
		Kind:     KindParseError,
		Subtype:  subtype,
		Location: t.loc(p.file),
		cause:    errors.Errorf(format, args...),
	}
}
