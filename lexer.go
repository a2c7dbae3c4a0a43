package ox

import (
	"strings"
	"unicode/utf8"

	"github.com/juju/errors"
)

// eof is an invalid rune value used to signal end of input, following the
// teacher's convention (flosch/pongo2's lexer.go).
const eof rune = -1

// lexerStateFn is a state in the lexer's state machine; it returns the next
// state to run, or nil to stop.
type lexerStateFn func() lexerStateFn

// lexer tokenizes OX source text. Structurally modeled on pongo2's
// character-at-a-time state machine (_examples/flosch-pongo2/lexer.go),
// generalized to OX's bracket/tag/directive/backtick grammar instead of
// Django-style {{ }} / {% %} delimiters.
type lexer struct {
	file  string
	input string

	start int
	pos   int
	width int

	line      int
	col       int
	startLine int
	startCol  int

	tokens []*Token
	err    *Error
}

func lexSource(file, input string) ([]*Token, error) {
	l := &lexer{
		file:      file,
		input:     input,
		tokens:    make([]*Token, 0, 128),
		line:      1,
		col:       1,
		startLine: 1,
		startCol:  1,
	}
	l.run()
	if l.err != nil {
		return nil, l.err
	}
	l.emitPlain(TokenEOF)
	return l.tokens, nil
}

func (l *lexer) value() string { return l.input[l.start:l.pos] }

func (l *lexer) next() rune {
	if l.pos >= len(l.input) {
		l.width = 0
		return eof
	}
	r, w := utf8.DecodeRuneInString(l.input[l.pos:])
	l.width = w
	l.pos += w
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *lexer) backup() {
	if l.width == 0 {
		return // the last next() hit EOF and consumed nothing
	}
	l.pos -= l.width
	if l.input[l.pos] == '\n' {
		l.line--
		// column is not recoverable precisely across a newline backup;
		// callers never backup across the newline they just saw.
	} else {
		l.col--
	}
}

func (l *lexer) peek() rune {
	r := l.next()
	l.backup()
	return r
}

func (l *lexer) peekAt(offset int) rune {
	if l.pos+offset >= len(l.input) {
		return eof
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos+offset:])
	return r
}

func (l *lexer) ignore() {
	l.start = l.pos
	l.startLine = l.line
	l.startCol = l.col
}

func (l *lexer) accept(valid string) bool {
	if strings.ContainsRune(valid, l.next()) {
		return true
	}
	l.backup()
	return false
}

func (l *lexer) acceptRun(valid string) {
	for strings.ContainsRune(valid, l.next()) {
	}
	l.backup()
}

func (l *lexer) emit(typ TokenType) {
	l.tokens = append(l.tokens, &Token{
		Typ:    typ,
		Val:    l.value(),
		Raw:    l.value(),
		Line:   l.startLine,
		Column: l.startCol,
	})
	l.ignore()
}

func (l *lexer) emitPlain(typ TokenType) {
	l.tokens = append(l.tokens, &Token{Typ: typ, Line: l.line, Column: l.col})
}

func (l *lexer) errorf(format string, args ...interface{}) lexerStateFn {
	l.err = newErrf(KindLexicalError, lexicalSubtype(format), Location{File: l.file, Line: l.startLine, Column: l.startCol},
		format, args...)
	return nil
}

// lexicalSubtype maps a handful of known error message shapes to the
// spec.md §7 LexicalError subtype tags; anything else falls back to the
// generic UnexpectedCharacter tag.
func lexicalSubtype(format string) string {
	switch {
	case strings.Contains(format, "unterminated string"):
		return "UnterminatedString"
	case strings.Contains(format, "unterminated free-text") || strings.Contains(format, "unterminated block comment"):
		return "UnterminatedFreeText"
	case strings.Contains(format, "single or double backtick"):
		return "SingleBacktickUnsupported"
	default:
		return "UnexpectedCharacter"
	}
}

func (l *lexer) run() {
	for state := l.stateTop; state != nil && l.err == nil; {
		state = state()
	}
}

const identStart = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_"
const identCont = identStart + "0123456789-"
const digits = "0123456789"
const space = " \t\r\n"

// stateTop is the outer state: skips whitespace/comments and dispatches to
// symbols, identifiers, numbers, strings, and backtick-fenced free text.
func (l *lexer) stateTop() lexerStateFn {
	for {
		switch {
		case l.accept(space):
			l.acceptRun(space)
			l.ignore()
			continue
		case strings.HasPrefix(l.input[l.pos:], "//"):
			l.skipLineComment()
			continue
		case strings.HasPrefix(l.input[l.pos:], "/*"):
			if err := l.skipBlockComment(); err != nil {
				return l.errorf("%s", err)
			}
			continue
		}

		if l.peek() == '`' {
			return l.stateFreeText
		}

		r := l.peek()
		if r == eof {
			return nil
		}

		switch {
		case strings.ContainsRune(identStart, r):
			return l.stateIdent
		case strings.ContainsRune(digits, r) || (r == '-' && strings.ContainsRune(digits, l.peekAt(1))):
			return l.stateNumber
		case r == '"' || r == '\'':
			return l.stateString
		}

		if sym, ok := l.matchSymbol(); ok {
			l.pos += len(sym.lit)
			l.col += len(sym.lit)
			l.emit(sym.typ)
			continue
		}

		return l.errorf("unexpected character %q", r)
	}
}

func (l *lexer) matchSymbol() (struct {
	lit string
	typ TokenType
}, bool) {
	for _, s := range symbols {
		if strings.HasPrefix(l.input[l.pos:], s.lit) {
			return s, true
		}
	}
	var zero struct {
		lit string
		typ TokenType
	}
	return zero, false
}

func (l *lexer) skipLineComment() {
	for l.peek() != '\n' && l.peek() != eof {
		l.next()
	}
	l.ignore()
}

func (l *lexer) skipBlockComment() error {
	l.pos += 2
	l.col += 2
	for {
		if strings.HasPrefix(l.input[l.pos:], "*/") {
			l.pos += 2
			l.col += 2
			l.ignore()
			return nil
		}
		if l.next() == eof {
			return errors.New("unterminated block comment")
		}
	}
}

func (l *lexer) stateIdent() lexerStateFn {
	l.acceptRun(identCont)
	val := l.value()
	if _, isKw := keywords[val]; isKw {
		l.emit(TokenKeyword)
	} else {
		l.emit(TokenIdent)
	}
	return l.stateTop
}

func (l *lexer) stateNumber() lexerStateFn {
	l.accept("-")
	l.acceptRun(digits)
	if l.peek() == '.' && strings.ContainsRune(digits, l.peekAt(1)) {
		l.next()
		l.acceptRun(digits)
	}
	tok := &Token{Typ: TokenNumber, Val: l.value(), Line: l.startLine, Column: l.startCol}
	n, err := parseFloat(tok.Val)
	if err != nil {
		return l.errorf("malformed number %q", tok.Val)
	}
	tok.Num = n
	l.tokens = append(l.tokens, tok)
	l.ignore()
	return l.stateTop
}

var stringEscapes = strings.NewReplacer(
	`\\`, `\`,
	`\"`, `"`,
	`\'`, `'`,
	`\n`, "\n",
	`\t`, "\t",
	`\r`, "\r",
)

func (l *lexer) stateString() lexerStateFn {
	quote := l.next()
	l.ignore()
	for {
		r := l.next()
		switch r {
		case eof:
			return l.errorf("unterminated string")
		case '\n':
			return l.errorf("newline in string literal is not allowed")
		case '\\':
			switch l.peek() {
			case '"', '\'', '\\', 'n', 't', 'r':
				l.next()
			default:
				return l.errorf("unknown escape sequence \\%c", l.peek())
			}
		case quote:
			raw := l.input[l.start : l.pos-l.width]
			l.tokens = append(l.tokens, &Token{
				Typ: TokenString, Val: stringEscapes.Replace(raw), Raw: raw,
				Line: l.startLine, Column: l.startCol,
			})
			l.ignore()
			return l.stateTop
		}
	}
}

// stateFreeText lexes a triple-backtick (or longer) fenced payload. The
// opener is a run of >=3 backticks; the closer must be the same length.
// See spec.md §4.1 for the even-run disambiguation rule.
func (l *lexer) stateFreeText() lexerStateFn {
	runStart := l.pos
	n := 0
	for l.peekAt(n) == '`' {
		n++
	}

	if n < 3 {
		return l.errorf("single or double backtick is not supported outside a free-text fence (use >= 3 backticks)")
	}

	// Disambiguation: every even run of >=6 backticks is split into two
	// equal fences, producing an empty free-text block. What follows the
	// run is not examined, so an even run of six or more never opens a
	// fence of its full length.
	delimLen := n
	if n%2 == 0 && n >= 6 {
		delimLen = n / 2
	}

	l.pos += delimLen
	l.col += delimLen
	fence := strings.Repeat("`", delimLen)
	l.ignore()

	contentStart := l.pos
	for {
		if l.pos >= len(l.input) {
			return l.errorf("unterminated free-text block, expected closing %s", fence)
		}
		if strings.HasPrefix(l.input[l.pos:], fence) {
			content := l.input[contentStart:l.pos]
			l.tokens = append(l.tokens, &Token{
				Typ: TokenFreeText, Val: content, Raw: content,
				Line: l.startLine, Column: l.startCol,
			})
			l.pos += len(fence)
			l.col += len(fence)
			l.ignore()
			_ = runStart
			return l.stateTop
		}
		l.next()
	}
}

func parseFloat(s string) (float64, error) {
	var neg bool
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart = s[:i]
		fracPart = s[i+1:]
	}
	var whole float64
	for _, c := range intPart {
		if c < '0' || c > '9' {
			return 0, errors.Errorf("invalid digit %q", c)
		}
		whole = whole*10 + float64(c-'0')
	}
	frac := 0.0
	div := 1.0
	for _, c := range fracPart {
		if c < '0' || c > '9' {
			return 0, errors.Errorf("invalid digit %q", c)
		}
		div *= 10
		frac += float64(c-'0') / div
	}
	result := whole + frac
	if neg {
		result = -result
	}
	return result, nil
}
