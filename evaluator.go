package ox

import (
	"math"

	"github.com/juju/errors"
)

// refResolver resolves a `$`-prefixed reference path to a runtime value.
// Pass 1 (non-$ properties only) passes nil, which makes any reference fail
// with UnresolvedReference; Pass 2 passes the registry-backed resolver built
// from the two-pass Reference Resolver (spec.md §9 "Expression evaluator
// reuse").
type refResolver func(e *evaluator, parts []refPart) (*RValue, error)

// refPart is one segment of a `$`-reference path: either a property/ident
// access (.name) or an indexed children access ([N]).
type refPart struct {
	ident string
	index int
	isIdx bool
}

// evaluator walks a captured expression token stream and evaluates it
// against a Transaction scope, following the standard precedence levels of
// spec.md §4.3:
//
//	logical-or > logical-and > equality > comparison > additive >
//	multiplicative > exponent (right-assoc) > unary > primary
//
// It is deliberately a single combined parse-and-evaluate pass (rather than
// building an intermediate expression tree like the teacher's Expression/
// term/power node types in _examples/flosch-pongo2/parser_expression.go)
// since OX expressions are always short-lived, already-captured token runs
// rather than a long-lived parsed template.
type evaluator struct {
	file    string
	tokens  []*Token
	idx     int
	tx      *Transaction
	resolve refResolver
}

func newEvaluator(file string, tokens []*Token, tx *Transaction, resolve refResolver) *evaluator {
	return &evaluator{file: file, tokens: tokens, tx: tx, resolve: resolve}
}

func (e *evaluator) cur() *Token {
	if e.idx < len(e.tokens) {
		return e.tokens[e.idx]
	}
	return &Token{Typ: TokenEOF}
}

func (e *evaluator) advance() *Token {
	t := e.cur()
	if e.idx < len(e.tokens) {
		e.idx++
	}
	return t
}

func (e *evaluator) at(typ TokenType) bool { return e.cur().Typ == typ }

func (e *evaluator) atKeyword(kw string) bool {
	return e.cur().Typ == TokenKeyword && e.cur().Val == kw
}

func (e *evaluator) loc() Location {
	t := e.cur()
	return Location{File: e.file, Line: t.Line, Column: t.Column}
}

func (e *evaluator) errf(subtype, format string, args ...interface{}) error {
	return newErrf(KindPreprocessError, subtype, e.loc(), format, args...)
}

// Evaluate parses and evaluates the full expression, requiring every token
// to be consumed.
func (e *evaluator) Evaluate() (*RValue, error) {
	v, err := e.evalOr()
	if err != nil {
		return nil, err
	}
	if !e.at(TokenEOF) {
		return nil, e.errf("InvalidReference", "unexpected trailing tokens starting at %s", e.cur())
	}
	return v, nil
}

// evalOr/evalAnd short-circuit per spec.md §4.3: once the left operand
// already decides the result, the right operand's tokens are skipped
// without being evaluated (so it can raise no error), leaving the cursor
// on whatever follows it.
func (e *evaluator) evalOr() (*RValue, error) {
	left, err := e.evalAnd()
	if err != nil {
		return nil, err
	}
	for e.at(TokenOrOr) {
		e.advance()
		if left.Truthy() {
			e.skipOperand(TokenOrOr)
			continue
		}
		right, err := e.evalAnd()
		if err != nil {
			return nil, err
		}
		left = RBool(right.Truthy())
	}
	return left, nil
}

func (e *evaluator) evalAnd() (*RValue, error) {
	left, err := e.evalEquality()
	if err != nil {
		return nil, err
	}
	for e.at(TokenAndAnd) {
		e.advance()
		if !left.Truthy() {
			e.skipOperand(TokenAndAnd, TokenOrOr)
			continue
		}
		right, err := e.evalEquality()
		if err != nil {
			return nil, err
		}
		left = RBool(right.Truthy())
	}
	return left, nil
}

// skipOperand advances past one short-circuited operand, stopping at EOF or
// at a top-level ',', closing bracket, or one of stops.
func (e *evaluator) skipOperand(stops ...TokenType) {
	for depth := 0; !e.at(TokenEOF); e.advance() {
		switch t := e.cur().Typ; t {
		case TokenLParen, TokenLBracket, TokenLBrace:
			depth++
		case TokenRParen, TokenRBracket, TokenRBrace:
			if depth == 0 {
				return
			}
			depth--
		default:
			for _, s := range append(stops, TokenComma) {
				if depth == 0 && t == s {
					return
				}
			}
		}
	}
}

func (e *evaluator) evalEquality() (*RValue, error) {
	left, err := e.evalComparison()
	if err != nil {
		return nil, err
	}
	for e.at(TokenEqEq) || e.at(TokenNotEq) {
		op := e.advance().Typ
		right, err := e.evalComparison()
		if err != nil {
			return nil, err
		}
		eq := left.Equal(right)
		if op == TokenNotEq {
			eq = !eq
		}
		left = RBool(eq)
	}
	return left, nil
}

func (e *evaluator) evalComparison() (*RValue, error) {
	left, err := e.evalAdditive()
	if err != nil {
		return nil, err
	}
	for e.at(TokenLT) || e.at(TokenGT) || e.at(TokenLe) || e.at(TokenGe) {
		op := e.advance().Typ
		right, err := e.evalAdditive()
		if err != nil {
			return nil, err
		}
		if !left.IsNumber() || !right.IsNumber() {
			return nil, e.errf("InvalidReference", "comparison operators require numeric operands")
		}
		var result bool
		switch op {
		case TokenLT:
			result = left.Num() < right.Num()
		case TokenGT:
			result = left.Num() > right.Num()
		case TokenLe:
			result = left.Num() <= right.Num()
		case TokenGe:
			result = left.Num() >= right.Num()
		}
		left = RBool(result)
	}
	return left, nil
}

func (e *evaluator) evalAdditive() (*RValue, error) {
	left, err := e.evalMultiplicative()
	if err != nil {
		return nil, err
	}
	for e.at(TokenPlus) || e.at(TokenMinus) {
		op := e.advance().Typ
		right, err := e.evalMultiplicative()
		if err != nil {
			return nil, err
		}
		left, err = e.arith(left, right, op)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (e *evaluator) evalMultiplicative() (*RValue, error) {
	left, err := e.evalExponent()
	if err != nil {
		return nil, err
	}
	for e.at(TokenStar) || e.at(TokenSlash) || e.at(TokenPercent) {
		op := e.advance().Typ
		right, err := e.evalExponent()
		if err != nil {
			return nil, err
		}
		left, err = e.arith(left, right, op)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

// evalExponent is right-associative (spec.md §4.3: "exponent (**,
// right-assoc)").
func (e *evaluator) evalExponent() (*RValue, error) {
	left, err := e.evalUnary()
	if err != nil {
		return nil, err
	}
	if e.at(TokenPow) {
		e.advance()
		right, err := e.evalExponent()
		if err != nil {
			return nil, err
		}
		return e.arith(left, right, TokenPow)
	}
	return left, nil
}

func (e *evaluator) evalUnary() (*RValue, error) {
	if e.at(TokenMinus) {
		e.advance()
		v, err := e.evalUnary()
		if err != nil {
			return nil, err
		}
		if !v.IsNumber() {
			return nil, e.errf("InvalidReference", "unary '-' requires a numeric operand")
		}
		return RNumber(-v.Num()), nil
	}
	if e.at(TokenBang) {
		e.advance()
		v, err := e.evalUnary()
		if err != nil {
			return nil, err
		}
		return RBool(!v.Truthy()), nil
	}
	return e.evalPrimary()
}

func (e *evaluator) arith(l, r *RValue, op TokenType) (*RValue, error) {
	if !l.IsNumber() || !r.IsNumber() {
		return nil, e.errf("InvalidReference", "arithmetic operator %s requires numeric operands", op)
	}
	switch op {
	case TokenPlus:
		return RNumber(l.Num() + r.Num()), nil
	case TokenMinus:
		return RNumber(l.Num() - r.Num()), nil
	case TokenStar:
		return RNumber(l.Num() * r.Num()), nil
	case TokenSlash:
		if r.Num() == 0 {
			return nil, e.errf("DivisionByZero", "division by zero")
		}
		return RNumber(l.Num() / r.Num()), nil
	case TokenPercent:
		if r.Num() == 0 {
			return nil, e.errf("DivisionByZero", "modulo by zero")
		}
		return RNumber(math.Mod(l.Num(), r.Num())), nil
	case TokenPow:
		return RNumber(math.Pow(l.Num(), r.Num())), nil
	default:
		return nil, errors.Errorf("unreachable arithmetic operator %s", op)
	}
}

// evalPrimary handles: literal; parenthesised subexpression; variable path
// (IDENT(.IDENT|[NUMBER])*); reference ($IDENT(.IDENT|[NUMBER])*).
func (e *evaluator) evalPrimary() (*RValue, error) {
	t := e.cur()
	switch t.Typ {
	case TokenString:
		e.advance()
		return RString(t.Val), nil
	case TokenNumber:
		e.advance()
		return RNumber(t.Num), nil
	case TokenKeyword:
		switch t.Val {
		case "true":
			e.advance()
			return RBool(true), nil
		case "false":
			e.advance()
			return RBool(false), nil
		case "null":
			e.advance()
			return RNull(), nil
		}
	case TokenLParen:
		e.advance()
		v, err := e.evalOr()
		if err != nil {
			return nil, err
		}
		if !e.at(TokenRParen) {
			return nil, e.errf("InvalidReference", "expected ')' after parenthesised expression")
		}
		e.advance()
		return v, nil
	case TokenLBracket:
		return e.evalArrayLiteral()
	case TokenDollar:
		return e.evalReference()
	case TokenIdent:
		return e.evalVariablePath()
	}
	return nil, e.errf("InvalidReference", "unexpected token %s in expression", t)
}

func (e *evaluator) evalArrayLiteral() (*RValue, error) {
	e.advance() // [
	var items []*RValue
	for !e.at(TokenRBracket) {
		v, err := e.evalOr()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		if e.at(TokenComma) {
			e.advance()
			continue
		}
		break
	}
	if !e.at(TokenRBracket) {
		return nil, e.errf("InvalidReference", "expected ']' to close array literal")
	}
	e.advance()
	return RArray(items), nil
}

func (e *evaluator) evalVariablePath() (*RValue, error) {
	name := e.advance().Val
	v, ok := e.tx.Lookup(name)
	if !ok {
		known := e.tx.KnownVariableNames()
		return nil, newErr(KindPreprocessError, "UndefinedVariable", e.loc(),
			errors.New(withSuggestion("undefined variable '"+name+"'", name, known)))
	}
	return e.applyMemberChain(v)
}

func (e *evaluator) applyMemberChain(v *RValue) (*RValue, error) {
	for {
		switch {
		case e.at(TokenDot):
			e.advance()
			nameTok, err := e.expectIdentLike()
			if err != nil {
				return nil, err
			}
			nv, err := e.member(v, nameTok)
			if err != nil {
				return nil, err
			}
			v = nv
		case e.at(TokenLBracket):
			e.advance()
			idxTok, ok := e.match(TokenNumber)
			if !ok {
				return nil, e.errf("InvalidReference", "expected numeric index inside '[ ]'")
			}
			if !e.at(TokenRBracket) {
				return nil, e.errf("InvalidReference", "expected ']' after index")
			}
			e.advance()
			nv, err := e.index(v, int(idxTok.Num))
			if err != nil {
				return nil, err
			}
			v = nv
		default:
			return v, nil
		}
	}
}

func (e *evaluator) match(typ TokenType) (*Token, bool) {
	if e.at(typ) {
		return e.advance(), true
	}
	return nil, false
}

func (e *evaluator) expectIdentLike() (string, error) {
	t := e.cur()
	if t.Typ == TokenIdent || t.Typ == TokenKeyword {
		e.advance()
		return t.Val, nil
	}
	return "", e.errf("InvalidReference", "expected property name after '.'")
}

func (e *evaluator) member(v *RValue, name string) (*RValue, error) {
	if v.IsNull() {
		return nil, e.errf("NullMemberAccess", "cannot access property '%s' of null", name)
	}
	if v.IsBlockRef() {
		bc := v.Block()
		val, ok := bc.Property(name)
		if !ok {
			return nil, e.errf("PropertyNotFound", "property '%s' not found on block '%s'", name, bc.DisplayID())
		}
		return valueToRValue(val), nil
	}
	if v.IsObject() {
		fv, ok := v.Fields()[name]
		if !ok {
			return nil, e.errf("UndefinedProperty", "undefined property '%s'", name)
		}
		return fv, nil
	}
	return nil, e.errf("UndefinedProperty", "undefined property '%s'", name)
}

func (e *evaluator) index(v *RValue, i int) (*RValue, error) {
	if v.IsNull() {
		return nil, e.errf("NullMemberAccess", "cannot index null")
	}
	if v.IsArray() {
		if i < 0 || i >= len(v.Items()) {
			return nil, e.errf("IndexOutOfRange", "index %d out of range (len=%d)", i, len(v.Items()))
		}
		return v.Items()[i], nil
	}
	return nil, e.errf("InvalidReference", "value is not indexable")
}

func (e *evaluator) evalReference() (*RValue, error) {
	loc := e.loc()
	e.advance() // $
	first, err := e.expectIdentLike()
	if err != nil {
		return nil, err
	}
	parts := []refPart{{ident: first}}
	for {
		switch {
		case e.at(TokenDot):
			e.advance()
			name, err := e.expectIdentLike()
			if err != nil {
				return nil, err
			}
			parts = append(parts, refPart{ident: name})
		case e.at(TokenLBracket):
			e.advance()
			idxTok, ok := e.match(TokenNumber)
			if !ok {
				return nil, e.errf("InvalidReference", "expected numeric index inside '[ ]'")
			}
			if !e.at(TokenRBracket) {
				return nil, e.errf("InvalidReference", "expected ']' after index")
			}
			e.advance()
			parts = append(parts, refPart{index: int(idxTok.Num), isIdx: true})
		default:
			goto done
		}
	}
done:
	if e.resolve == nil {
		return nil, newErrf(KindPreprocessError, "UnresolvedReference", loc, "references are not resolvable in this pass")
	}
	return e.resolve(e, parts)
}
