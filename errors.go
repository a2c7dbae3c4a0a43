package ox

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Kind discriminates the top-level error families of spec.md §7.
type Kind int

const (
	KindLexicalError Kind = iota
	KindParseError
	KindPreprocessError
	KindProjectError
	KindMacroError
	KindDataSourceError
)

func (k Kind) String() string {
	switch k {
	case KindLexicalError:
		return "LexicalError"
	case KindParseError:
		return "ParseError"
	case KindPreprocessError:
		return "PreprocessError"
	case KindProjectError:
		return "ProjectError"
	case KindMacroError:
		return "MacroError"
	case KindDataSourceError:
		return "DataSourceError"
	default:
		return "UnknownError"
	}
}

// Error is OX's unified error type (spec.md §7). Every error carries a
// Location when source-derived, a Kind, and a Subtype tag naming the
// specific failure (e.g. "UndefinedVariable", "CircularDependency").
//
// Errors are built on github.com/juju/errors so callers can use
// errors.Cause/errors.Details to unwrap the underlying Go error and get a
// stack trace, matching the dependency the teacher's go.mod names
// (_examples/flosch-pongo2/go.mod: github.com/juju/errors) but never
// actually imports in the copied snapshot.
type Error struct {
	Kind     Kind
	Subtype  string
	Location Location
	Sender   string
	cause    error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("[%s", e.Kind)
	if e.Subtype != "" {
		s += ":" + e.Subtype
	}
	if e.Sender != "" {
		s += " in " + e.Sender
	}
	s += "]"
	if e.Location.File != "" || e.Location.Line > 0 {
		s += " " + e.Location.String()
	}
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

// Unwrap lets errors.Is/errors.As (stdlib or juju) see through to cause.
func (e *Error) Unwrap() error { return e.cause }

// Cause implements the juju/errors causer interface.
func (e *Error) Cause() error { return e.cause }

func newErr(kind Kind, subtype string, loc Location, cause error) *Error {
	return &Error{Kind: kind, Subtype: subtype, Location: loc, cause: errors.Trace(cause)}
}

func newErrf(kind Kind, subtype string, loc Location, format string, args ...interface{}) *Error {
	return newErr(kind, subtype, loc, errors.Errorf(format, args...))
}

// suggest returns a "did you mean" hint computed via fuzzy ranking over
// known, used for Undefined* diagnostics (SPEC_FULL.md Domain Stack:
// github.com/lithammer/fuzzysearch, grounded on
// _examples/opal-lang-opal/runtime/planner/planner.go's identical use for
// decorator-name suggestions).
func suggest(name string, known []string) string {
	matches := fuzzy.RankFindFold(name, known)
	if len(matches) == 0 {
		return ""
	}
	best := matches[0]
	for _, m := range matches {
		if m.Distance < best.Distance {
			best = m
		}
	}
	return best.Target
}

func withSuggestion(msg, name string, known []string) string {
	if hint := suggest(name, known); hint != "" {
		return fmt.Sprintf("%s (did you mean %q?)", msg, hint)
	}
	return msg
}

// ErrorCollector aggregates compile errors/warnings for tooling that wants
// every diagnostic instead of fail-fast (SPEC_FULL.md §C). The default
// pipeline (OXProject.parse) still stops at the first error.
type ErrorCollector struct {
	errs []error
}

func (c *ErrorCollector) Collect(err error) {
	if err != nil {
		c.errs = append(c.errs, err)
	}
}

func (c *ErrorCollector) HasErrors() bool { return len(c.errs) > 0 }

func (c *ErrorCollector) Errors() []error { return c.errs }
