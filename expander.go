package ox

import (
	"fmt"
	"time"
)

// maxWhileIterations guards `<while>` against a runaway condition (spec.md
// §4.6: "a hard cap (default 10,000 iterations) triggers WhileLoopLimit").
const maxWhileIterations = 10000

// Expander performs Template Expansion (spec.md §4.6, the pipeline's "hot
// component"): it walks the raw parsed tree, evaluating `<set>` bindings,
// selecting `<if>` branches, unrolling `<foreach>`/`<while>` bodies,
// substituting `<on-data>` results, and folding tag instances into their
// definitions — producing a tree of only *Block and *FreeText (and
// pass-through *Inject, spliced in afterward by injector.go).
//
// There is no teacher analogue of this exact stage (pongo2's Execute walks
// render directly to bytes instead of producing another AST), so its
// control-flow shape is grounded on pongo2's own node Execute dispatch
// (_examples/flosch-pongo2/nodes.go) generalized from "write text" to
// "emit expanded nodes".
type Expander struct {
	file  string
	tx    *Transaction
	tags  *TagProcessor
	hooks *MacroHooks
}

func newExpander(file string, tx *Transaction, tags *TagProcessor, hooks *MacroHooks) *Expander {
	return &Expander{file: file, tx: tx, tags: tags, hooks: hooks}
}

// Expand rewrites a node list, bottom-up through block children first.
func (ex *Expander) Expand(nodes []Node) ([]Node, error) {
	cursor := newMacroWalker(nil, nodes)
	var out []Node
	for i, n := range nodes {
		cursor.pos = i
		expanded, err := ex.expandOne(n, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
		if cursor.Stopped() {
			out = append(out, nodes[i+1:]...)
			break
		}
	}
	return out, nil
}

func (ex *Expander) expandOne(n Node, cursor *MacroWalker) ([]Node, error) {
	switch v := n.(type) {
	case *Block:
		if err := ex.evalPlainProperties(v); err != nil {
			return nil, err
		}
		if err := invokeOnWalk(ex.hooks, cursor, v, ex.file, ex.tx); err != nil {
			return nil, err
		}
		cursor.MarkProcessed(v)
		expandedChildren, err := ex.Expand(v.Children)
		if err != nil {
			return nil, err
		}
		v.Children = expandedChildren
		result, err := ex.tags.ExpandInstance(v)
		if err != nil {
			return nil, err
		}
		return []Node{result}, nil

	case *FreeText:
		return []Node{v}, nil

	case *Inject, *Import:
		return []Node{v}, nil

	case *Set:
		val, err := ex.eval(v.Value)
		if err != nil {
			return nil, err
		}
		ex.tx.Set(v.Name, val)
		return nil, nil

	case *If:
		body, err := ex.selectIfBody(v)
		if err != nil {
			return nil, err
		}
		return ex.Expand(body)

	case *Foreach:
		return ex.expandForeach(v)

	case *While:
		return ex.expandWhile(v)

	case *OnData:
		return ex.expandOnData(v)

	default:
		return nil, newErrf(KindPreprocessError, "InvalidReference", Location{File: ex.file}, "unexpected node type in expansion")
	}
}

// eval evaluates a captured expression/array Value against the current
// Transaction without reference resolution: control-flow expressions
// (`<set>`/`<if>`/`<foreach>`/`<while>`) run before the block tree they
// would reference even exists, so `$`-references are not legal here
// (spec.md §9 "expression evaluator reuse": this is the Pass-1 mode).
func (ex *Expander) eval(val *Value) (*RValue, error) {
	if val.Kind == ValueLiteral {
		return valueToRValue(val), nil
	}
	if val.Kind == ValueArray {
		items := make([]*RValue, len(val.Items))
		for i, it := range val.Items {
			rv, err := ex.eval(it)
			if err != nil {
				return nil, err
			}
			items[i] = rv
		}
		return RArray(items), nil
	}
	ev := newEvaluator(ex.file, val.Tokens, ex.tx, nil)
	return ev.Evaluate()
}

// evalPlainProperties implements spec.md §4.6 step 2: every Expression-typed
// property whose captured tokens contain no `$` is evaluated immediately,
// against the expander's current scope, to a Literal (or Array of
// Literals); `$`-bearing properties are left untouched for the Reference
// Resolver's Pass 2, since the block registry they need doesn't exist yet.
func (ex *Expander) evalPlainProperties(b *Block) error {
	for i := 0; i < b.PropertyCount(); i++ {
		key, val := b.PropertyAt(i)
		if val == nil || val.Kind == ValueLiteral || valueContainsDollar(val) {
			continue
		}
		rv, err := ex.eval(val)
		if err != nil {
			return err
		}
		b.SetProperty(key, rv.ToValue())
	}
	return nil
}

// valueContainsDollar reports whether any expression reachable from val
// (recursing into array items) carries a `$`-reference, in which case
// evaluation must wait for Pass 2's block registry.
func valueContainsDollar(val *Value) bool {
	switch val.Kind {
	case ValueExpression:
		for _, t := range val.Tokens {
			if t.Typ == TokenDollar {
				return true
			}
		}
		return false
	case ValueArray:
		for _, it := range val.Items {
			if valueContainsDollar(it) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (ex *Expander) selectIfBody(v *If) ([]Node, error) {
	cond, err := ex.eval(v.Condition)
	if err != nil {
		return nil, err
	}
	if cond.Truthy() {
		return v.ThenBody, nil
	}
	for _, branch := range v.ElseIfBranch {
		bc, err := ex.eval(branch.Condition)
		if err != nil {
			return nil, err
		}
		if bc.Truthy() {
			return branch.Body, nil
		}
	}
	return v.ElseBody, nil
}

func (ex *Expander) expandForeach(v *Foreach) ([]Node, error) {
	coll, ok := ex.tx.Lookup(v.Collection)
	if !ok {
		return nil, newErrf(KindPreprocessError, "UndefinedVariable", v.Loc,
			withSuggestion(fmt.Sprintf("undefined collection %q", v.Collection), v.Collection, ex.tx.KnownVariableNames()))
	}
	if !coll.IsArray() {
		return nil, newErrf(KindPreprocessError, "ForeachCollectionNotArray", v.Loc, "'%s' is not an array", v.Collection)
	}

	var out []Node
	for idx, item := range coll.Items() {
		ex.tx.PushScope()
		ex.tx.Set(v.ItemVar, item)
		if v.HasIndex {
			ex.tx.Set(v.IndexVar, RNumber(float64(idx)))
		}
		// Clone the body before expanding: every iteration mutates its own
		// blocks' properties in place (evalPlainProperties/ExpandInstance),
		// and the body nodes are otherwise shared across iterations.
		expanded, err := ex.Expand(cloneNodes(v.Body))
		ex.tx.PopScope()
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

func (ex *Expander) expandWhile(v *While) ([]Node, error) {
	var out []Node
	for i := 0; ; i++ {
		if i >= maxWhileIterations {
			return nil, newErrf(KindPreprocessError, "WhileLoopLimit", v.Loc, "'<while>' exceeded %d iterations", maxWhileIterations)
		}
		cond, err := ex.eval(v.Condition)
		if err != nil {
			return nil, err
		}
		if !cond.Truthy() {
			break
		}
		// The body expands in the enclosing scope, so a `<set>` in it can
		// change the variables the condition reads.
		expanded, err := ex.Expand(cloneNodes(v.Body))
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// expandOnData substitutes the DataBody or ErrorBody depending on whether
// the source (already executed by DataSourceProcessor before expansion
// begins, spec.md §4.5/§4.6 ordering) resolved successfully. The source's
// value is available to the body under its bare name (`<name>`, not
// `$<name>`) through Transaction.Lookup's fallback to fetched results;
// the error body additionally gets an `error` variable with
// message/code/timestamp fields.
func (ex *Expander) expandOnData(v *OnData) ([]Node, error) {
	res, ok := ex.tx.result(v.SourceName)
	if !ok {
		return nil, newErrf(KindProjectError, "UndefinedDataSource", v.Loc, "data source %q was not executed", v.SourceName)
	}
	ex.tx.PushScope()
	defer ex.tx.PopScope()

	if res.Err == nil {
		return ex.Expand(v.DataBody)
	}
	fields := map[string]*RValue{
		"message":   RString(res.Err.Message),
		"timestamp": RString(res.Err.Timestamp.Format(time.RFC3339)),
	}
	if res.Err.HasCode {
		fields["code"] = RString(res.Err.Code)
	}
	ex.tx.Set("error", RObject(fields))
	return ex.Expand(v.ErrorBody)
}
