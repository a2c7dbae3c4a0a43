package ox

import (
	"fmt"
	"strings"
)

// BlockContext wraps one expanded Block with the structural context the
// Reference Resolver needs: its parent, its index among siblings, and the
// full sibling slice, so `$this`, `$parent`, `$parent.parent…`, `$IDENT`
// and `<ctx>.children[N]` (spec.md §4.8) can all be answered without
// re-walking the tree on every lookup.
//
// Grounded on pongo2's Context (_examples/flosch-pongo2/context.go), which
// plays the analogous role of "the thing variable lookups are resolved
// against", generalized from a flat map to a tree-aware structural index.
type BlockContext struct {
	node     *Block
	parent   *BlockContext
	index    int
	siblings []*BlockContext
	children []*BlockContext
}

// Property proxies to the wrapped block's property lookup.
func (bc *BlockContext) Property(key string) (*Value, bool) {
	return bc.node.Property(key)
}

// Parent returns the enclosing BlockContext, or nil at the document root.
func (bc *BlockContext) Parent() *BlockContext { return bc.parent }

// Children returns the BlockContexts of this block's direct Block children,
// in source order (non-Block children, e.g. FreeText, are skipped since
// they carry no id/properties to resolve against).
func (bc *BlockContext) Children() []*BlockContext {
	return bc.children
}

// DisplayID returns the block's id if it has one, else a positional
// placeholder for diagnostics.
func (bc *BlockContext) DisplayID() string {
	if bc.node.HasID {
		return bc.node.ID
	}
	return fmt.Sprintf("<anonymous@%s>", bc.node.Loc.String())
}

// BlockPath returns the chain of display ids from the document root down
// to this block, joined with '/'.
func (bc *BlockContext) BlockPath() string {
	var parts []string
	for cur := bc; cur != nil; cur = cur.parent {
		parts = append([]string{cur.DisplayID()}, parts...)
	}
	return strings.Join(parts, "/")
}

// findSibling looks up a same-level block by id; only this block's
// siblings are searched. The Pass-2 `$IDENT` bare-reference rule does not
// use it: resolveRefPath looks ids up in the whole registry (byID).
func (bc *BlockContext) findSibling(id string) (*BlockContext, bool) {
	for _, s := range bc.siblings {
		if s.node.HasID && s.node.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Resolver performs the two-pass reference resolution of spec.md §4.8/§9:
// Pass 1 builds a BlockContext registry over the fully expanded tree (each
// level is registered before its children, so parents exist first);
// Pass 2 re-evaluates every Expression-typed property, this time letting
// `$`-prefixed primaries resolve against the registry.
type Resolver struct {
	file     string
	registry map[*Block]*BlockContext
	byID     map[string]*BlockContext
	all      []*BlockContext
	pending  map[*Block]map[string]bool // properties mid-resolution, for cycle detection
}

func newResolver(file string) *Resolver {
	return &Resolver{
		file:     file,
		registry: make(map[*Block]*BlockContext),
		byID:     make(map[string]*BlockContext),
		pending:  make(map[*Block]map[string]bool),
	}
}

// buildRegistry is Pass 1: registers a BlockContext per Block, all blocks
// of a level before descending into each one's children, wiring
// parent/index/siblings/children.
func (r *Resolver) buildRegistry(roots []Node) {
	r.registerChildren(nil, roots)
}

func (r *Resolver) registerChildren(parent *BlockContext, nodes []Node) {
	var blocks []*Block
	for _, n := range nodes {
		if b, ok := n.(*Block); ok {
			blocks = append(blocks, b)
		}
	}
	contexts := make([]*BlockContext, len(blocks))
	if parent != nil {
		parent.children = contexts
	}
	for i, b := range blocks {
		bc := &BlockContext{node: b, parent: parent, index: i}
		contexts[i] = bc
		r.registry[b] = bc
		if b.HasID {
			// findById returns the first match in document order (spec.md
			// §4.8), unlike property overlay's last-write-wins convention.
			if _, dup := r.byID[b.ID]; !dup {
				r.byID[b.ID] = bc
			}
		}
		r.all = append(r.all, bc)
	}
	for i, bc := range contexts {
		bc.siblings = contexts
		r.registerChildren(bc, blocks[i].Children)
	}
}

// resolveAll is Pass 2: walks the registry and re-evaluates every
// Expression-typed property in place, using a resolver callback that
// understands `$this`/`$parent...`/`$IDENT`/`.children[N]`.
func (r *Resolver) resolveAll(tx *Transaction) error {
	for _, bc := range r.all {
		for i := 0; i < bc.node.PropertyCount(); i++ {
			key, val := bc.node.PropertyAt(i)
			if val == nil || val.Kind == ValueLiteral {
				continue
			}
			if _, err := r.resolveProperty(bc, key, tx); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveProperty resolves bc's property key to a Literal (or literal
// Array), memoizing the write-back so repeat access is cheap. Forward
// references are allowed (spec.md §4.8: "forward references allowed since
// Pass 1 completed"), including ones that land on another block whose own
// property hasn't been visited by the registry-order loop in resolveAll
// yet — resolving it here, on demand, makes visitation order irrelevant.
// A property that (transitively) references itself fails rather than
// recursing forever.
func (r *Resolver) resolveProperty(bc *BlockContext, key string, tx *Transaction) (*Value, error) {
	val, ok := bc.node.Property(key)
	if !ok {
		return nil, newErrf(KindPreprocessError, "PropertyNotFound", Location{},
			withSuggestion(fmt.Sprintf("property %q not found on block %q", key, bc.DisplayID()), key, bc.node.PropertyNames()))
	}
	if val.Kind == ValueLiteral {
		return val, nil
	}
	if r.pending[bc.node][key] {
		return nil, newErrf(KindPreprocessError, "InvalidReference", val.Loc,
			"circular reference resolving property %q on block %q", key, bc.DisplayID())
	}
	if r.pending[bc.node] == nil {
		r.pending[bc.node] = make(map[string]bool)
	}
	r.pending[bc.node][key] = true
	resolved, err := r.resolveValue(bc, val, tx)
	delete(r.pending[bc.node], key)
	if err != nil {
		return nil, err
	}
	bc.node.SetProperty(key, resolved)
	return resolved, nil
}

// resolveValue re-evaluates a still-deferred property value against bc's
// registry position: a bare Expression resolves directly, an Array
// recurses into any remaining Expression-typed elements (the expander
// already reduced every `$`-free item during Pass 1, spec.md §4.6 step 2).
func (r *Resolver) resolveValue(bc *BlockContext, val *Value, tx *Transaction) (*Value, error) {
	switch val.Kind {
	case ValueExpression:
		return r.evalExpression(bc, val, tx)
	case ValueArray:
		items := make([]*Value, len(val.Items))
		for i, it := range val.Items {
			resolved, err := r.resolveValue(bc, it, tx)
			if err != nil {
				return nil, err
			}
			items[i] = resolved
		}
		return &Value{Kind: ValueArray, Items: items, Loc: val.Loc}, nil
	default:
		return val, nil
	}
}

func (r *Resolver) evalExpression(bc *BlockContext, val *Value, tx *Transaction) (*Value, error) {
	resolve := func(e *evaluator, parts []refPart) (*RValue, error) {
		return r.resolveRefPath(bc, parts, val.Loc, tx)
	}
	ev := newEvaluator(r.file, val.Tokens, tx, resolve)
	rv, err := ev.Evaluate()
	if err != nil {
		return nil, err
	}
	if rv.IsBlockRef() {
		return nil, newErrf(KindPreprocessError, "IncompleteReference", val.Loc,
			"reference resolves to a block, not a value; add a property access")
	}
	return rv.ToValue(), nil
}

// resolveRefPath interprets a captured `$`-reference path against the
// registry: the first segment selects a starting BlockContext (`this`,
// `parent`, or a bare id), remaining segments are `.property`/`.parent`/
// `.children[N]` walks (spec.md §4.8).
func (r *Resolver) resolveRefPath(bc *BlockContext, parts []refPart, loc Location, tx *Transaction) (*RValue, error) {
	if len(parts) == 0 {
		return nil, newErrf(KindPreprocessError, "InvalidReference", loc, "empty reference")
	}

	cur := bc
	start := parts[0]
	rest := parts[1:]

	switch {
	case !start.isIdx && start.ident == "this":
		// cur already = bc
	case !start.isIdx && start.ident == "parent":
		if cur.parent == nil {
			return nil, newErrf(KindPreprocessError, "NoParentBlock", loc, "block %q has no parent", bc.DisplayID())
		}
		cur = cur.parent
	case !start.isIdx:
		if sib, ok := r.byID[start.ident]; ok {
			cur = sib
		} else {
			return nil, newErrf(KindPreprocessError, "BlockNotFound", loc,
				withSuggestion(fmt.Sprintf("no block with id %q", start.ident), start.ident, r.knownIDs()))
		}
	default:
		return nil, newErrf(KindPreprocessError, "InvalidReference", loc, "reference cannot begin with an index")
	}

	for i := 0; i < len(rest); i++ {
		part := rest[i]
		switch {
		case part.isIdx:
			return nil, newErrf(KindPreprocessError, "InvalidReference", loc, "unexpected index access; use '.children[N]'")
		case part.ident == "parent":
			if cur.parent == nil {
				return nil, newErrf(KindPreprocessError, "NoParentBlock", loc, "block %q has no parent", cur.DisplayID())
			}
			cur = cur.parent
		case part.ident == "children":
			i++
			if i >= len(rest) || !rest[i].isIdx {
				return nil, newErrf(KindPreprocessError, "InvalidReference", loc, "expected '[N]' after '.children'")
			}
			kids := cur.Children()
			idx := rest[i].index
			if idx < 0 || idx >= len(kids) {
				return nil, newErrf(KindPreprocessError, "IndexOutOfRange", loc, "children index %d out of range (len=%d)", idx, len(kids))
			}
			cur = kids[idx]
		default:
			if _, ok := cur.Property(part.ident); !ok {
				return nil, newErrf(KindPreprocessError, "PropertyNotFound", loc,
					withSuggestion(fmt.Sprintf("property %q not found on block %q", part.ident, cur.DisplayID()), part.ident, cur.node.PropertyNames()))
			}
			resolved, err := r.resolveProperty(cur, part.ident, tx)
			if err != nil {
				return nil, err
			}
			return valueToRValue(resolved), nil
		}
	}

	// Reference terminated on a block rather than a property access.
	return RBlockRef(cur), nil
}

func (r *Resolver) knownIDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}

// ByID exposes a registered block context by id (the first one in
// registration order when ids repeat).
func (r *Resolver) ByID(id string) (*BlockContext, bool) {
	bc, ok := r.byID[id]
	return bc, ok
}

// All returns every registered BlockContext in registration order (each
// level before its children).
func (r *Resolver) All() []*BlockContext {
	return r.all
}

// resolveReferences runs both passes of spec.md §4.8 over an already
// expanded tree.
func resolveReferences(file string, roots []Node, tx *Transaction) (*Resolver, error) {
	r := newResolver(file)
	r.buildRegistry(roots)
	if err := r.resolveAll(tx); err != nil {
		return nil, err
	}
	return r, nil
}
