package ox

// WalkAction controls traversal after a visitor callback runs.
type WalkAction int

const (
	WalkContinue WalkAction = iota
	WalkSkip
	WalkStop
)

// WalkVisitor is called once per Block during a Walk, with the chain of
// enclosing blocks (root-first) and its depth.
type WalkVisitor func(b *Block, ancestors []*Block, depth int) WalkAction

// Walk performs a pre-order traversal over a Block forest, honoring
// WalkSkip (don't descend into this block's children) and WalkStop (abort
// immediately). Generalizes the teacher's single-purpose node-visiting
// loops (_examples/flosch-pongo2/nodes.go Execute chains) into a reusable
// traversal used by both the Tag Processor and the Reference Resolver.
func Walk(roots []Node, visit WalkVisitor) {
	walk(roots, nil, 0, visit)
}

func walk(nodes []Node, ancestors []*Block, depth int, visit WalkVisitor) WalkAction {
	for _, n := range nodes {
		b, ok := n.(*Block)
		if !ok {
			continue
		}
		switch visit(b, ancestors, depth) {
		case WalkStop:
			return WalkStop
		case WalkSkip:
			continue
		}
		if walk(b.Children, append(append([]*Block(nil), ancestors...), b), depth+1, visit) == WalkStop {
			return WalkStop
		}
	}
	return WalkContinue
}

// WalkBFS performs a breadth-first traversal, for callers that want
// level-by-level order rather than depth-first document order.
func WalkBFS(roots []Node, visit WalkVisitor) {
	type item struct {
		b         *Block
		ancestors []*Block
		depth     int
	}
	var queue []item
	for _, n := range roots {
		if b, ok := n.(*Block); ok {
			queue = append(queue, item{b: b})
		}
	}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		switch visit(it.b, it.ancestors, it.depth) {
		case WalkStop:
			return
		case WalkSkip:
			continue
		}
		childAncestors := append(append([]*Block(nil), it.ancestors...), it.b)
		for _, c := range it.b.Children {
			if cb, ok := c.(*Block); ok {
				queue = append(queue, item{b: cb, ancestors: childAncestors, depth: it.depth + 1})
			}
		}
	}
}

// MacroWalker is the re-entrant cursor a macro's `onWalk` hook drives
// (spec.md §4.6/§4.9): unlike Walk's callback-per-node model, a macro can
// look ahead, skip forward, or rewind before deciding how to advance,
// so it is modeled as an explicit cursor object rather than a visitor
// function. Grounded on pongo2's own node-wrapper cursor used while
// expanding a tag's body (_examples/flosch-pongo2/parser.go WrapUntilTag),
// generalized to expose look-ahead/back/stop to macro code instead of
// only sequential consumption.
type MacroWalker struct {
	parent    *Block // nil at document root
	siblings  []Node
	pos       int
	processed map[Node]bool
	stopped   bool
}

func newMacroWalker(parent *Block, siblings []Node) *MacroWalker {
	return &MacroWalker{parent: parent, siblings: siblings, processed: make(map[Node]bool)}
}

// Current returns the node at the cursor, or nil past the end.
func (w *MacroWalker) Current() Node {
	if w.pos < 0 || w.pos >= len(w.siblings) {
		return nil
	}
	return w.siblings[w.pos]
}

// NextBlock advances the cursor to (and returns) the next unprocessed
// *Block sibling, or nil if none remain.
func (w *MacroWalker) NextBlock() *Block {
	for w.pos++; w.pos < len(w.siblings); w.pos++ {
		if b, ok := w.siblings[w.pos].(*Block); ok && !w.processed[b] {
			return b
		}
	}
	return nil
}

// PeekNext looks at the next unprocessed *Block sibling without moving the
// cursor.
func (w *MacroWalker) PeekNext() *Block {
	for i := w.pos + 1; i < len(w.siblings); i++ {
		if b, ok := w.siblings[i].(*Block); ok && !w.processed[b] {
			return b
		}
	}
	return nil
}

// GetRemainingChildren returns every not-yet-processed sibling after the
// cursor, in order.
func (w *MacroWalker) GetRemainingChildren() []Node {
	var rest []Node
	for i := w.pos + 1; i < len(w.siblings); i++ {
		if w.processed[w.siblings[i]] {
			continue
		}
		rest = append(rest, w.siblings[i])
	}
	return rest
}

// MarkProcessed flags a node so it will not be revisited by NextBlock/
// PeekNext/GetRemainingChildren, used once a macro (or the expander acting
// on its behalf) has fully expanded it.
func (w *MacroWalker) MarkProcessed(n Node) { w.processed[n] = true }

// Back rewinds the cursor one step; it is advisory only (mirrors the raw
// expanded-tree cursor position) and does not undo any expansion already
// performed on the nodes it passes back over.
func (w *MacroWalker) Back() {
	if w.pos > -1 {
		w.pos--
	}
}

// Stop marks the walker as finished; Expander.Expand checks this after each
// node and, when set, passes the remaining siblings through unexpanded.
func (w *MacroWalker) Stop()          { w.stopped = true }
func (w *MacroWalker) Stopped() bool  { return w.stopped }
func (w *MacroWalker) Parent() *Block { return w.parent }
