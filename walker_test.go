package ox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// treeABC builds: a -> (b -> c)
func treeABC() (a, b, c *Block) {
	c = newBlock()
	c.ID, c.HasID = "c", true
	b = newBlock()
	b.ID, b.HasID = "b", true
	b.Children = []Node{c}
	a = newBlock()
	a.ID, a.HasID = "a", true
	a.Children = []Node{b}
	return a, b, c
}

func TestWalkPreOrderWithAncestorsAndDepth(t *testing.T) {
	a, b, c := treeABC()
	var visited []string
	var depths []int
	Walk([]Node{a}, func(blk *Block, ancestors []*Block, depth int) WalkAction {
		visited = append(visited, blk.ID)
		depths = append(depths, depth)
		return WalkContinue
	})
	require.Equal(t, []string{"a", "b", "c"}, visited)
	require.Equal(t, []int{0, 1, 2}, depths)
	_ = b
	_ = c
}

func TestWalkSkipDoesNotDescend(t *testing.T) {
	a, _, _ := treeABC()
	var visited []string
	Walk([]Node{a}, func(blk *Block, _ []*Block, _ int) WalkAction {
		visited = append(visited, blk.ID)
		if blk.ID == "b" {
			return WalkSkip
		}
		return WalkContinue
	})
	require.Equal(t, []string{"a", "b"}, visited)
}

func TestWalkStopAbortsImmediately(t *testing.T) {
	a, _, _ := treeABC()
	var visited []string
	Walk([]Node{a}, func(blk *Block, _ []*Block, _ int) WalkAction {
		visited = append(visited, blk.ID)
		if blk.ID == "b" {
			return WalkStop
		}
		return WalkContinue
	})
	require.Equal(t, []string{"a", "b"}, visited)
}

func TestWalkBFSVisitsLevelByLevel(t *testing.T) {
	root := newBlock()
	root.ID, root.HasID = "root", true
	left := newBlock()
	left.ID, left.HasID = "left", true
	right := newBlock()
	right.ID, right.HasID = "right", true
	grandchild := newBlock()
	grandchild.ID, grandchild.HasID = "grandchild", true
	left.Children = []Node{grandchild}
	root.Children = []Node{left, right}

	var visited []string
	WalkBFS([]Node{root}, func(blk *Block, _ []*Block, _ int) WalkAction {
		visited = append(visited, blk.ID)
		return WalkContinue
	})
	require.Equal(t, []string{"root", "left", "right", "grandchild"}, visited)
}

func TestMacroWalkerNextBlockSkipsProcessedAndNonBlocks(t *testing.T) {
	b1 := newBlock()
	b1.ID, b1.HasID = "b1", true
	b2 := newBlock()
	b2.ID, b2.HasID = "b2", true
	ft := &FreeText{Text: "hi"}

	w := newMacroWalker(nil, []Node{b1, ft, b2})
	// The cursor starts on b1, so NextBlock moves past the FreeText to b2.
	first := w.NextBlock()
	require.Equal(t, b2, first)

	w.MarkProcessed(b1)
	// Rewind and re-fetch: b1 should now be skipped since it's processed.
	w.pos = -1
	next := w.NextBlock()
	require.Equal(t, b2, next)
}

func TestMacroWalkerPeekNextDoesNotMoveCursor(t *testing.T) {
	b1 := newBlock()
	b2 := newBlock()
	b2.ID, b2.HasID = "b2", true
	w := newMacroWalker(nil, []Node{b1, b2})

	peeked := w.PeekNext()
	require.Equal(t, b2, peeked)
	require.Equal(t, 0, w.pos)
}

func TestMacroWalkerGetRemainingChildrenExcludesProcessed(t *testing.T) {
	b1 := newBlock()
	b2 := newBlock()
	b3 := newBlock()
	w := newMacroWalker(nil, []Node{b1, b2, b3})
	w.MarkProcessed(b2)

	rest := w.GetRemainingChildren()
	require.Equal(t, []Node{b3}, rest)
}

func TestMacroWalkerStop(t *testing.T) {
	w := newMacroWalker(nil, nil)
	require.False(t, w.Stopped())
	w.Stop()
	require.True(t, w.Stopped())
}

func TestMacroWalkerBackRewindsCursor(t *testing.T) {
	b1 := newBlock()
	b2 := newBlock()
	w := newMacroWalker(nil, []Node{b1, b2})
	w.pos = 1
	w.Back()
	require.Equal(t, 0, w.pos)
	w.Back()
	w.Back()
	require.Equal(t, -1, w.pos) // Back only guards pos > -1, never rewinds past it
}
