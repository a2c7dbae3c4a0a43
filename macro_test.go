package ox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMacroContextThrowErrorWrapsWithBlockID(t *testing.T) {
	blk := newBlock()
	blk.ID, blk.HasID = "widget", true
	ctx := &MacroContext{File: "t.ox", hook: "macros.onWalk", curBlk: blk}

	err := ctx.ThrowError(errors.New("boom"))
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindMacroError, oxErr.Kind)
	require.Equal(t, "MacroFailed", oxErr.Subtype)
	require.Contains(t, oxErr.Error(), "Error in macros.onWalk for block 'widget': boom")
}

func TestMacroContextThrowErrorUsesLocationForAnonymousBlock(t *testing.T) {
	blk := newBlock()
	blk.Loc = Location{File: "t.ox", Line: 3, Column: 1}
	ctx := &MacroContext{File: "t.ox", hook: "init.onParse", curBlk: blk}

	err := ctx.ThrowError(errors.New("bad"))
	require.Contains(t, err.Error(), blk.Loc.String())
}

func TestMacroContextThrowErrorDocumentLevel(t *testing.T) {
	ctx := &MacroContext{File: "t.ox", hook: "init.onParse"}
	err := ctx.ThrowError(errors.New("bad"))
	require.Contains(t, err.Error(), "<document>")
}

func TestParseWithMacrosRunsOnParseHook(t *testing.T) {
	src := `root { x = 1 }`
	var sawDoc *Document
	hooks := &MacroHooks{
		OnParse: func(ctx *MacroContext, doc *Document) error {
			sawDoc = doc
			return nil
		},
	}
	doc, finished, err := parseWithMacros("t.ox", src, hooks, newTransaction(0))
	require.NoError(t, err)
	require.False(t, finished)
	require.Equal(t, doc, sawDoc)
}

func TestParseWithMacrosPropagatesHookError(t *testing.T) {
	src := `root { x = 1 }`
	hooks := &MacroHooks{
		OnParse: func(ctx *MacroContext, doc *Document) error {
			return errors.New("rejected")
		},
	}
	_, _, err := parseWithMacros("t.ox", src, hooks, newTransaction(0))
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, "MacroFailed", oxErr.Subtype)
}

func TestParseWithMacrosFinishShortCircuits(t *testing.T) {
	src := `root { x = 1 }`
	hooks := &MacroHooks{
		OnParse: func(ctx *MacroContext, doc *Document) error {
			ctx.Finish()
			return nil
		},
	}
	_, finished, err := parseWithMacros("t.ox", src, hooks, newTransaction(0))
	require.NoError(t, err)
	require.True(t, finished)
}

func TestInvokeOnWalkNoHooksIsNoop(t *testing.T) {
	blk := newBlock()
	cursor := newMacroWalker(nil, []Node{blk})
	require.NoError(t, invokeOnWalk(nil, cursor, blk, "t.ox", newTransaction(0)))
}

func TestInvokeOnWalkStopsCursorOnFinish(t *testing.T) {
	blk := newBlock()
	cursor := newMacroWalker(nil, []Node{blk})
	hooks := &MacroHooks{
		OnWalk: func(ctx *MacroContext, cursor *MacroWalker, block *Block) error {
			ctx.Finish()
			return nil
		},
	}
	err := invokeOnWalk(hooks, cursor, blk, "t.ox", newTransaction(0))
	require.NoError(t, err)
	require.True(t, cursor.Stopped())
}

func TestInvokeOnWalkPropagatesHookError(t *testing.T) {
	blk := newBlock()
	blk.ID, blk.HasID = "x", true
	cursor := newMacroWalker(nil, []Node{blk})
	hooks := &MacroHooks{
		OnWalk: func(ctx *MacroContext, cursor *MacroWalker, block *Block) error {
			return errors.New("nope")
		},
	}
	err := invokeOnWalk(hooks, cursor, blk, "t.ox", newTransaction(0))
	require.Error(t, err)
	require.Contains(t, err.Error(), "macros.onWalk for block 'x'")
}
