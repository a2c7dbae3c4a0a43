package ox

import "fmt"

// MacroHooks is the pair of extension callbacks spec.md §4.9 allows a host
// to register: `init.onParse` runs once per file immediately after
// parsing, before any expansion; `macros.onWalk` runs during Template
// Expansion at every Block, cursor in hand, and may rewrite the tree ahead
// of where expansion currently stands.
//
// This is the single open extension point in an otherwise closed
// tagged-union design (spec.md §9): every other stage is a fixed,
// exhaustively-matched pipeline step, but macros are host-supplied
// behavior the compiler cannot enumerate in advance.
type MacroHooks struct {
	OnParse func(ctx *MacroContext, doc *Document) error
	OnWalk  func(ctx *MacroContext, cursor *MacroWalker, block *Block) error
}

// MacroContext is passed to both hooks: it carries the file being
// processed, an error-reporting helper that wraps failures in the
// "Error in <hook> for block '<id>'" format spec.md §4.9 specifies, and
// (during onWalk) the ability to stop expansion early via cursor.Stop.
type MacroContext struct {
	File     string
	hook     string
	tx       *Transaction
	curBlk   *Block
	finished bool
}

// ThrowError wraps err as a MacroError, tagging it with the active hook
// name and block id the way spec.md §4.9 requires for diagnostics.
func (c *MacroContext) ThrowError(err error) error {
	blockID := "<document>"
	if c.curBlk != nil {
		if c.curBlk.HasID {
			blockID = c.curBlk.ID
		} else {
			blockID = c.curBlk.Loc.String()
		}
	}
	return newErr(KindMacroError, "MacroFailed", Location{File: c.File},
		fmt.Errorf("Error in %s for block '%s': %w", c.hook, blockID, err))
}

// Finish lets a macro (from its onParse hook, which has no cursor) signal
// that expansion should not proceed past parsing, e.g. a macro that only
// validates and wants to short-circuit the rest of the pipeline.
func (c *MacroContext) Finish() { c.finished = true }

// parseWithMacros runs lexing+parsing, then the onParse hook if registered,
// honoring an early ctx.finish() by returning the Document without running
// any further pipeline stage (the caller is expected to check Document
// alone in that case).
func parseWithMacros(file, src string, hooks *MacroHooks, tx *Transaction) (*Document, bool, error) {
	doc, err := parseDocument(file, src)
	if err != nil {
		return nil, false, err
	}
	if hooks == nil || hooks.OnParse == nil {
		return doc, false, nil
	}
	ctx := &MacroContext{File: file, hook: "init.onParse", tx: tx}
	if err := hooks.OnParse(ctx, doc); err != nil {
		return nil, false, ctx.ThrowError(err)
	}
	return doc, ctx.finished, nil
}

// invokeOnWalk runs the macros.onWalk hook for one block during expansion,
// giving it the active cursor; used by expander.go at each Block visited.
func invokeOnWalk(hooks *MacroHooks, cursor *MacroWalker, block *Block, file string, tx *Transaction) error {
	if hooks == nil || hooks.OnWalk == nil {
		return nil
	}
	ctx := &MacroContext{File: file, hook: "macros.onWalk", tx: tx, curBlk: block}
	if err := hooks.OnWalk(ctx, cursor, block); err != nil {
		return ctx.ThrowError(err)
	}
	if ctx.finished {
		cursor.Stop()
	}
	return nil
}
