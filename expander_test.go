package ox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestExpander() (*Expander, *Transaction) {
	tx := newTransaction(0)
	tags := newTagProcessor()
	return newExpander("t.ox", tx, tags, nil), tx
}

func TestExpanderSetBindsAndEmitsNothing(t *testing.T) {
	ex, tx := newTestExpander()
	set := &Set{Name: "count", Value: NewNumberLiteral(3)}
	out, err := ex.Expand([]Node{set})
	require.NoError(t, err)
	require.Nil(t, out)

	v, ok := tx.Lookup("count")
	require.True(t, ok)
	require.Equal(t, float64(3), v.Num())
}

func TestExpanderIfSelectsThenBranch(t *testing.T) {
	ex, _ := newTestExpander()
	thenBlk := newBlock()
	thenBlk.ID, thenBlk.HasID = "yes", true
	elseBlk := newBlock()
	elseBlk.ID, elseBlk.HasID = "no", true

	ifNode := &If{
		Condition: NewBoolLiteral(true),
		ThenBody:  []Node{thenBlk},
		ElseBody:  []Node{elseBlk},
	}
	out, err := ex.Expand([]Node{ifNode})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "yes", out[0].(*Block).ID)
}

func TestExpanderIfSelectsElseifBranch(t *testing.T) {
	ex, _ := newTestExpander()
	elseifBlk := newBlock()
	elseifBlk.ID, elseifBlk.HasID = "mid", true

	ifNode := &If{
		Condition: NewBoolLiteral(false),
		ThenBody:  nil,
		ElseIfBranch: []IfBranch{
			{Condition: NewBoolLiteral(true), Body: []Node{elseifBlk}},
		},
		ElseBody: []Node{},
	}
	out, err := ex.Expand([]Node{ifNode})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "mid", out[0].(*Block).ID)
}

func TestExpanderForeachUnrollsWithIndex(t *testing.T) {
	ex, tx := newTestExpander()
	tx.Set("items", RArray([]*RValue{RString("a"), RString("b"), RString("c")}))

	row := newBlock()
	row.SetProperty("value", exprValue(t, "item"))
	row.SetProperty("idx", exprValue(t, "i"))

	fe := &Foreach{ItemVar: "item", HasIndex: true, IndexVar: "i", Collection: "items", Body: []Node{row}}
	out, err := ex.Expand([]Node{fe})
	require.NoError(t, err)
	require.Len(t, out, 3)

	second := out[1].(*Block)
	v, _ := second.Property("value")
	require.Equal(t, "b", v.Str)
	idx, _ := second.Property("idx")
	require.Equal(t, float64(1), idx.Num)
}

func TestExpanderForeachUndefinedCollection(t *testing.T) {
	ex, _ := newTestExpander()
	fe := &Foreach{ItemVar: "item", Collection: "missing", Body: nil}
	_, err := ex.Expand([]Node{fe})
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, "UndefinedVariable", oxErr.Subtype)
}

func TestExpanderWhileUnrollsUntilFalse(t *testing.T) {
	ex, tx := newTestExpander()
	tx.Set("n", RNumber(0))

	marker := newBlock()
	marker.ID, marker.HasID = "tick", true

	// "n < 3" is re-evaluated each iteration; the <set> in the body bumps n
	// in the enclosing scope, so the loop stops after three passes.
	body := []Node{
		&Set{Name: "n", Value: exprValue(t, "n + 1")},
		marker,
	}
	wh := &While{Condition: exprValue(t, "n < 3"), Body: body}
	out, err := ex.Expand([]Node{wh})
	require.NoError(t, err)
	require.Len(t, out, 3)

	v, _ := tx.Lookup("n")
	require.Equal(t, float64(3), v.Num())
}

func TestExpanderOnDataSuccessPath(t *testing.T) {
	ex, tx := newTestExpander()
	tx.storeResult(&DataSourceResult{Source: "users", Value: RString("alice")})

	dataBlk := newBlock()
	dataBlk.ID, dataBlk.HasID = "ok", true
	errBlk := newBlock()
	errBlk.ID, errBlk.HasID = "fail", true

	od := &OnData{SourceName: "users", DataBody: []Node{dataBlk}, ErrorBody: []Node{errBlk}}
	out, err := ex.Expand([]Node{od})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "ok", out[0].(*Block).ID)
}

func TestExpanderOnDataErrorPath(t *testing.T) {
	ex, tx := newTestExpander()
	tx.storeResult(&DataSourceResult{Source: "users", Err: &DataSourceError{
		Source: "users", Message: "timed out", Code: "Timeout", HasCode: true,
	}})

	dataBlk := newBlock()
	dataBlk.ID, dataBlk.HasID = "ok", true
	errBlk := newBlock()
	errBlk.ID, errBlk.HasID = "fail", true
	errBlk.SetProperty("reason", exprValue(t, "error.message"))
	errBlk.SetProperty("code", exprValue(t, "error.code"))

	od := &OnData{SourceName: "users", DataBody: []Node{dataBlk}, ErrorBody: []Node{errBlk}}
	out, err := ex.Expand([]Node{od})
	require.NoError(t, err)
	require.Len(t, out, 1)
	got := out[0].(*Block)
	require.Equal(t, "fail", got.ID)
	reason, _ := got.Property("reason")
	require.Equal(t, "timed out", reason.Str)
	code, _ := got.Property("code")
	require.Equal(t, "Timeout", code.Str)
}

func TestExpanderBlockExpandsTagInstanceChildren(t *testing.T) {
	ex, _ := newTestExpander()
	def := widgetDefinition()
	require.NoError(t, ex.tags.ProcessDefinitions([]Node{def}))

	instance := newBlock()
	instance.Tags = []Tag{{Kind: TagInstance, Name: "widget"}}

	parent := newBlock()
	parent.ID, parent.HasID = "parent", true
	parent.Children = []Node{instance}

	out, err := ex.Expand([]Node{parent})
	require.NoError(t, err)
	require.Len(t, out, 1)
	got := out[0].(*Block)
	require.Len(t, got.Children, 1)
	kid := got.Children[0].(*Block)
	kindProp, ok := kid.Property("kind")
	require.True(t, ok)
	require.Equal(t, "base", kindProp.Str)
}
