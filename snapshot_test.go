package ox

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// blockSnap is a plain, fully-exported projection of a *Block (and its
// FreeText/Inject siblings) used for structural diffing with go-cmp —
// Block itself carries unexported property-index bookkeeping that cmp
// cannot traverse without an Exporter, so tests compare this projection
// instead of the live AST.
type blockSnap struct {
	ID         string
	HasID      bool
	Properties map[string]*Value
	Children   []nodeSnap
}

type nodeSnap struct {
	Block    *blockSnap
	Text     string
	IsInject bool
}

func snapshotNodes(nodes []Node) []nodeSnap {
	out := make([]nodeSnap, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, snapshotNode(n))
	}
	return out
}

func snapshotNode(n Node) nodeSnap {
	switch v := n.(type) {
	case *Block:
		return nodeSnap{Block: snapshotBlock(v)}
	case *FreeText:
		return nodeSnap{Text: v.Text}
	case *Inject:
		return nodeSnap{IsInject: true}
	default:
		return nodeSnap{}
	}
}

func snapshotBlock(b *Block) *blockSnap {
	props := make(map[string]*Value, b.PropertyCount())
	for i := 0; i < b.PropertyCount(); i++ {
		k, v := b.PropertyAt(i)
		props[k] = v
	}
	return &blockSnap{
		ID:         b.ID,
		HasID:      b.HasID,
		Properties: props,
		Children:   snapshotNodes(b.Children),
	}
}

func TestTagProcessorCompositeExpansionStructuralSnapshot(t *testing.T) {
	tp := newTagProcessor()
	button := newBlock()
	button.Tags = []Tag{{Kind: TagDefinition, Name: "component", Argument: "Button", HasArg: true}}
	button.SetProperty("kind", NewStringLiteral("button"))
	icon := newBlock()
	icon.Tags = []Tag{{Kind: TagDefinition, Name: "component", Argument: "Icon", HasArg: true}}
	icon.SetProperty("kind", NewStringLiteral("icon"))
	require.NoError(t, tp.ProcessDefinitions([]Node{button, icon}))

	combo := newBlock()
	combo.ID, combo.HasID = "combo", true
	combo.Tags = []Tag{
		{Kind: TagInstance, Name: "component", Argument: "Button", HasArg: true},
		{Kind: TagInstance, Name: "component", Argument: "Icon", HasArg: true},
	}

	out, err := tp.ExpandInstance(combo)
	require.NoError(t, err)

	want := &blockSnap{
		ID:    "combo",
		HasID: true,
		Children: []nodeSnap{
			{Block: &blockSnap{ID: "combo_Button", HasID: true, Properties: map[string]*Value{"kind": NewStringLiteral("button")}}},
			{Block: &blockSnap{ID: "combo_Icon", HasID: true, Properties: map[string]*Value{"kind": NewStringLiteral("icon")}}},
		},
	}
	if diff := cmp.Diff(want, snapshotBlock(out)); diff != "" {
		t.Fatalf("composite expansion mismatch (-want +got):\n%s", diff)
	}
}

func TestOXProjectStructuralSnapshotEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "shared.ox", `@icon { kind = "svg" }`)
	writeFile(t, dir, "main.ox", `
<import "shared.ox">
page {
	title = "Home"
	#icon {}
}`)

	p, err := FromDirectory(dir)
	require.NoError(t, err)

	nodes, err := p.ParseFile(dir + "/main.ox")
	require.NoError(t, err)

	want := []nodeSnap{
		{Block: &blockSnap{
			ID:    "page",
			HasID: true,
			Properties: map[string]*Value{
				"title": NewStringLiteral("Home"),
			},
			Children: []nodeSnap{
				// `#icon {}` carries no id or tag argument, so its expansion has no id.
				{Block: &blockSnap{ID: "", HasID: false, Properties: map[string]*Value{"kind": NewStringLiteral("svg")}}},
			},
		}},
	}
	if diff := cmp.Diff(want, snapshotNodes(nodes)); diff != "" {
		t.Fatalf("end-to-end compiled tree mismatch (-want +got):\n%s", diff)
	}
}
