package ox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func exprValue(t *testing.T, expr string) *Value {
	t.Helper()
	tokens, err := lexSource("t.ox", expr)
	require.NoError(t, err)
	tokens = tokens[:len(tokens)-1] // drop EOF
	return &Value{Kind: ValueExpression, Tokens: tokens}
}

// buildTree wires: root -> child -> leaf, plus a root-level sibling "other".
func buildTree(t *testing.T) (root, child, leaf, other *Block) {
	t.Helper()
	root = newBlock()
	root.ID, root.HasID = "root", true

	child = newBlock()
	child.ID, child.HasID = "child", true
	child.SetProperty("x", NewNumberLiteral(5))

	leaf = newBlock()
	leaf.HasID = false
	child.Children = []Node{leaf}
	root.Children = []Node{child}

	other = newBlock()
	other.ID, other.HasID = "other", true
	other.SetProperty("label", NewStringLiteral("hi"))

	return root, child, leaf, other
}

func TestResolverThisAndParentReferences(t *testing.T) {
	root, child, leaf, other := buildTree(t)
	child.SetProperty("self", exprValue(t, "$this.x"))
	leaf.SetProperty("viaParent", exprValue(t, "$parent.x"))

	tx := newTransaction(0)
	_, err := resolveReferences("t.ox", []Node{root, other}, tx)
	require.NoError(t, err)

	self, _ := child.Property("self")
	require.Equal(t, ValueLiteral, self.Kind)
	require.Equal(t, float64(5), self.Num)

	viaParent, _ := leaf.Property("viaParent")
	require.Equal(t, float64(5), viaParent.Num)
}

func TestResolverBareIDReference(t *testing.T) {
	root, _, _, other := buildTree(t)
	root.SetProperty("viaOther", exprValue(t, "$other.label"))

	tx := newTransaction(0)
	_, err := resolveReferences("t.ox", []Node{root, other}, tx)
	require.NoError(t, err)

	v, _ := root.Property("viaOther")
	require.Equal(t, "hi", v.Str)
}

func TestResolverChildrenIndexing(t *testing.T) {
	root, _, _, other := buildTree(t)
	root.SetProperty("firstChildX", exprValue(t, "$this.children[0].x"))

	tx := newTransaction(0)
	_, err := resolveReferences("t.ox", []Node{root, other}, tx)
	require.NoError(t, err)

	v, _ := root.Property("firstChildX")
	require.Equal(t, float64(5), v.Num)
}

func TestResolverNoParentBlock(t *testing.T) {
	root, _, _, other := buildTree(t)
	root.SetProperty("bad", exprValue(t, "$parent.x"))

	tx := newTransaction(0)
	_, err := resolveReferences("t.ox", []Node{root, other}, tx)
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, "NoParentBlock", oxErr.Subtype)
}

func TestResolverPropertyNotFound(t *testing.T) {
	root, _, leaf, other := buildTree(t)
	leaf.SetProperty("missing", exprValue(t, "$parent.nope"))

	tx := newTransaction(0)
	_, err := resolveReferences("t.ox", []Node{root, other}, tx)
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, "PropertyNotFound", oxErr.Subtype)
}

func TestResolverBlockNotFound(t *testing.T) {
	root, _, _, other := buildTree(t)
	root.SetProperty("ghost", exprValue(t, "$nosuchblock.field"))

	tx := newTransaction(0)
	_, err := resolveReferences("t.ox", []Node{root, other}, tx)
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, "BlockNotFound", oxErr.Subtype)
}

func TestResolverChildrenIndexOutOfRange(t *testing.T) {
	root, _, _, other := buildTree(t)
	root.SetProperty("oob", exprValue(t, "$this.children[5]"))

	tx := newTransaction(0)
	_, err := resolveReferences("t.ox", []Node{root, other}, tx)
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, "IndexOutOfRange", oxErr.Subtype)
}

func TestResolverIncompleteReference(t *testing.T) {
	root, _, _, other := buildTree(t)
	// terminates on a block, not a value
	root.SetProperty("incomplete", exprValue(t, "$other"))

	tx := newTransaction(0)
	_, err := resolveReferences("t.ox", []Node{root, other}, tx)
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, "IncompleteReference", oxErr.Subtype)
}

func TestResolverForwardReferenceToUnresolvedProperty(t *testing.T) {
	root, _, _, other := buildTree(t)
	// "other" is registered after "root" in r.all, so by the time root's
	// own property is visited in registry order, other.label (itself a
	// deferred expression) has not been resolved yet. Resolution must
	// still succeed by resolving it on demand.
	other.SetProperty("label", exprValue(t, `"hi"`))
	root.SetProperty("viaOther", exprValue(t, "$other.label"))

	tx := newTransaction(0)
	_, err := resolveReferences("t.ox", []Node{root, other}, tx)
	require.NoError(t, err)

	v, _ := root.Property("viaOther")
	require.Equal(t, "hi", v.Str)

	label, _ := other.Property("label")
	require.Equal(t, ValueLiteral, label.Kind)
}

func TestResolverCircularReferenceRejected(t *testing.T) {
	root, _, _, other := buildTree(t)
	root.SetProperty("a", exprValue(t, "$other.b"))
	other.SetProperty("b", exprValue(t, "$root.a"))

	tx := newTransaction(0)
	_, err := resolveReferences("t.ox", []Node{root, other}, tx)
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, "InvalidReference", oxErr.Subtype)
}

func TestResolverByIDAndAll(t *testing.T) {
	root, child, _, other := buildTree(t)

	tx := newTransaction(0)
	r, err := resolveReferences("t.ox", []Node{root, other}, tx)
	require.NoError(t, err)

	bc, ok := r.ByID("child")
	require.True(t, ok)
	require.Equal(t, child, bc.node)

	// root, child, leaf, other = 4 registered contexts
	require.Len(t, r.All(), 4)
}

func TestResolverDuplicateIDKeepsFirstInDocumentOrder(t *testing.T) {
	first := newBlock()
	first.ID, first.HasID = "dup", true
	first.SetProperty("which", NewStringLiteral("first"))

	second := newBlock()
	second.ID, second.HasID = "dup", true
	second.SetProperty("which", NewStringLiteral("second"))

	tx := newTransaction(0)
	r, err := resolveReferences("t.ox", []Node{first, second}, tx)
	require.NoError(t, err)

	bc, ok := r.ByID("dup")
	require.True(t, ok)
	which, _ := bc.node.Property("which")
	require.Equal(t, "first", which.Str)
}
