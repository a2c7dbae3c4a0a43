package ox

// This file defines the raw AST produced by the parser (spec.md §3). Node
// variants are closed sum types per spec.md §9 "Tagged variants vs.
// polymorphism": a Node never changes variant after creation, matching the
// teacher's separation of IEvaluator/INode interfaces
// (_examples/flosch-pongo2/parser.go) generalized from "renders to a
// string" to "evaluates/expands within a compilation Transaction".

// TagKind distinguishes a tag definition from a tag instance.
type TagKind int

const (
	TagDefinition TagKind = iota
	TagInstance
)

// Tag is an `@name` (Definition) or `#name(arg)` (Instance) annotation.
type Tag struct {
	Kind     TagKind
	Name     string
	Argument string
	HasArg   bool
	Loc      Location
}

func (t Tag) Key() string {
	if t.HasArg {
		return t.Name + "(" + t.Argument + ")"
	}
	return t.Name
}

// ValueKind discriminates the Value sum type.
type ValueKind int

const (
	ValueLiteral ValueKind = iota
	ValueArray
	ValueExpression
)

// LiteralType is the runtime type of a Literal value.
type LiteralType int

const (
	LitString LiteralType = iota
	LitNumber
	LitBool
	LitNull
	LitObject // canonical JSON-serialised object (see module-property injection)
)

// Value is a property value: a deferred Expression until preprocessing
// resolves it to a Literal or an Array of Literals (spec.md §3 invariants).
type Value struct {
	Kind ValueKind

	// ValueLiteral
	LitType LiteralType
	Str     string
	Num     float64
	Bool    bool

	// ValueArray
	Items []*Value

	// ValueExpression
	Tokens []*Token
	Loc    Location
}

func NewStringLiteral(s string) *Value   { return &Value{Kind: ValueLiteral, LitType: LitString, Str: s} }
func NewNumberLiteral(n float64) *Value  { return &Value{Kind: ValueLiteral, LitType: LitNumber, Num: n} }
func NewBoolLiteral(b bool) *Value       { return &Value{Kind: ValueLiteral, LitType: LitBool, Bool: b} }
func NewNullLiteral() *Value             { return &Value{Kind: ValueLiteral, LitType: LitNull} }
func NewObjectLiteral(json string) *Value {
	return &Value{Kind: ValueLiteral, LitType: LitObject, Str: json}
}

// IsLiteral reports whether the value has already been reduced.
func (v *Value) IsLiteral() bool { return v.Kind == ValueLiteral }

// IsLiteralArray reports whether every element of an array value is itself
// a literal (spec.md §3 invariant: "every Value reachable from a Block's
// properties is a Literal or an Array of Literals").
func (v *Value) IsLiteralArray() bool {
	if v.Kind != ValueArray {
		return false
	}
	for _, it := range v.Items {
		if !it.IsLiteral() {
			return false
		}
	}
	return true
}

// Clone deep-copies a Value; used by tag-instance expansion (spec.md §4.7)
// to clone a definition block before overlaying instance properties.
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	cp := *v
	if v.Items != nil {
		cp.Items = make([]*Value, len(v.Items))
		for i, it := range v.Items {
			cp.Items[i] = it.Clone()
		}
	}
	if v.Tokens != nil {
		cp.Tokens = append([]*Token(nil), v.Tokens...)
	}
	return &cp
}

// property is one ordered key/value pair of a Block (spec.md §3: "an ordered
// mapping (key→Value)"; last write wins at parse time for duplicate keys).
type property struct {
	key string
	val *Value
}

// Block is a named or anonymous structural record with properties,
// children and tags (spec.md GLOSSARY).
type Block struct {
	ID       string
	HasID    bool
	Tags     []Tag
	props    []property // ordered; index via propIndex for O(1) lookup
	propIdx  map[string]int
	Children []Node
	Loc      Location
}

func newBlock() *Block {
	return &Block{propIdx: make(map[string]int)}
}

// SetProperty sets or overwrites a property, preserving source order for a
// first write and keeping the slot (last write wins) for subsequent writes.
func (b *Block) SetProperty(key string, val *Value) {
	if b.propIdx == nil {
		b.propIdx = make(map[string]int)
	}
	if i, ok := b.propIdx[key]; ok {
		b.props[i].val = val
		return
	}
	b.propIdx[key] = len(b.props)
	b.props = append(b.props, property{key: key, val: val})
}

// Property returns a property's value and whether it is present.
func (b *Block) Property(key string) (*Value, bool) {
	if i, ok := b.propIdx[key]; ok {
		return b.props[i].val, true
	}
	return nil, false
}

// PropertyNames returns property keys in source order.
func (b *Block) PropertyNames() []string {
	names := make([]string, len(b.props))
	for i, p := range b.props {
		names[i] = p.key
	}
	return names
}

// PropertyCount returns the number of properties on the block.
func (b *Block) PropertyCount() int { return len(b.props) }

// PropertyAt returns the key/value pair at position i in source order.
func (b *Block) PropertyAt(i int) (string, *Value) {
	p := b.props[i]
	return p.key, p.val
}

// CloneShallowProps copies the property slice/index (used when cloning a
// block for tag-instance expansion before overlaying).
func (b *Block) cloneProps() ([]property, map[string]int) {
	props := make([]property, len(b.props))
	idx := make(map[string]int, len(b.propIdx))
	for i, p := range b.props {
		props[i] = property{key: p.key, val: p.val.Clone()}
		idx[p.key] = i
	}
	return props, idx
}

// Clone deep-copies a Block and its subtree (used by tag-instance expansion,
// spec.md §4.7).
func (b *Block) Clone() *Block {
	cp := newBlock()
	cp.ID = b.ID
	cp.HasID = b.HasID
	cp.Tags = append([]Tag(nil), b.Tags...)
	cp.props, cp.propIdx = b.cloneProps()
	cp.Loc = b.Loc
	cp.Children = make([]Node, len(b.Children))
	for i, c := range b.Children {
		cp.Children[i] = cloneNode(c)
	}
	return cp
}

// Node is any child of a Block or Document: another Block, FreeText, or a
// Template directive (spec.md §3).
type Node interface {
	isNode()
}

// cloneNode deep-copies any raw-tree node, including template directives:
// a `<foreach>`/`<while>` body is expanded once per iteration (spec.md
// §4.6), and a tag definition's body is expanded once per instance
// (§4.7), so every node reachable from either must be copied rather than
// mutated-in-place and shared, or a later iteration/instance would see
// the previous one's already-evaluated properties.
func cloneNode(n Node) Node {
	switch v := n.(type) {
	case *Block:
		return v.Clone()
	case *FreeText:
		return &FreeText{Text: v.Text, Tags: append([]Tag(nil), v.Tags...), Loc: v.Loc}
	case *Set:
		return &Set{Name: v.Name, Value: v.Value.Clone(), Loc: v.Loc}
	case *If:
		branches := make([]IfBranch, len(v.ElseIfBranch))
		for i, br := range v.ElseIfBranch {
			branches[i] = IfBranch{Condition: br.Condition.Clone(), Body: cloneNodes(br.Body)}
		}
		return &If{
			Condition:    v.Condition.Clone(),
			ThenBody:     cloneNodes(v.ThenBody),
			ElseIfBranch: branches,
			ElseBody:     cloneNodes(v.ElseBody),
			Loc:          v.Loc,
		}
	case *Foreach:
		return &Foreach{
			ItemVar: v.ItemVar, IndexVar: v.IndexVar, HasIndex: v.HasIndex,
			Collection: v.Collection, Body: cloneNodes(v.Body), Loc: v.Loc,
		}
	case *While:
		return &While{Condition: v.Condition.Clone(), Body: cloneNodes(v.Body), Loc: v.Loc}
	case *OnData:
		return &OnData{
			SourceName: v.SourceName,
			DataBody:   cloneNodes(v.DataBody),
			ErrorBody:  cloneNodes(v.ErrorBody),
			Loc:        v.Loc,
		}
	case *Import:
		cp := *v
		return &cp
	case *Inject:
		cp := *v
		return &cp
	default:
		return n
	}
}

// cloneNodes deep-copies a node slice, preserving order.
func cloneNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = cloneNode(n)
	}
	return out
}

func (*Block) isNode()    {}
func (*FreeText) isNode() {}
func (*Set) isNode()      {}
func (*If) isNode()       {}
func (*Foreach) isNode()  {}
func (*While) isNode()    {}
func (*OnData) isNode()   {}
func (*Import) isNode()   {}
func (*Inject) isNode()   {}

// FreeText is a triple-backtick-fenced payload child of a block.
type FreeText struct {
	Text string
	Tags []Tag
	Loc  Location
}

// Set corresponds to `<set name = value>`.
type Set struct {
	Name  string
	Value *Value
	Loc   Location
}

// IfBranch is one `elseif` arm.
type IfBranch struct {
	Condition *Value
	Body      []Node
}

// If corresponds to `<if>...<elseif>...<else>...</if>`.
type If struct {
	Condition    *Value
	ThenBody     []Node
	ElseIfBranch []IfBranch
	ElseBody     []Node
	Loc          Location
}

// Foreach corresponds to `<foreach (item[, index] in collection)>`.
type Foreach struct {
	ItemVar    string
	IndexVar   string
	HasIndex   bool
	Collection string
	Body       []Node
	Loc        Location
}

// While corresponds to `<while (condition)>`.
type While struct {
	Condition *Value
	Body      []Node
	Loc       Location
}

// OnData corresponds to `<on-data name>...<on-error>...</on-data>`.
type OnData struct {
	SourceName string
	DataBody   []Node
	ErrorBody  []Node
	Loc        Location
}

// Import corresponds to `<import "path" [as alias]>`.
type Import struct {
	Path  string
	Alias string
	Has   bool
	Loc   Location
}

// Inject corresponds to `<inject "path">`.
type Inject struct {
	Path string
	Loc  Location
}

// Document is the parser's top-level output: blocks/injects kept inline in
// source order, with templates and imports split into their own slices
// (spec.md §3 "Document").
type Document struct {
	Blocks    []Node // Block or Inject, in source order
	Templates []Node // Set/If/Foreach/While/OnData, top-level only
	Imports   []*Import
	File      string
}
