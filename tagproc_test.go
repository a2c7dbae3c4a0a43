package ox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func widgetDefinition() *Block {
	def := newBlock()
	def.Tags = []Tag{{Kind: TagDefinition, Name: "widget"}}
	def.SetProperty("kind", NewStringLiteral("base"))
	icon := newBlock()
	icon.ID, icon.HasID = "icon", true
	def.Children = []Node{icon}
	return def
}

func TestTagProcessorExpandSingleInstance(t *testing.T) {
	tp := newTagProcessor()
	def := widgetDefinition()
	require.NoError(t, tp.ProcessDefinitions([]Node{def}))

	instance := newBlock()
	instance.Tags = []Tag{{Kind: TagInstance, Name: "widget", Argument: "primary", HasArg: true}}
	instance.SetProperty("label", NewStringLiteral("Save"))
	extra := newBlock()
	extra.ID, extra.HasID = "extra", true
	instance.Children = []Node{extra}

	require.NoError(t, tp.ValidateInstances([]Node{instance}))

	out, err := tp.ExpandInstance(instance)
	require.NoError(t, err)
	require.Equal(t, "widget_primary", out.ID)
	require.True(t, out.HasID)

	kind, ok := out.Property("kind")
	require.True(t, ok)
	require.Equal(t, "base", kind.Str)

	label, ok := out.Property("label")
	require.True(t, ok)
	require.Equal(t, "Save", label.Str)

	require.Len(t, out.Children, 2) // icon (from definition) + extra (instance's own)
}

func TestTagProcessorExpandCompositeInstance(t *testing.T) {
	tp := newTagProcessor()
	a := newBlock()
	a.Tags = []Tag{{Kind: TagDefinition, Name: "a"}}
	b := newBlock()
	b.Tags = []Tag{{Kind: TagDefinition, Name: "b"}}
	require.NoError(t, tp.ProcessDefinitions([]Node{a, b}))

	combo := newBlock()
	combo.ID, combo.HasID = "combo", true
	combo.Tags = []Tag{
		{Kind: TagInstance, Name: "a"},
		{Kind: TagInstance, Name: "b"},
	}

	out, err := tp.ExpandInstance(combo)
	require.NoError(t, err)
	require.Equal(t, "combo", out.ID)
	require.Len(t, out.Children, 2)

	c0 := out.Children[0].(*Block)
	c1 := out.Children[1].(*Block)
	require.Equal(t, "combo_a", c0.ID)
	require.Equal(t, "combo_b", c1.ID)
}

func TestTagProcessorArgumentKeyedDefinitionsCompose(t *testing.T) {
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
	require.NoError(t, tp.ValidateInstances([]Node{combo}))

	out, err := tp.ExpandInstance(combo)
	require.NoError(t, err)
	require.Len(t, out.Children, 2)

	c0 := out.Children[0].(*Block)
	c1 := out.Children[1].(*Block)
	require.Equal(t, "combo_Button", c0.ID)
	require.Equal(t, "combo_Icon", c1.ID)
	k0, _ := c0.Property("kind")
	require.Equal(t, "button", k0.Str)
	k1, _ := c1.Property("kind")
	require.Equal(t, "icon", k1.Str)
}

func TestTagProcessorArgumentKeyedInstanceFoundByFullKey(t *testing.T) {
	tp := newTagProcessor()
	def := newBlock()
	def.Tags = []Tag{{Kind: TagDefinition, Name: "x", Argument: "foo", HasArg: true}}
	require.NoError(t, tp.ProcessDefinitions([]Node{def}))

	instance := newBlock()
	instance.Tags = []Tag{{Kind: TagInstance, Name: "x", Argument: "foo", HasArg: true}}
	require.NoError(t, tp.ValidateInstances([]Node{instance}))

	_, err := tp.ExpandInstance(instance)
	require.NoError(t, err)
}

func TestTagProcessorValidateInstancesUndefinedTag(t *testing.T) {
	tp := newTagProcessor()
	instance := newBlock()
	instance.Tags = []Tag{{Kind: TagInstance, Name: "ghost"}}

	err := tp.ValidateInstances([]Node{instance})
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, "UndefinedTag", oxErr.Subtype)
}

func TestTagProcessorModulePropertyConflict(t *testing.T) {
	tp := newTagProcessor()
	def := widgetDefinition() // already has a "kind" property
	require.NoError(t, tp.ProcessDefinitions([]Node{def}))
	tp.ModuleProperties = map[string]func() (*Value, error){
		"kind": func() (*Value, error) { return NewStringLiteral("override"), nil },
	}

	instance := newBlock()
	instance.Tags = []Tag{{Kind: TagInstance, Name: "widget"}}

	_, err := tp.ExpandInstance(instance)
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, "ModulePropertyConflict", oxErr.Subtype)
}

func TestTagProcessorModulePropertyInjection(t *testing.T) {
	tp := newTagProcessor()
	def := newBlock()
	def.Tags = []Tag{{Kind: TagDefinition, Name: "plain"}}
	require.NoError(t, tp.ProcessDefinitions([]Node{def}))
	tp.ModuleProperties = map[string]func() (*Value, error){
		"generated": func() (*Value, error) { return NewBoolLiteral(true), nil },
	}

	instance := newBlock()
	instance.Tags = []Tag{{Kind: TagInstance, Name: "plain"}}

	out, err := tp.ExpandInstance(instance)
	require.NoError(t, err)
	gen, ok := out.Property("generated")
	require.True(t, ok)
	require.True(t, gen.Bool)
}

func TestTagProcessorDuplicateDefinitionRejected(t *testing.T) {
	tp := newTagProcessor()
	first := newBlock()
	first.Tags = []Tag{{Kind: TagDefinition, Name: "widget"}}
	second := newBlock()
	second.Tags = []Tag{{Kind: TagDefinition, Name: "widget"}}

	err := tp.ProcessDefinitions([]Node{first, second})
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, "DuplicateTagDefinition", oxErr.Subtype)
}

func TestTagProcessorDefinitionWithExpressionRejected(t *testing.T) {
	tp := newTagProcessor()
	def := newBlock()
	def.Tags = []Tag{{Kind: TagDefinition, Name: "widget"}}
	def.SetProperty("label", exprValue(t, "1 + 1"))

	err := tp.ProcessDefinitions([]Node{def})
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, "TagDefinitionHasExpression", oxErr.Subtype)
}

func TestTagProcessorCompositionWithPropertiesRejected(t *testing.T) {
	tp := newTagProcessor()
	a := newBlock()
	a.Tags = []Tag{{Kind: TagDefinition, Name: "a"}}
	b := newBlock()
	b.Tags = []Tag{{Kind: TagDefinition, Name: "b"}}
	require.NoError(t, tp.ProcessDefinitions([]Node{a, b}))

	combo := newBlock()
	combo.Tags = []Tag{{Kind: TagInstance, Name: "a"}, {Kind: TagInstance, Name: "b"}}
	combo.SetProperty("label", NewStringLiteral("Save"))

	_, err := tp.ExpandInstance(combo)
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, "CompositionHasProperties", oxErr.Subtype)
}

func TestTagProcessorCompositionWithChildrenRejected(t *testing.T) {
	tp := newTagProcessor()
	a := newBlock()
	a.Tags = []Tag{{Kind: TagDefinition, Name: "a"}}
	b := newBlock()
	b.Tags = []Tag{{Kind: TagDefinition, Name: "b"}}
	require.NoError(t, tp.ProcessDefinitions([]Node{a, b}))

	extra := newBlock()
	extra.ID, extra.HasID = "extra", true
	combo := newBlock()
	combo.Tags = []Tag{{Kind: TagInstance, Name: "a"}, {Kind: TagInstance, Name: "b"}}
	combo.Children = []Node{extra}

	_, err := tp.ExpandInstance(combo)
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, "CompositionHasChildren", oxErr.Subtype)
}
