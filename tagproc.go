package ox

import "fmt"

// TagProcessor implements spec.md §4.7: a block tagged `@name` (TagDefinition)
// registers itself as a reusable template; a block tagged `#name(arg)`
// (TagInstance) is replaced by a clone of that template, overlaid with the
// instance block's own properties/children. Multiple instance tags on one
// block compose into a synthetic parent with one named child per tag.
//
// Grounded on pongo2's macro tag (_examples/flosch-pongo2/tags_macro.go),
// which plays the same "name a reusable body, instantiate it elsewhere"
// role; OX generalizes macro arguments from positional call params to a
// single optional tag argument plus full property/child overlay.
type TagProcessor struct {
	definitions map[string]*Block
	// ModuleProperties are host-supplied computed properties (spec.md
	// §4.7 "module-property injection"): a getter invoked per expansion and
	// merged into the cloned definition before the instance's own
	// properties are overlaid.
	ModuleProperties map[string]func() (*Value, error)
}

func newTagProcessor() *TagProcessor {
	return &TagProcessor{definitions: make(map[string]*Block)}
}

// ProcessDefinitions walks the tree once, registering every block carrying
// a TagDefinition tag under its `name` (or `name(argument)`) key (spec.md
// §4.7 step 1). A definition may not hold any still-deferred Expression
// property (`TagDefinitionHasExpression`: a definition is a static
// template, resolved once per instance, not once per definition), and a
// key registered twice fails `DuplicateTagDefinition` rather than silently
// picking one.
func (tp *TagProcessor) ProcessDefinitions(roots []Node) error {
	var firstErr error
	Walk(roots, func(b *Block, _ []*Block, _ int) WalkAction {
		for _, tag := range b.Tags {
			if tag.Kind != TagDefinition {
				continue
			}
			if firstErr != nil {
				continue
			}
			for i := 0; i < b.PropertyCount(); i++ {
				_, v := b.PropertyAt(i)
				if v != nil && v.Kind == ValueExpression {
					firstErr = newErrf(KindPreprocessError, "TagDefinitionHasExpression", tag.Loc,
						"tag definition %q has an unresolved expression property", tag.Key())
					return WalkStop
				}
			}
			key := tag.Key()
			if _, dup := tp.definitions[key]; dup {
				firstErr = newErrf(KindPreprocessError, "DuplicateTagDefinition", tag.Loc,
					"tag definition %q is already registered", key)
				return WalkStop
			}
			tp.definitions[key] = b
		}
		return WalkContinue
	})
	return firstErr
}

// ValidateInstances checks every TagInstance reference against the
// registry before any expansion happens, so an undefined tag is reported
// once with full source context rather than surfacing as a nil pointer
// during expansion.
func (tp *TagProcessor) ValidateInstances(roots []Node) error {
	var firstErr error
	names := tp.definitionNames()
	Walk(roots, func(b *Block, _ []*Block, _ int) WalkAction {
		for _, tag := range b.Tags {
			if tag.Kind != TagInstance {
				continue
			}
			if _, ok := tp.definitions[tag.Key()]; !ok && firstErr == nil {
				firstErr = newErrf(KindPreprocessError, "UndefinedTag", tag.Loc,
					withSuggestion(fmt.Sprintf("undefined tag %q", tag.Key()), tag.Key(), names))
			}
		}
		return WalkContinue
	})
	return firstErr
}

func (tp *TagProcessor) definitionNames() []string {
	names := make([]string, 0, len(tp.definitions))
	for n := range tp.definitions {
		names = append(names, n)
	}
	return names
}

// ExpandInstance expands one instance-tagged block in place, returning the
// node(s) that should replace it in its parent's child list: a single
// cloned-and-overlaid block for one instance tag, or a synthetic composite
// parent for multiple.
func (tp *TagProcessor) ExpandInstance(b *Block) (*Block, error) {
	var instances []Tag
	var other []Tag
	for _, t := range b.Tags {
		if t.Kind == TagInstance {
			instances = append(instances, t)
		} else {
			other = append(other, t)
		}
	}
	if len(instances) == 0 {
		return b, nil
	}
	if len(instances) == 1 {
		return tp.expandSingle(b, instances[0], other)
	}
	return tp.expandComposite(b, instances, other)
}

func (tp *TagProcessor) expandSingle(b *Block, tag Tag, keepTags []Tag) (*Block, error) {
	def, ok := tp.definitions[tag.Key()]
	if !ok {
		return nil, newErrf(KindPreprocessError, "UndefinedTag", tag.Loc, "undefined tag %q", tag.Key())
	}
	clone := def.Clone()
	clone.Loc = b.Loc
	clone.Tags = keepTags

	if err := tp.applyModuleProperties(clone); err != nil {
		return nil, err
	}

	// Overlay the instance block's own properties (instance wins on
	// conflict) and append its own children after the definition's.
	for i := 0; i < b.PropertyCount(); i++ {
		k, v := b.PropertyAt(i)
		clone.SetProperty(k, v)
	}
	clone.Children = append(clone.Children, b.Children...)

	if b.HasID {
		clone.ID = b.ID
		clone.HasID = true
	} else if tag.HasArg {
		clone.ID = fmt.Sprintf("%s_%s", tag.Name, tag.Argument)
		clone.HasID = true
	}
	return clone, nil
}

// expandComposite handles a block carrying more than one `#name(arg)` tag.
// Composition only names which definitions to instantiate, so the block
// itself must carry no properties (`CompositionHasProperties`) and no
// children of its own (`CompositionHasChildren`) — spec.md §4.7: a
// composite block "becomes a synthetic parent" and has nothing to overlay.
// It becomes that synthetic parent (keeping the original block's own id)
// whose children are one clone per tag, named `<parentId>_<tagArg>`.
func (tp *TagProcessor) expandComposite(b *Block, instances []Tag, keepTags []Tag) (*Block, error) {
	if b.PropertyCount() > 0 {
		return nil, newErrf(KindPreprocessError, "CompositionHasProperties", b.Loc,
			"a block with multiple tag instances may not declare its own properties")
	}
	if len(b.Children) > 0 {
		return nil, newErrf(KindPreprocessError, "CompositionHasChildren", b.Loc,
			"a block with multiple tag instances may not declare its own children")
	}

	parent := newBlock()
	parent.Loc = b.Loc
	parent.Tags = keepTags
	parent.ID = b.ID
	parent.HasID = b.HasID

	parentID := b.ID
	if !b.HasID {
		parentID = "tag_composite"
	}

	for _, tag := range instances {
		def, ok := tp.definitions[tag.Key()]
		if !ok {
			return nil, newErrf(KindPreprocessError, "UndefinedTag", tag.Loc, "undefined tag %q", tag.Key())
		}
		clone := def.Clone()
		clone.Loc = b.Loc
		if err := tp.applyModuleProperties(clone); err != nil {
			return nil, err
		}
		suffix := tag.Name
		if tag.HasArg {
			suffix = tag.Argument
		}
		clone.ID = fmt.Sprintf("%s_%s", parentID, suffix)
		clone.HasID = true
		parent.Children = append(parent.Children, clone)
	}
	return parent, nil
}

// applyModuleProperties merges host-registered computed properties into a
// freshly-cloned definition. A property the definition already defines
// explicitly conflicts with a same-named module getter.
func (tp *TagProcessor) applyModuleProperties(clone *Block) error {
	for key, getter := range tp.ModuleProperties {
		if _, exists := clone.Property(key); exists {
			return newErrf(KindPreprocessError, "ModulePropertyConflict", clone.Loc,
				"module property %q conflicts with an explicit definition property of the same name", key)
		}
		val, err := getter()
		if err != nil {
			return newErr(KindPreprocessError, "ModulePropertyConflict", clone.Loc, err)
		}
		clone.SetProperty(key, val)
	}
	return nil
}

// ExpandAll returns a new node slice in which every instance-tagged block
// is replaced with its expansion (each block's Children field is updated
// in place). Non-block nodes and untagged blocks pass
// through unchanged; a block's own children are expanded recursively
// first (bottom-up), so a definition's body may itself reference other
// tags.
func (tp *TagProcessor) ExpandAll(nodes []Node) ([]Node, error) {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		b, ok := n.(*Block)
		if !ok {
			out = append(out, n)
			continue
		}
		expandedChildren, err := tp.ExpandAll(b.Children)
		if err != nil {
			return nil, err
		}
		b.Children = expandedChildren
		result, err := tp.ExpandInstance(b)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, nil
}
