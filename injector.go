package ox

import "path/filepath"

// InjectProcessor splices the fully-compiled output of another file in
// place of an `<inject "path">` node (spec.md §4.10). Unlike import, which
// only lends tag definitions, inject runs the target file through the
// entire pipeline independently (its own Transaction, its own data
// sources) and drops the resulting blocks directly into the tree.
//
// Grounded on pongo2's {% include %} tag semantics conceptually
// (_examples/flosch-pongo2/tags_include.go: splice another compiled unit's
// output in place) generalized from string concatenation to AST splicing.
type InjectProcessor struct {
	resolver *PathResolver
	graph    *ImportGraph
	maxDepth int
	// compile runs the full pipeline (parse -> import -> tag defs ->
	// data-source exec -> expand -> resolve -> inject) for another file and
	// returns its compiled top-level blocks. Supplied by OXProject, which
	// owns that pipeline, to avoid a cyclic dependency between this file and
	// project.go.
	compile func(path string) ([]Node, error)
}

func newInjectProcessor(resolver *PathResolver, graph *ImportGraph, maxDepth int, compile func(path string) ([]Node, error)) *InjectProcessor {
	return &InjectProcessor{resolver: resolver, graph: graph, maxDepth: maxDepth, compile: compile}
}

// ProcessInjects walks nodes, replacing each *Inject with the target
// file's compiled blocks, recursing into block children (inject is valid
// there too, per validateInjectLocations having already accepted it).
func (ip *InjectProcessor) ProcessInjects(nodes []Node, fromFile string) ([]Node, error) {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		switch v := n.(type) {
		case *Inject:
			target, err := ip.resolver.Resolve(v.Path, filepath.Dir(fromFile))
			if err != nil {
				return nil, err
			}
			if err := ip.graph.Enter(target, ip.maxDepth); err != nil {
				return nil, err
			}
			ip.graph.AddEdge(fromFile, target, edgeInject)
			injected, err := ip.compile(target)
			ip.graph.Leave()
			if err != nil {
				return nil, err
			}
			out = append(out, injected...)
		case *Block:
			children, err := ip.ProcessInjects(v.Children, fromFile)
			if err != nil {
				return nil, err
			}
			v.Children = children
			out = append(out, v)
		default:
			out = append(out, n)
		}
	}
	return out, nil
}

// validateInjectLocations enforces spec.md §4.10's placement rule: inject
// is only legal at document top level or as a direct child of a block,
// never inside an `<if>/<foreach>/<while>/<on-data>` body (those bodies
// are flattened away during expansion, which would make the rule
// unenforceable after the fact, so it is checked against the raw parse
// tree up front).
func validateInjectLocations(doc *Document) error {
	if err := scanForMisplacedInject(doc.Blocks, false); err != nil {
		return err
	}
	return scanForMisplacedInject(doc.Templates, false)
}

func scanForMisplacedInject(nodes []Node, insideDirectiveBody bool) error {
	for _, n := range nodes {
		switch v := n.(type) {
		case *Inject:
			if insideDirectiveBody {
				return newErrf(KindParseError, "InvalidInjectLocation", v.Loc,
					"'<inject>' is only valid at document top level or as a direct block child")
			}
		case *Block:
			if err := scanForMisplacedInject(v.Children, false); err != nil {
				return err
			}
		case *If:
			if err := scanForMisplacedInject(v.ThenBody, true); err != nil {
				return err
			}
			for _, br := range v.ElseIfBranch {
				if err := scanForMisplacedInject(br.Body, true); err != nil {
					return err
				}
			}
			if err := scanForMisplacedInject(v.ElseBody, true); err != nil {
				return err
			}
		case *Foreach:
			if err := scanForMisplacedInject(v.Body, true); err != nil {
				return err
			}
		case *While:
			if err := scanForMisplacedInject(v.Body, true); err != nil {
				return err
			}
		case *OnData:
			if err := scanForMisplacedInject(v.DataBody, true); err != nil {
				return err
			}
			if err := scanForMisplacedInject(v.ErrorBody, true); err != nil {
				return err
			}
		}
	}
	return nil
}
