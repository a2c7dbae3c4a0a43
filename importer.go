package ox

import (
	"fmt"
	"path/filepath"
	"unicode"
)

// maxAliasLength bounds an `<import ... as alias>` identifier (spec.md
// §4.10).
const maxAliasLength = 50

// ImportProcessor resolves `<import "path" [as alias]>` directives found
// at document top level: it loads and parses the target file, recurses
// into its own imports, and merges every tag definition it declares into
// the importing file's TagProcessor registry — either namespaced under
// `alias.name` or merged bare (last write wins) when no alias is given.
//
// Grounded on pongo2's TemplateSet.FromFile/FromCache resolution chain
// (_examples/flosch-pongo2/template_sets.go), generalized from "load one
// named template" to "load a file and harvest its tag definitions".
type ImportProcessor struct {
	loader   *FileLoader
	resolver *PathResolver
	graph    *ImportGraph
	maxDepth int
}

func newImportProcessor(loader *FileLoader, resolver *PathResolver, graph *ImportGraph, maxDepth int) *ImportProcessor {
	return &ImportProcessor{loader: loader, resolver: resolver, graph: graph, maxDepth: maxDepth}
}

// ProcessImports resolves every import of doc and merges discovered tag
// definitions into tp, keyed the way spec.md §4.10 describes.
func (ip *ImportProcessor) ProcessImports(doc *Document, tp *TagProcessor) error {
	for _, imp := range doc.Imports {
		if imp.Has {
			if err := validateAlias(imp.Alias); err != nil {
				return err
			}
		}
		target, err := ip.resolver.Resolve(imp.Path, filepath.Dir(doc.File))
		if err != nil {
			return err
		}
		if err := ip.graph.Enter(target, ip.maxDepth); err != nil {
			return err
		}
		ip.graph.AddEdge(doc.File, target, edgeImport)

		defs, err := ip.loadDefinitions(target)
		ip.graph.Leave()
		if err != nil {
			return err
		}

		for name, block := range defs {
			key := name
			if imp.Has {
				key = imp.Alias + "." + name
			}
			tp.definitions[key] = block
		}
	}
	return nil
}

// loadDefinitions loads and parses `path`, recursively processes its own
// imports (so transitively imported tags are visible too), and returns
// every tag definition it declares, keyed by Tag.Key() (bare name, or
// name(argument) for an argument-bearing definition) exactly as
// TagProcessor.definitions keys them.
func (ip *ImportProcessor) loadDefinitions(path string) (map[string]*Block, error) {
	src, err := ip.loader.Load(path)
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(path, src)
	if err != nil {
		return nil, err
	}

	childTP := newTagProcessor()
	if err := ip.ProcessImports(doc, childTP); err != nil {
		return nil, err
	}
	if err := childTP.ProcessDefinitions(doc.Blocks); err != nil {
		return nil, err
	}
	if err := childTP.ProcessDefinitions(doc.Templates); err != nil {
		return nil, err
	}
	return childTP.definitions, nil
}

func validateAlias(alias string) error {
	if alias == "" || len(alias) > maxAliasLength {
		return newErrf(KindProjectError, "InvalidAlias", Location{}, "alias %q must be 1-%d characters", alias, maxAliasLength)
	}
	if _, reserved := keywords[alias]; reserved {
		return newErrf(KindProjectError, "InvalidAlias", Location{}, "alias %q is a reserved keyword", alias)
	}
	for i, r := range alias {
		valid := unicode.IsLetter(r) || r == '_' || (i > 0 && unicode.IsDigit(r))
		if !valid {
			return newErrf(KindProjectError, "InvalidAlias", Location{}, fmt.Sprintf("alias %q is not a valid identifier", alias))
		}
	}
	return nil
}
