package ox

import (
	"context"
	"path/filepath"
)

// OXProject is the composition root (spec.md §4.10/§4.11): it owns the
// configuration, the file loader, the import graph, and the shared tag/
// data-source registries, and drives the full per-file pipeline —
// parse -> macro.onParse -> import -> tag definitions -> data-source
// detect+execute -> template expansion (incl. tag-instance expansion and
// macro.onWalk) -> reference resolution -> inject -> compiled AST.
//
// Grounded on pongo2's TemplateSet (_examples/flosch-pongo2/
// template_sets.go), which plays the identical "owns the loader, the
// cache, and drives FromFile/FromString end to end" role, generalized
// from template rendering to OX's richer multi-stage compilation.
type OXProject struct {
	cfg      Config
	loader   *FileLoader
	resolver *PathResolver
	graph    *ImportGraph
	log      *loggers
	hooks    *MacroHooks
	fetchers map[string]func(ctx context.Context) (interface{}, error)
	modProps map[string]func() (*Value, error)
}

// NewOXProject builds a project directly from a Config, applying no disk
// discovery (use FromDirectory/FromFile for that).
func NewOXProject(cfg Config) *OXProject {
	if cfg.Extensions == nil {
		d := defaultConfig()
		cfg.Extensions = d.Extensions
		if cfg.MaxFileSize == 0 {
			cfg.MaxFileSize = d.MaxFileSize
		}
		if cfg.MaxCacheSize == 0 {
			cfg.MaxCacheSize = d.MaxCacheSize
		}
		if cfg.MaxDepth == 0 {
			cfg.MaxDepth = d.MaxDepth
		}
	}
	p := &OXProject{
		cfg:      cfg,
		loader:   newFileLoader(cfg.MaxFileSize, cfg.MaxCacheSize, cfg.EnableCacheEviction),
		graph:    newImportGraph(),
		log:      newLoggers(cfg.Verbose),
		fetchers: make(map[string]func(ctx context.Context) (interface{}, error)),
		modProps: make(map[string]func() (*Value, error)),
	}
	p.resolver = newPathResolver(cfg.BaseDir, cfg.ModuleDirectories)
	return p
}

// FromDirectory discovers `ox.config.*` under dir (if present) and builds
// a project rooted there.
func FromDirectory(dir string) (*OXProject, error) {
	cfg, err := loadConfig(dir)
	if err != nil {
		return nil, err
	}
	return NewOXProject(cfg), nil
}

// FromFile builds a project rooted at filePath's directory, with
// filePath as the entry point.
func FromFile(filePath string) (*OXProject, error) {
	dir := filepath.Dir(filePath)
	cfg, err := loadConfig(dir)
	if err != nil {
		return nil, err
	}
	cfg.EntryPoint = filePath
	return NewOXProject(cfg), nil
}

// SetHooks registers macro extension hooks (spec.md §4.9).
func (p *OXProject) SetHooks(hooks *MacroHooks) { p.hooks = hooks }

// RegisterDataSource registers a host-provided fetch function for a named
// `<on-data>` source.
func (p *OXProject) RegisterDataSource(name string, fetch func(ctx context.Context) (interface{}, error)) {
	p.fetchers[name] = fetch
}

// RegisterModuleProperty registers a host-supplied computed property
// injected into every tag definition clone at expansion time (spec.md
// §4.7 "module-property injection").
func (p *OXProject) RegisterModuleProperty(name string, getter func() (*Value, error)) {
	p.modProps[name] = getter
}

// Parse compiles the project's configured entry point and returns the
// final, resolved node tree.
func (p *OXProject) Parse() ([]Node, error) {
	if p.cfg.EntryPoint == "" {
		return nil, newErrf(KindProjectError, "NoEntryPoint", Location{}, "project has no configured entry point")
	}
	return p.ParseFile(p.cfg.EntryPoint)
}

// ParseFile compiles a single file through the entire pipeline.
func (p *OXProject) ParseFile(path string) ([]Node, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, newErr(KindProjectError, "FileNotFound", Location{File: path}, err)
	}
	return p.compileFile(abs)
}

// ParseCollecting runs Parse but funnels any pipeline error through an
// ErrorCollector instead of returning it directly, so callers that want a
// uniform "here are all the diagnostics" interface (SPEC_FULL.md §C
// tooling) don't need a separate error-handling path for the common case.
// The compiler itself still stops at the first error within a single
// file's pipeline (spec.md §4.11 fail-fast default); ParseCollecting
// changes how that single error is surfaced, not how many are produced.
func (p *OXProject) ParseCollecting() ([]Node, *ErrorCollector) {
	collector := &ErrorCollector{}
	nodes, err := p.Parse()
	collector.Collect(err)
	return nodes, collector
}

// compileFile runs the full pipeline for one file: parse, macro.onParse,
// import, tag definitions, data-source execution, template expansion
// (incl. tag-instance expansion + macro.onWalk), reference resolution,
// then inject.
func (p *OXProject) compileFile(path string) ([]Node, error) {
	src, err := p.loader.Load(path)
	if err != nil {
		return nil, err
	}

	tx := newTransaction(p.cfg.Timeout())

	doc, finished, err := parseWithMacros(path, src, p.hooks, tx)
	if err != nil {
		return nil, err
	}
	if finished {
		return doc.Blocks, nil
	}

	if err := validateInjectLocations(doc); err != nil {
		return nil, err
	}

	tp := newTagProcessor()
	tp.ModuleProperties = p.modProps

	importer := newImportProcessor(p.loader, p.resolver, p.graph, p.cfg.MaxDepth)
	if err := importer.ProcessImports(doc, tp); err != nil {
		return nil, err
	}

	if err := tp.ProcessDefinitions(doc.Blocks); err != nil {
		return nil, err
	}
	if err := tp.ProcessDefinitions(doc.Templates); err != nil {
		return nil, err
	}
	if err := tp.ValidateInstances(doc.Blocks); err != nil {
		return nil, err
	}
	if err := tp.ValidateInstances(doc.Templates); err != nil {
		return nil, err
	}

	dp := newDataSourceProcessor()
	dp.Fetchers = p.fetchers
	all := append(append([]Node(nil), doc.Templates...), doc.Blocks...)
	sites := dp.Discover(all)
	if err := dp.Validate(sites); err != nil {
		return nil, err
	}
	plan := dp.Plan(sites)
	if errs := dp.Execute(context.Background(), tx, plan); len(errs) > 0 {
		p.log.dataSrc.Warningf("%d data source(s) failed for %s", len(errs), path)
	}

	expander := newExpander(path, tx, tp, p.hooks)
	// Top-level template directives (bare <set>/<if>/<foreach>/<while>/
	// <on-data>, not wrapped in a block) run first so their variable
	// bindings and conditionally-emitted blocks are available before the
	// file's named blocks expand.
	templateOutput, err := expander.Expand(doc.Templates)
	if err != nil {
		return nil, err
	}
	blockOutput, err := expander.Expand(doc.Blocks)
	if err != nil {
		return nil, err
	}
	expanded := append(templateOutput, blockOutput...)

	if _, err := resolveReferences(path, expanded, tx); err != nil {
		return nil, err
	}

	injector := newInjectProcessor(p.resolver, p.graph, p.cfg.MaxDepth, p.compileFile)
	final, err := injector.ProcessInjects(expanded, path)
	if err != nil {
		return nil, err
	}
	return final, nil
}

// ReloadFile bypasses the cache for path and re-reads it from disk.
func (p *OXProject) ReloadFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return newErr(KindProjectError, "FileNotFound", Location{File: path}, err)
	}
	_, err = p.loader.ReloadFile(abs)
	return err
}

// ClearCache drops every cached file.
func (p *OXProject) ClearCache() { p.loader.ClearCache() }

// GetLoadedFiles lists every file currently cached by the loader.
func (p *OXProject) GetLoadedFiles() []string { return p.loader.LoadedFiles() }

// ProjectStats summarizes a project's current cache/graph state, as
// returned by GetStats.
type ProjectStats struct {
	LoadedFileCount int
	GraphJSON       []byte
}

// GetStats returns a snapshot of the project's cache and dependency graph.
func (p *OXProject) GetStats() (ProjectStats, error) {
	graphJSON, err := p.graph.ToJSON()
	if err != nil {
		return ProjectStats{}, err
	}
	return ProjectStats{
		LoadedFileCount: len(p.loader.LoadedFiles()),
		GraphJSON:       graphJSON,
	}, nil
}

// Watch starts filesystem-based cache invalidation (config.watch); a
// changed file's blocks are not automatically re-compiled, only its raw
// source cache entry is refreshed — callers still call ParseFile again to
// pick up the change.
func (p *OXProject) Watch() error {
	return p.loader.Watch(func(path string) {
		p.log.loader.Infof("reloaded changed file %s", path)
	})
}

// Close releases any resources the project holds open (the file watcher,
// if started).
func (p *OXProject) Close() error { return p.loader.Close() }
