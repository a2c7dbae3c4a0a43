package ox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newImportTestProcessor(t *testing.T, base string) *ImportProcessor {
	t.Helper()
	loader := newFileLoader(0, 0, false)
	resolver := newPathResolver(base, nil)
	graph := newImportGraph()
	return newImportProcessor(loader, resolver, graph, 0)
}

func TestImportProcessorMergesBareDefinitions(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "lib.ox", "@widget { kind = \"base\" }")

	doc := &Document{File: base + "/main.ox", Imports: []*Import{{Path: "lib.ox"}}}
	tp := newTagProcessor()
	ip := newImportTestProcessor(t, base)

	require.NoError(t, ip.ProcessImports(doc, tp))
	def, ok := tp.definitions["widget"]
	require.True(t, ok)
	kind, _ := def.Property("kind")
	require.Equal(t, "base", kind.Str)
}

func TestImportProcessorNamespacesAliasedDefinitions(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "lib.ox", "@widget { kind = \"base\" }")

	doc := &Document{File: base + "/main.ox", Imports: []*Import{{Path: "lib.ox", Alias: "ui", Has: true}}}
	tp := newTagProcessor()
	ip := newImportTestProcessor(t, base)

	require.NoError(t, ip.ProcessImports(doc, tp))
	_, bareOK := tp.definitions["widget"]
	require.False(t, bareOK)
	_, aliasedOK := tp.definitions["ui.widget"]
	require.True(t, aliasedOK)
}

func TestImportProcessorRejectsInvalidAlias(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "lib.ox", "@widget {}")

	doc := &Document{File: base + "/main.ox", Imports: []*Import{{Path: "lib.ox", Alias: "1bad", Has: true}}}
	tp := newTagProcessor()
	ip := newImportTestProcessor(t, base)

	err := ip.ProcessImports(doc, tp)
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, "InvalidAlias", oxErr.Subtype)
}

func TestImportProcessorRejectsReservedKeywordAlias(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "lib.ox", "@widget {}")

	doc := &Document{File: base + "/main.ox", Imports: []*Import{{Path: "lib.ox", Alias: "if", Has: true}}}
	tp := newTagProcessor()
	ip := newImportTestProcessor(t, base)

	err := ip.ProcessImports(doc, tp)
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, "InvalidAlias", oxErr.Subtype)
}

func TestImportProcessorTransitiveImportsMerge(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "base.ox", "@icon {}")
	writeFile(t, base, "lib.ox", "<import \"base.ox\">\n@widget {}")

	doc := &Document{File: base + "/main.ox", Imports: []*Import{{Path: "lib.ox"}}}
	tp := newTagProcessor()
	ip := newImportTestProcessor(t, base)

	require.NoError(t, ip.ProcessImports(doc, tp))
	_, ok := tp.definitions["widget"]
	require.True(t, ok)
	_, ok = tp.definitions["icon"]
	require.True(t, ok)
}

func TestImportProcessorDetectsCircularImport(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "a.ox", "<import \"b.ox\">\n@fromA {}")
	writeFile(t, base, "b.ox", "<import \"a.ox\">\n@fromB {}")

	doc := &Document{File: base + "/main.ox", Imports: []*Import{{Path: "a.ox"}}}
	tp := newTagProcessor()
	ip := newImportTestProcessor(t, base)

	err := ip.ProcessImports(doc, tp)
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, "CircularDependency", oxErr.Subtype)
}

func TestImportProcessorSameFileDuplicateDefinitionRejected(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "lib.ox", "@widget {}\n@widget {}")

	doc := &Document{File: base + "/main.ox", Imports: []*Import{{Path: "lib.ox"}}}
	tp := newTagProcessor()
	ip := newImportTestProcessor(t, base)

	err := ip.ProcessImports(doc, tp)
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, "DuplicateTagDefinition", oxErr.Subtype)
}
