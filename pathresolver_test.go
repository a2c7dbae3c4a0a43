package ox

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPathResolverResolvesRelativeToFromDir(t *testing.T) {
	base := t.TempDir()
	pr := newPathResolver(base, nil)

	got, err := pr.Resolve("widget.ox", base)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, "widget.ox"), got)
}

func TestPathResolverSearchesModuleDirectories(t *testing.T) {
	base := t.TempDir()
	modDir := filepath.Join(base, "vendor")
	pr := newPathResolver(base, []string{modDir})

	got, err := pr.Resolve("lib.ox", filepath.Join(base, "nope"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(modDir, "lib.ox"), got)
}

func TestPathResolverRejectsEmptyPath(t *testing.T) {
	pr := newPathResolver(t.TempDir(), nil)
	_, err := pr.Resolve("", t.TempDir())
	requireSubtype(t, err, "InvalidPath")
}

func TestPathResolverRejectsMissingExtension(t *testing.T) {
	pr := newPathResolver(t.TempDir(), nil)
	_, err := pr.Resolve("widget.txt", t.TempDir())
	requireSubtype(t, err, "InvalidPath")
}

func TestPathResolverRejectsNullByte(t *testing.T) {
	pr := newPathResolver(t.TempDir(), nil)
	_, err := pr.Resolve("wid\x00get.ox", t.TempDir())
	requireSubtype(t, err, "InvalidPath")
}

func TestPathResolverRejectsControlCharacter(t *testing.T) {
	pr := newPathResolver(t.TempDir(), nil)
	_, err := pr.Resolve("wid\nget.ox", t.TempDir())
	requireSubtype(t, err, "InvalidPath")
}

func TestPathResolverRejectsEscapeOutsideBase(t *testing.T) {
	base := t.TempDir()
	pr := newPathResolver(base, nil)
	_, err := pr.Resolve("../../../../etc/passwd.ox", base)
	requireSubtype(t, err, "PathEscape")
}

func requireSubtype(t *testing.T, err error, subtype string) {
	t.Helper()
	require.Error(t, err)
	oxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, subtype, oxErr.Subtype)
}
