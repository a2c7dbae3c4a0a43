package ox

import (
	"path/filepath"
	"strings"
)

// PathResolver enforces the import/inject path security rules of spec.md
// §4.10: paths must be non-empty, end in ".ox", contain no null bytes or
// other invalid characters, and resolve to somewhere inside the project's
// configured base directory or module directories.
//
// Grounded on the path-containment checks in
// _examples/opal-lang-opal/runtime/loader (module resolution must not
// escape the workspace root), generalized to OX's baseDir + extra
// moduleDirectories search list.
type PathResolver struct {
	baseDir           string
	moduleDirectories []string
}

func newPathResolver(baseDir string, moduleDirectories []string) *PathResolver {
	return &PathResolver{baseDir: baseDir, moduleDirectories: moduleDirectories}
}

// Resolve validates rawPath and returns its canonical absolute form,
// resolved relative to fromDir (the importing file's directory) first,
// then against each configured module directory.
func (pr *PathResolver) Resolve(rawPath, fromDir string) (string, error) {
	if err := pr.validateSyntax(rawPath); err != nil {
		return "", err
	}

	candidates := []string{filepath.Join(fromDir, rawPath)}
	for _, dir := range pr.moduleDirectories {
		candidates = append(candidates, filepath.Join(dir, rawPath))
	}

	for _, c := range candidates {
		abs, err := filepath.Abs(c)
		if err != nil {
			continue
		}
		if pr.contains(abs) {
			return filepath.Clean(abs), nil
		}
	}
	return "", newErrf(KindProjectError, "PathEscape", Location{},
		"path %q does not resolve inside the project base directory", rawPath)
}

func (pr *PathResolver) validateSyntax(rawPath string) error {
	if rawPath == "" {
		return newErrf(KindProjectError, "InvalidPath", Location{}, "path must not be empty")
	}
	if strings.ContainsRune(rawPath, 0) {
		return newErrf(KindProjectError, "InvalidPath", Location{}, "path contains a null byte")
	}
	if !strings.HasSuffix(rawPath, ".ox") {
		return newErrf(KindProjectError, "InvalidPath", Location{}, "path %q must end in '.ox'", rawPath)
	}
	for _, r := range rawPath {
		if r < 0x20 {
			return newErrf(KindProjectError, "InvalidPath", Location{}, "path %q contains a control character", rawPath)
		}
	}
	return nil
}

// contains reports whether abs lies within baseDir (the sole containment
// boundary; moduleDirectories are expected to live under it but are not
// separately required to).
func (pr *PathResolver) contains(abs string) bool {
	base, err := filepath.Abs(pr.baseDir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
