package depgraph

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/romshark/intlbuild/internal/analyzer"
)

// Resolver maps import specifiers to project source files.
type Resolver struct {
	fs    afero.Fs
	roots []string

	// aliases maps specifier prefixes to directories, longest first.
	aliases []alias
}

type alias struct{ prefix, dir string }

// NewResolver creates a resolver for files inside roots.
// aliases maps specifier prefixes such as "@/" to directories.
func NewResolver(fs afero.Fs, roots []string, aliases map[string]string) *Resolver {
	r := &Resolver{fs: fs}
	for _, root := range roots {
		r.roots = append(r.roots, filepath.Clean(root))
	}
	for prefix, dir := range aliases {
		r.aliases = append(r.aliases, alias{prefix: prefix, dir: filepath.Clean(dir)})
	}
	slices.SortFunc(r.aliases, func(a, b alias) int {
		if d := len(b.prefix) - len(a.prefix); d != 0 {
			return d
		}
		return strings.Compare(a.prefix, b.prefix)
	})
	return r
}

// InRoots reports whether path is inside one of the source roots.
func (r *Resolver) InRoots(path string) bool {
	path = filepath.Clean(path)
	for _, root := range r.roots {
		if root == "." || path == root ||
			strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Resolve returns the file spec refers to when imported from file from.
// Bare package specifiers and files outside the roots don't resolve.
func (r *Resolver) Resolve(from, spec string) (string, bool) {
	var base string
	switch {
	case strings.HasPrefix(spec, "./"), strings.HasPrefix(spec, "../"),
		spec == ".", spec == "..":
		base = filepath.Join(filepath.Dir(from), filepath.FromSlash(spec))
	case strings.HasPrefix(spec, "/"):
		base = filepath.Clean(filepath.FromSlash(spec))
	default:
		for _, a := range r.aliases {
			if strings.HasPrefix(spec, a.prefix) {
				base = filepath.Join(a.dir, filepath.FromSlash(spec[len(a.prefix):]))
				break
			}
		}
	}
	if base == "" || !r.InRoots(base) {
		return "", false
	}
	return r.probe(base)
}

// probe tries base as is, with each supported extension, as the
// TypeScript counterpart of a .js specifier and as a directory index.
func (r *Resolver) probe(base string) (string, bool) {
	if analyzer.Supported(base) && r.isFile(base) {
		return base, true
	}
	switch ext := filepath.Ext(base); ext {
	case ".js", ".jsx", ".mjs", ".cjs":
		stem := strings.TrimSuffix(base, ext)
		for _, ts := range []string{".ts", ".tsx", ".mts", ".cts"} {
			if p := stem + ts; r.isFile(p) {
				return p, true
			}
		}
	}
	for _, ext := range analyzer.Extensions {
		if p := base + ext; r.isFile(p) {
			return p, true
		}
	}
	for _, ext := range analyzer.Extensions {
		if p := filepath.Join(base, "index"+ext); r.isFile(p) {
			return p, true
		}
	}
	return "", false
}

func (r *Resolver) isFile(path string) bool {
	fi, err := r.fs.Stat(path)
	return err == nil && !fi.IsDir()
}
