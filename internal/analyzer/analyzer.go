// Package analyzer defines the source analysis contract: given one source
// file it reports translation call sites, boundary markers and static imports.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/romshark/intlbuild"
)

var (
	ErrSyntax           = errors.New("syntax error")
	ErrNonLiteral       = errors.New("non-literal argument (only string literals are supported)")
	ErrMessageEmpty     = errors.New("message text empty")
	ErrKeyEmpty         = errors.New("message key empty")
	ErrMissingMessage   = errors.New("object argument without message property")
	ErrUnsupportedInput = errors.New("unsupported source file")
)

// Extensions lists the source file extensions that can be analyzed.
var Extensions = []string{".ts", ".tsx", ".mts", ".cts", ".js", ".jsx", ".mjs", ".cjs"}

// Supported reports whether path has an analyzable extension.
// Declaration files (.d.ts) are never analyzed.
func Supported(path string) bool {
	if strings.HasSuffix(path, ".d.ts") {
		return false
	}
	return slices.Contains(Extensions, filepath.Ext(path))
}

// SkipDir reports whether a directory is excluded from source scans.
func SkipDir(name string) bool {
	return name == "node_modules" || (len(name) > 1 && strings.HasPrefix(name, "."))
}

// Analyzer analyzes a single source file.
// Implementations must be pure functions of (path, src) and safe for
// concurrent use.
type Analyzer interface {
	Analyze(ctx context.Context, path string, src []byte) (*Result, error)
}

// Result is what analysis found in one file.
type Result struct {
	// Messages are the messages declared inline in the file.
	Messages []intlbuild.Message `json:"messages,omitempty"`

	// Usages are the catalog keys the file references.
	Usages []Usage `json:"usages,omitempty"`

	// ClientBoundary is true for files marked to execute in the browser.
	ClientBoundary bool `json:"clientBoundary,omitempty"`

	// ServerBoundary is true for files marked to execute on the server only.
	ServerBoundary bool `json:"serverBoundary,omitempty"`

	// HasProvider is true when the file renders the client message provider.
	HasProvider bool `json:"hasProvider,omitempty"`

	// Imports are the import specifiers: import statements first, then
	// re-exports, require calls and dynamic imports, each in source order.
	Imports []string `json:"imports,omitempty"`

	// Edits rewrite extracted call sites into key lookups.
	Edits []Edit `json:"edits,omitempty"`

	// Errors are problems with individual call sites that didn't
	// prevent analyzing the rest of the file.
	Errors []SourceError `json:"errors,omitempty"`
}

// Usage is a reference to catalog messages.
type Usage struct {
	// Namespace is the dotted namespace the translator was scoped to.
	Namespace string `json:"namespace,omitempty"`

	// Key is the dotted key relative to Namespace. Empty if Dynamic.
	Key string `json:"key,omitempty"`

	// Dynamic is true when the key can't be determined statically,
	// which makes the whole namespace required. A dynamic usage
	// without a namespace requires all messages.
	Dynamic bool `json:"dynamic,omitempty"`
}

// Path returns the namespace selector path of u.
// A nil path with a true second result means "all messages", a nil path
// with a false second result selects nothing.
func (u Usage) Path() (path []string, all bool) {
	if u.Dynamic {
		if u.Namespace == "" {
			return nil, true
		}
		return intlbuild.Path(u.Namespace), false
	}
	if u.Key == "" {
		return nil, false
	}
	return intlbuild.Path(intlbuild.JoinID(u.Namespace, u.Key)), false
}

// Edit replaces src[Start:End] with Text.
type Edit struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Position is a location in a source file.
type Position struct {
	Filename     string `json:"filename"`
	Line, Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%s:%d:%d", p.Filename, p.Line, p.Column)
}

// SourceError is a problem found at a specific source location.
type SourceError struct {
	Pos Position `json:"pos"`
	Err string   `json:"err"`
}

func (e SourceError) Error() string { return e.Pos.String() + ": " + e.Err }

// SyntaxError is returned when a file can't be parsed.
type SyntaxError struct{ Pos Position }

func (e *SyntaxError) Error() string { return e.Pos.String() + ": " + ErrSyntax.Error() }

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// ApplyEdits returns src with edits applied. Overlapping edits are rejected.
func ApplyEdits(src []byte, edits []Edit) ([]byte, error) {
	if len(edits) == 0 {
		return src, nil
	}
	sorted := slices.Clone(edits)
	slices.SortFunc(sorted, func(a, b Edit) int { return a.Start - b.Start })

	var b strings.Builder
	b.Grow(len(src))
	last := 0
	for _, e := range sorted {
		if e.Start < last || e.End < e.Start || e.End > len(src) {
			return nil, fmt.Errorf("invalid edit [%d:%d]", e.Start, e.End)
		}
		b.Write(src[last:e.Start])
		b.WriteString(e.Text)
		last = e.End
	}
	b.Write(src[last:])
	return []byte(b.String()), nil
}
