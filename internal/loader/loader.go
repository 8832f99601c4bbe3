// Package loader implements the hooks a host build tool calls for
// source modules and catalog files.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"github.com/romshark/intlbuild/internal/analyzer"
	"github.com/romshark/intlbuild/internal/catalogmgr"
	"github.com/romshark/intlbuild/internal/depgraph"
	"github.com/romshark/intlbuild/internal/persist"
	"github.com/romshark/intlbuild/internal/precompile"
)

// Output is the result of a hook.
type Output struct {
	Code []byte

	// Transformed is false if Code is the input passed through.
	Transformed bool

	// Dependencies are files the host must watch to rebuild the module.
	Dependencies []string
}

// Config configures a Loader.
type Config struct {
	Manager   *catalogmgr.Manager
	Persister *persist.Persister

	// Scope decides which source files are transformed.
	Scope *depgraph.Resolver

	// Graphs, if set, is invalidated whenever a source file is transformed.
	Graphs *depgraph.Builder

	// Precompile, if set, compiles catalogs to their runtime form.
	Precompile *precompile.Cache

	Log zerolog.Logger
}

// Loader is safe for concurrent use.
type Loader struct{ conf Config }

func New(conf Config) *Loader { return &Loader{conf: conf} }

func passthrough(src []byte) Output { return Output{Code: src} }

func (l *Loader) inScope(path string) bool {
	if !analyzer.Supported(path) || !l.conf.Scope.InRoots(path) {
		return false
	}
	for _, dir := range strings.Split(filepath.ToSlash(filepath.Dir(path)), "/") {
		if analyzer.SkipDir(dir) {
			return false
		}
	}
	return true
}

// TransformSource merges the messages of a source module and rewrites
// its extracted call sites. A save is requested when the merged messages
// changed. Files outside the source roots and files that fail to parse
// are passed through.
func (l *Loader) TransformSource(ctx context.Context, path string, src []byte) (Output, error) {
	if !l.inScope(path) {
		return passthrough(src), nil
	}
	if l.conf.Graphs != nil {
		l.conf.Graphs.Invalidate(path)
	}

	r, changed, err := l.conf.Manager.ScanFile(ctx, path, src)
	if changed {
		l.conf.Manager.SaveAsync()
	}
	switch {
	case errors.Is(err, analyzer.ErrSyntax):
		return passthrough(src), nil
	case err != nil:
		return Output{}, err
	}
	if len(r.Edits) == 0 {
		return passthrough(src), nil
	}

	code, err := analyzer.ApplyEdits(src, r.Edits)
	if err != nil {
		return Output{}, fmt.Errorf("rewriting %s: %w", path, err)
	}
	return Output{Code: code, Transformed: true}, nil
}

// catalogLocale returns the locale of the catalog file at path.
func (l *Loader) catalogLocale(path string) (string, bool) {
	p := l.conf.Persister
	if filepath.Clean(filepath.Dir(path)) != filepath.Clean(p.Dir()) {
		return "", false
	}
	locale, ok := strings.CutSuffix(filepath.Base(path), p.Codec().Extension())
	if !ok || locale == "" {
		return "", false
	}
	if _, err := language.Parse(locale); err != nil {
		return "", false
	}
	return locale, true
}

// LoadCatalog turns a catalog file into a JavaScript module exporting
// its messages. Other files are passed through.
func (l *Loader) LoadCatalog(_ context.Context, path string, src []byte) (Output, error) {
	locale, ok := l.catalogLocale(path)
	if !ok {
		return passthrough(src), nil
	}

	ctx := l.conf.Persister.Context(locale)
	s, err := l.conf.Persister.Codec().ToJSONString(src, ctx)
	if err != nil {
		return Output{}, fmt.Errorf("converting %s: %w", path, err)
	}
	content := []byte(s)

	if l.conf.Precompile != nil {
		var nested map[string]any
		if err := json.Unmarshal(content, &nested); err != nil {
			return Output{}, fmt.Errorf("decoding %s: %w", path, err)
		}
		content, err = l.conf.Precompile.Compile(path, precompile.Flatten(nested))
		if err != nil {
			return Output{}, err
		}
	}

	code := make([]byte, 0, len(content)+len("export default ;\n"))
	code = append(code, "export default "...)
	code = append(code, strings.TrimSpace(string(content))...)
	code = append(code, ";\n"...)
	l.conf.Log.Debug().Str("file", path).Str("locale", locale).Msg("loaded catalog")
	return Output{Code: code, Transformed: true, Dependencies: []string{path}}, nil
}
