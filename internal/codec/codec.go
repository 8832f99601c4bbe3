// Package codec converts message catalogs to and from their on-disk formats.
package codec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/romshark/intlbuild"
)

var (
	ErrUnknownCodec   = errors.New("unknown codec")
	ErrInvalidCodec   = errors.New("invalid codec")
	ErrMissingSource  = errors.New("missing source message")
	ErrConflict       = errors.New("message id conflicts with namespace")
	ErrInvalidCatalog = errors.New("invalid catalog")
)

// Context describes the catalog being converted.
type Context struct {
	Locale       string
	SourceLocale string

	// Source is the source locale catalog by message id.
	// Codecs keying entries by source text need it to encode target locales.
	Source map[string]intlbuild.Message
}

// IsSource reports whether the catalog is the source locale's.
func (c Context) IsSource() bool { return c.Locale == c.SourceLocale }

// Codec is one catalog file format.
type Codec interface {
	// Decode parses catalog file content.
	Decode(content []byte, ctx Context) ([]intlbuild.Message, error)

	// Encode serializes the full message set of one locale.
	// Output is byte-identical for identical input regardless of order.
	Encode(msgs []intlbuild.Message, ctx Context) ([]byte, error)

	// ToJSONString converts catalog file content into a nested JSON
	// object of message texts for runtime loading.
	ToJSONString(content []byte, ctx Context) (string, error)

	// Extension is the catalog file extension including the leading dot.
	Extension() string
}

// Factory creates a codec instance. Codecs may retain per-locale state
// between calls, so every consumer gets its own instance.
type Factory func() Codec

// ExecPrefix prefixes the path of an external codec executable.
const ExecPrefix = "exec:"

// Registry resolves codecs by name.
type Registry struct {
	lock      sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in codecs
// "json", "po", "po-source" and "toml".
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("json", func() Codec { return JSON{} })
	r.Register("po", func() Codec { return NewPO(false) })
	r.Register("po-source", func() Codec { return NewPO(true) })
	r.Register("toml", func() Codec { return TOML{} })
	return r
}

// Register adds or replaces the codec name.
func (r *Registry) Register(name string, f Factory) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.factories[name] = f
}

// Names returns the registered codec names, sorted.
func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// Resolve returns a new instance of codec name.
// Names prefixed with ExecPrefix resolve to an external executable
// which is validated before it's returned.
func (r *Registry) Resolve(ctx context.Context, name string) (Codec, error) {
	if path, ok := strings.CutPrefix(name, ExecPrefix); ok {
		return NewExec(ctx, path)
	}
	r.lock.RLock()
	f, ok := r.factories[name]
	r.lock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return f(), nil
}

// sorted returns a copy of msgs in catalog order.
func sorted(msgs []intlbuild.Message) []intlbuild.Message {
	s := slices.Clone(msgs)
	intlbuild.SortMessages(s)
	return s
}

// tree is an insertion ordered nested message tree.
type tree struct {
	keys     []string
	children map[string]*tree
	leaf     *string
}

func newTree() *tree { return &tree{children: make(map[string]*tree)} }

// insert adds text at the dotted id, failing on leaf/namespace conflicts.
func (t *tree) insert(id, text string) error {
	node := t
	path := intlbuild.Path(id)
	if len(path) == 0 {
		return fmt.Errorf("%w: empty id", ErrInvalidCatalog)
	}
	for i, segment := range path {
		if node.leaf != nil {
			return fmt.Errorf("%w: %q", ErrConflict, id)
		}
		child, ok := node.children[segment]
		if !ok {
			child = newTree()
			node.children[segment] = child
			node.keys = append(node.keys, segment)
		}
		if i == len(path)-1 {
			if child.leaf != nil || len(child.keys) > 0 {
				return fmt.Errorf("%w: %q", ErrConflict, id)
			}
			child.leaf = &text
		}
		node = child
	}
	return nil
}

// buildTree inserts msgs in order.
func buildTree(msgs []intlbuild.Message) (*tree, error) {
	t := newTree()
	for _, m := range msgs {
		if err := t.insert(m.ID, m.Message); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// writeJSON writes t as JSON indented by two spaces.
func (t *tree) writeJSON(b *bytes.Buffer, depth int) error {
	if t.leaf != nil {
		return writeJSONString(b, *t.leaf)
	}
	if len(t.keys) == 0 {
		b.WriteString("{}")
		return nil
	}
	b.WriteString("{\n")
	indent := strings.Repeat("  ", depth+1)
	for i, k := range t.keys {
		b.WriteString(indent)
		if err := writeJSONString(b, k); err != nil {
			return err
		}
		b.WriteString(": ")
		if err := t.children[k].writeJSON(b, depth+1); err != nil {
			return err
		}
		if i+1 < len(t.keys) {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteByte('}')
	return nil
}

// writeJSONString writes s as a JSON string without HTML escaping,
// since messages commonly contain markup like <b>.
func writeJSONString(b *bytes.Buffer, s string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	b.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return nil
}

// nestedJSON encodes msgs in catalog order as a nested JSON object
// followed by a line break.
func nestedJSON(msgs []intlbuild.Message) ([]byte, error) {
	t, err := buildTree(sorted(msgs))
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	if err := t.writeJSON(&b, 0); err != nil {
		return nil, err
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// flatten appends the leaves of a decoded nested JSON object.
func flatten(prefix string, v map[string]any, out []intlbuild.Message) ([]intlbuild.Message, error) {
	for _, k := range slices.Sorted(maps.Keys(v)) {
		id := intlbuild.JoinID(prefix, k)
		switch x := v[k].(type) {
		case string:
			out = append(out, intlbuild.Message{ID: id, Message: x})
		case map[string]any:
			var err error
			if out, err = flatten(id, x, out); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: %q: expected string or object, got %T",
				ErrInvalidCatalog, id, x)
		}
	}
	return out, nil
}
