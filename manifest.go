package intlbuild

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Namespaces selects a subset of a nested message tree.
// A node with All set selects its entire subtree, otherwise only the
// selections of its children apply. The zero value selects nothing.
//
// In JSON a node selecting everything is encoded as `true`,
// any other node as an object of its children.
type Namespaces struct {
	All      bool
	Children map[string]*Namespaces
}

// Require selects the subtree at path.
// Selecting an empty path selects everything.
func (n *Namespaces) Require(path ...string) {
	node := n
	for _, segment := range path {
		if node.All {
			return // Already covered by an ancestor.
		}
		if node.Children == nil {
			node.Children = make(map[string]*Namespaces)
		}
		child, ok := node.Children[segment]
		if !ok {
			child = new(Namespaces)
			node.Children[segment] = child
		}
		node = child
	}
	node.RequireAll()
}

// RequireAll selects the entire subtree of n.
func (n *Namespaces) RequireAll() {
	n.All = true
	n.Children = nil
}

// Merge adds all selections of other to n.
func (n *Namespaces) Merge(other *Namespaces) {
	if other == nil || n.All {
		return
	}
	if other.All {
		n.RequireAll()
		return
	}
	for name, child := range other.Children {
		if n.Children == nil {
			n.Children = make(map[string]*Namespaces)
		}
		mine, ok := n.Children[name]
		if !ok {
			mine = new(Namespaces)
			n.Children[name] = mine
		}
		mine.Merge(child)
	}
}

// Has reports whether the leaf or subtree at path is selected.
func (n *Namespaces) Has(path ...string) bool {
	node := n
	for _, segment := range path {
		if node == nil {
			return false
		}
		if node.All {
			return true
		}
		node = node.Children[segment]
	}
	return node != nil && node.All
}

// IsEmpty reports whether n selects nothing.
func (n *Namespaces) IsEmpty() bool {
	if n == nil {
		return true
	}
	if n.All {
		return false
	}
	for _, c := range n.Children {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}

// MarshalJSON encodes n with children in sorted order.
func (n *Namespaces) MarshalJSON() ([]byte, error) {
	if n == nil {
		return []byte("{}"), nil
	}
	if n.All {
		return []byte("true"), nil
	}
	var b bytes.Buffer
	b.WriteByte('{')
	for i, name := range slices.Sorted(maps.Keys(n.Children)) {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		child, err := n.Children[name].MarshalJSON()
		if err != nil {
			return nil, err
		}
		b.Write(child)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

var ErrMalformedNamespaces = errors.New("malformed namespaces, expected true or object")

// UnmarshalJSON decodes either `true` or a nested object.
func (n *Namespaces) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("true")):
		n.RequireAll()
		return nil
	case len(data) > 0 && data[0] == '{':
	default:
		return ErrMalformedNamespaces
	}
	var children map[string]*Namespaces
	if err := json.Unmarshal(data, &children); err != nil {
		return err
	}
	*n = Namespaces{}
	if len(children) > 0 {
		n.Children = children
	}
	return nil
}

// ManifestEntry describes what one route entry needs on the client.
type ManifestEntry struct {
	// HasProvider is true when the entry's tree renders the client provider.
	HasProvider bool        `json:"hasProvider"`
	Namespaces  *Namespaces `json:"namespaces"`
}

// Manifest maps route segments to their client message requirements.
type Manifest map[string]ManifestEntry

// Lookup returns the entry for segment.
// Unknown segments yield an entry selecting nothing.
func (m Manifest) Lookup(segment string) ManifestEntry {
	e, ok := m[segment]
	if !ok {
		return ManifestEntry{Namespaces: new(Namespaces)}
	}
	if e.Namespaces == nil {
		e.Namespaces = new(Namespaces)
	}
	return e
}

// Encode returns the indented JSON form of m with a trailing line break.
// Keys are sorted, making the output deterministic.
func (m Manifest) Encode() ([]byte, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return append(b, '\n'), nil
}

// DecodeManifest parses a manifest artifact.
func DecodeManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return m, nil
}

// Pick returns the part of the nested message tree selected by ns.
// Missing subtrees are skipped, a nil selection yields an empty tree.
func Pick(messages map[string]any, ns *Namespaces) map[string]any {
	if ns == nil || messages == nil {
		return map[string]any{}
	}
	if ns.All {
		return messages
	}
	picked := make(map[string]any, len(ns.Children))
	for name, sel := range ns.Children {
		v, ok := messages[name]
		if !ok || sel == nil {
			continue
		}
		if sel.All {
			picked[name] = v
			continue
		}
		sub, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if p := Pick(sub, sel); len(p) > 0 {
			picked[name] = p
		}
	}
	return picked
}
