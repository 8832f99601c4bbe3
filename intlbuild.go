// Package intlbuild defines the data model shared by the message extraction,
// catalog synchronization and manifest generation passes.
package intlbuild

import (
	"cmp"
	"slices"
	"strings"
)

// NamespaceSeparator separates namespace segments in message ids.
const NamespaceSeparator = "."

// Reference points at a source location a message was extracted from.
type Reference struct {
	Path string `json:"path"`

	// Line is 1-based, zero when unknown.
	Line int `json:"line,omitempty"`
}

// Message is one logical translatable message.
type Message struct {
	// ID is the full identity of the message including its namespace,
	// e.g. "nav.+YJVTi".
	ID string `json:"id"`

	// Message is the ICU message text. In the source locale this is the default
	// text extracted from code, in target locales it's the translation.
	Message string `json:"message"`

	Description string      `json:"description,omitempty"`
	References  []Reference `json:"references,omitempty"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	m.References = slices.Clone(m.References)
	return m
}

// CompareReferences orders references by path and then by line.
func CompareReferences(a, b Reference) int {
	if c := strings.Compare(a.Path, b.Path); c != 0 {
		return c
	}
	return cmp.Compare(a.Line, b.Line)
}

// SortReferences sorts refs in place and removes duplicates.
func SortReferences(refs []Reference) []Reference {
	slices.SortFunc(refs, CompareReferences)
	return slices.Compact(refs)
}

// MergeReferences returns the sorted, deduplicated union of a and b.
func MergeReferences(a, b []Reference) []Reference {
	merged := make([]Reference, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	return SortReferences(merged)
}

// CompareMessages defines the canonical catalog order: by the first reference's
// path, then its line, then by id. Messages without references sort last.
func CompareMessages(a, b Message) int {
	switch {
	case len(a.References) > 0 && len(b.References) > 0:
		if c := CompareReferences(a.References[0], b.References[0]); c != 0 {
			return c
		}
	case len(a.References) > 0:
		return -1
	case len(b.References) > 0:
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}

// SortMessages sorts msgs in canonical catalog order.
func SortMessages(msgs []Message) {
	slices.SortStableFunc(msgs, CompareMessages)
}

// SplitID splits a full message id into its namespace and key.
// The namespace is everything before the last separator.
func SplitID(id string) (namespace, key string) {
	i := strings.LastIndex(id, NamespaceSeparator)
	if i == -1 {
		return "", id
	}
	return id[:i], id[i+1:]
}

// JoinID joins namespace and key into a full message id.
func JoinID(namespace, key string) string {
	switch {
	case namespace == "":
		return key
	case key == "":
		return namespace
	}
	return namespace + NamespaceSeparator + key
}

// Path returns the segments of a dotted id or namespace.
// The empty string yields no segments.
func Path(dotted string) []string {
	if dotted == "" {
		return nil
	}
	return strings.Split(dotted, NamespaceSeparator)
}
