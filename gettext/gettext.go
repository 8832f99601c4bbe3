// Package gettext provides a GNU gettext `.po` file decoder and encoder.
//
// Only the subset needed for message catalogs is supported:
// singular messages with optional context, the four comment kinds,
// obsolete entries and the header entry. Plural entries are rejected.
package gettext

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

type Position struct {
	Filename     string
	Line, Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%s:%d:%d", p.Filename, p.Line, p.Column)
}

// File is a `.po` translation file.
type File struct {
	Header  Header
	Entries []Entry
}

// Entry is a single message of a `.po` file.
type Entry struct {
	Pos Position

	Translator []string // #  translator-comments
	Extracted  []string // #. extracted-comments
	References []string // #: reference...
	Flags      []string // #, flag...

	// Obsolete entries are prefixed with `#~`.
	Obsolete bool

	Msgctxt string
	Msgid   string
	Msgstr  string
}

// Key identifies an entry within a file.
type Key struct{ Msgctxt, Msgid string }

func (e Entry) Key() Key { return Key{Msgctxt: e.Msgctxt, Msgid: e.Msgid} }

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	e.Translator = slices.Clone(e.Translator)
	e.Extracted = slices.Clone(e.Extracted)
	e.References = slices.Clone(e.References)
	e.Flags = slices.Clone(e.Flags)
	return e
}

// Header is the metadata entry with the empty msgid.
type Header struct {
	// Comments are the translator comments preceding the header.
	Comments []string
	Fields   []HeaderField
}

type HeaderField struct{ Name, Value string }

// IsZero reports whether the header has neither comments nor fields.
func (h Header) IsZero() bool { return len(h.Comments) == 0 && len(h.Fields) == 0 }

// Get returns the value of field name or "".
func (h Header) Get(name string) string {
	for _, f := range h.Fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Set replaces the value of field name, appending the field if absent.
func (h *Header) Set(name, value string) {
	for i, f := range h.Fields {
		if strings.EqualFold(f.Name, name) {
			h.Fields[i].Value = value
			return
		}
	}
	h.Fields = append(h.Fields, HeaderField{Name: name, Value: value})
}

// Clone returns a deep copy of h.
func (h Header) Clone() Header {
	h.Comments = slices.Clone(h.Comments)
	h.Fields = slices.Clone(h.Fields)
	return h
}

type Error struct {
	Pos      Position
	Expected string
	Err      error
}

func (e Error) Error() string {
	err := e.Err
	if err == nil {
		err = ErrUnexpectedToken
	}
	if e.Expected == "" {
		return fmt.Sprintf("%s: %s", e.Pos, err.Error())
	}
	return fmt.Sprintf("%s: expected %s; %s", e.Pos, e.Expected, err.Error())
}

func (e Error) Unwrap() error {
	if e.Err == nil {
		return ErrUnexpectedToken
	}
	return e.Err
}

var (
	ErrUnexpectedToken = errors.New("found unexpected token")
	ErrMalformedHeader = errors.New("malformed header")
	ErrDuplicateHeader = errors.New("duplicate header")
	ErrDuplicateEntry  = errors.New("duplicate entry")
	ErrPluralEntry     = errors.New("plural entries are not supported")
)

// FmtReference formats a source reference comment value.
func FmtReference(file string, line int) string {
	if line < 1 {
		return file
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// ParseReference splits a reference of the form `path:line`.
// line is zero if absent or malformed.
func ParseReference(s string) (file string, line int) {
	i := strings.LastIndexByte(s, ':')
	if i == -1 {
		return s, 0
	}
	n := 0
	for _, c := range s[i+1:] {
		if c < '0' || c > '9' {
			return s, 0
		}
		n = n*10 + int(c-'0')
	}
	if i+1 == len(s) {
		return s, 0
	}
	return s[:i], n
}
