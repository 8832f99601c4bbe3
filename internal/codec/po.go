package codec

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/romshark/intlbuild"
	"github.com/romshark/intlbuild/gettext"
	"github.com/romshark/intlbuild/internal/msgkey"
	"github.com/romshark/intlbuild/internal/strfmt"
)

// PO is a gettext catalog.
//
// By default msgctxt holds the namespace and msgid the key.
// With SourceTextAsMsgid, msgctxt holds the full id and msgid the source
// locale text, so translators see the original text in any editor.
//
// Headers and translator comments read by Decode are retained per locale
// and written back by Encode.
type PO struct {
	SourceTextAsMsgid bool

	lock     sync.Mutex
	headers  map[string]gettext.Header
	comments map[string]map[string][]string // locale -> id -> comments
	decoder  *gettext.Decoder
}

var _ Codec = new(PO)

func NewPO(sourceTextAsMsgid bool) *PO {
	return &PO{
		SourceTextAsMsgid: sourceTextAsMsgid,
		headers:           make(map[string]gettext.Header),
		comments:          make(map[string]map[string][]string),
		decoder:           gettext.NewDecoder(),
	}
}

func (*PO) Extension() string { return ".po" }

func (c *PO) id(e gettext.Entry) string {
	if !c.SourceTextAsMsgid {
		return intlbuild.JoinID(e.Msgctxt, e.Msgid)
	}
	if e.Msgctxt != "" {
		return e.Msgctxt
	}
	return msgkey.Derive(e.Msgid)
}

func (c *PO) Decode(content []byte, ctx Context) ([]intlbuild.Message, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	f, err := c.decoder.Decode(ctx.Locale+c.Extension(), bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	c.headers[ctx.Locale] = f.Header.Clone()
	comments := make(map[string][]string)
	c.comments[ctx.Locale] = comments

	msgs := make([]intlbuild.Message, 0, len(f.Entries))
	for _, e := range f.Entries {
		if e.Obsolete {
			continue
		}
		m := intlbuild.Message{
			ID:          c.id(e),
			Message:     e.Msgstr,
			Description: strings.Join(e.Extracted, "\n"),
		}
		for _, r := range e.References {
			file, line := gettext.ParseReference(r)
			m.References = append(m.References, intlbuild.Reference{Path: file, Line: line})
		}
		m.References = intlbuild.SortReferences(m.References)
		if len(e.Translator) > 0 {
			comments[m.ID] = e.Translator
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (c *PO) Encode(msgs []intlbuild.Message, ctx Context) ([]byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	f := &gettext.File{Header: c.header(ctx.Locale)}
	comments := c.comments[ctx.Locale]
	for _, m := range sorted(msgs) {
		e := gettext.Entry{Msgstr: m.Message}
		if c.SourceTextAsMsgid {
			e.Msgctxt = m.ID
			if ctx.IsSource() {
				e.Msgid = m.Message
			} else {
				src, ok := ctx.Source[m.ID]
				if !ok {
					return nil, fmt.Errorf("%w: %q (locale %s)",
						ErrMissingSource, m.ID, ctx.Locale)
				}
				e.Msgid = src.Message
			}
		} else {
			e.Msgctxt, e.Msgid = intlbuild.SplitID(m.ID)
		}
		e.Translator = comments[m.ID]
		if m.Description != "" {
			e.Extracted = slices.Collect(strfmt.Lines(m.Description))
		}
		if ctx.IsSource() {
			for _, r := range m.References {
				e.References = append(e.References, gettext.FmtReference(r.Path, r.Line))
			}
		}
		f.Entries = append(f.Entries, e)
	}

	var b bytes.Buffer
	if err := (gettext.Encoder{}).Encode(f, &b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// header returns the retained header of locale with the required
// fields set. Must be called with the lock held.
func (c *PO) header(locale string) gettext.Header {
	h := c.headers[locale].Clone()
	h.Set("Language", locale)
	h.Set("MIME-Version", "1.0")
	h.Set("Content-Type", "text/plain; charset=UTF-8")
	h.Set("Content-Transfer-Encoding", "8bit")
	h.Set("X-Generator", "intlbuild")
	return h
}

func (c *PO) ToJSONString(content []byte, ctx Context) (string, error) {
	msgs, err := c.Decode(content, ctx)
	if err != nil {
		return "", err
	}
	b, err := nestedJSON(msgs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
