package codec

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"

	"github.com/romshark/intlbuild"
)

// TOML is a go-i18n message file. Namespaces are tables and messages
// either plain strings or tables with "description" and "other".
type TOML struct{}

var _ Codec = TOML{}

var tomlUnmarshalers = map[string]i18n.UnmarshalFunc{"toml": toml.Unmarshal}

func (TOML) Extension() string { return ".toml" }

func (t TOML) Decode(content []byte, ctx Context) ([]intlbuild.Message, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, nil
	}
	f, err := i18n.ParseMessageFileBytes(content, ctx.Locale+t.Extension(), tomlUnmarshalers)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	msgs := make([]intlbuild.Message, len(f.Messages))
	for i, m := range f.Messages {
		msgs[i] = intlbuild.Message{
			ID:          m.ID,
			Message:     m.Other,
			Description: m.Description,
		}
	}
	intlbuild.SortMessages(msgs)
	return msgs, nil
}

// Encode writes one dotted key per message in catalog order.
func (TOML) Encode(msgs []intlbuild.Message, _ Context) ([]byte, error) {
	msgs = sorted(msgs)
	// Reject leaf/namespace conflicts the same way nested JSON does.
	if _, err := buildTree(msgs); err != nil {
		return nil, err
	}
	var b bytes.Buffer
	for _, m := range msgs {
		for i, segment := range intlbuild.Path(m.ID) {
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(tomlKey(segment))
		}
		b.WriteString(" = ")
		if m.Description == "" {
			b.WriteString(tomlString(m.Message))
		} else {
			b.WriteString("{ description = ")
			b.WriteString(tomlString(m.Description))
			b.WriteString(", other = ")
			b.WriteString(tomlString(m.Message))
			b.WriteString(" }")
		}
		b.WriteByte('\n')
	}
	return b.Bytes(), nil
}

func (t TOML) ToJSONString(content []byte, ctx Context) (string, error) {
	msgs, err := t.Decode(content, ctx)
	if err != nil {
		return "", err
	}
	b, err := nestedJSON(msgs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func isBareKey(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

func tomlKey(s string) string {
	if isBareKey(s) {
		return s
	}
	return tomlString(s)
}

// tomlString returns s as a TOML basic string.
func tomlString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\f':
			b.WriteString(`\f`)
		case '\r':
			b.WriteString(`\r`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\u%04X`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
