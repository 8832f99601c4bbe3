// Package icu parses ICU MessageFormat messages and compiles them into
// the compact form loaded at runtime.
//
// The compact form of a message is a string if the message is plain text
// and an array of parts otherwise. A part is either literal text or an
// array:
//
//	["name"]                                   {name}
//	["name", "number"|"date"|"time", style?]   {name, number, style}
//	["name", "plural"|"selectordinal", {selector: message}, offset?]
//	["name", "select", {selector: message}]
//	["#"]                                      # inside plural branches
//	["tag", "tag", message]                    <tag>message</tag>
package icu

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrUnexpectedChar    = errors.New("unexpected character")
	ErrUnclosedArgument  = errors.New("unclosed argument")
	ErrEmptyArgument     = errors.New("empty argument name")
	ErrUnknownType       = errors.New("unknown argument type")
	ErrMissingOther      = errors.New("missing other selector")
	ErrDuplicateSelector = errors.New("duplicate selector")
	ErrInvalidOffset     = errors.New("invalid plural offset")
	ErrUnclosedTag       = errors.New("unclosed tag")
	ErrMismatchedTag     = errors.New("mismatched closing tag")
)

// Error is a syntax error at a byte offset of the message.
type Error struct {
	Offset int
	Err    error
}

func (e *Error) Error() string { return fmt.Sprintf("at offset %d: %v", e.Offset, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Node is an element of a parsed message.
type Node interface{ node() }

type (
	// Text is literal text with quoting resolved.
	Text string

	// Arg is a simple or formatted argument.
	Arg struct {
		Name  string
		Type  string // Empty, "number", "date" or "time".
		Style string
	}

	// Pound is # inside a plural branch.
	Pound struct{}

	// Plural is a plural or selectordinal argument.
	Plural struct {
		Arg     string
		Ordinal bool
		Offset  int
		Options []Option
	}

	// Select is a select argument.
	Select struct {
		Arg     string
		Options []Option
	}

	// Tag is a rich text element.
	Tag struct {
		Name     string
		Children []Node
	}
)

func (Text) node()   {}
func (Arg) node()    {}
func (Pound) node()  {}
func (Plural) node() {}
func (Select) node() {}
func (Tag) node()    {}

// Option is a branch of a plural or select argument.
type Option struct {
	Selector string
	Value    []Node
}

// Parse parses message.
func Parse(message string) ([]Node, error) {
	p := &parser{src: message}
	nodes, err := p.message(false, "")
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.src) {
		return nil, p.errorf(ErrUnexpectedChar)
	}
	return nodes, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(err error) *Error { return &Error{Offset: p.pos, Err: err} }

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		p.pos += size
	}
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '-' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (p *parser) ident() string {
	start := p.pos
	for p.pos < len(p.src) {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		if !isIdentRune(r) {
			break
		}
		p.pos += size
	}
	return p.src[start:p.pos]
}

// message parses until the end of input, an unmatched '}' or the closing
// tag of tag. Closing tags are consumed, '}' is left to the caller.
func (p *parser) message(inPlural bool, tag string) ([]Node, error) {
	var (
		nodes []Node
		text  strings.Builder
	)
	flush := func() {
		if text.Len() > 0 {
			nodes = append(nodes, Text(text.String()))
			text.Reset()
		}
	}
	for p.pos < len(p.src) {
		switch c := p.src[p.pos]; {
		case c == '\'':
			p.quoted(&text, inPlural)
		case c == '{':
			flush()
			n, err := p.argument()
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		case c == '}':
			if tag != "" {
				return nil, p.errorf(ErrUnclosedTag)
			}
			flush()
			return nodes, nil
		case c == '#' && inPlural:
			flush()
			nodes = append(nodes, Pound{})
			p.pos++
		case c == '<':
			if name, n, ok := p.closingTag(); ok {
				if name != tag {
					return nil, p.errorf(ErrMismatchedTag)
				}
				p.pos += n
				flush()
				return nodes, nil
			}
			name, n, selfClosing, ok := p.openingTag()
			if !ok {
				text.WriteByte(c)
				p.pos++
				continue
			}
			flush()
			p.pos += n
			if selfClosing {
				nodes = append(nodes, Tag{Name: name})
				continue
			}
			children, err := p.message(inPlural, name)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, Tag{Name: name, Children: children})
		default:
			_, size := utf8.DecodeRuneInString(p.src[p.pos:])
			text.WriteString(p.src[p.pos : p.pos+size])
			p.pos += size
		}
	}
	if tag != "" {
		return nil, p.errorf(ErrUnclosedTag)
	}
	flush()
	return nodes, nil
}

// quoted handles an apostrophe. "''" is a literal apostrophe, an
// apostrophe before a syntax character starts a quoted literal that ends
// at the next single apostrophe, any other apostrophe is literal.
func (p *parser) quoted(text *strings.Builder, inPlural bool) {
	p.pos++
	switch next := p.peek(); {
	case next == '\'':
		text.WriteByte('\'')
		p.pos++
		return
	case next == '{', next == '}', next == '<', next == '|', next == '#' && inPlural:
	default:
		text.WriteByte('\'')
		return
	}
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '\'' {
			if p.pos+1 < len(p.src) && p.src[p.pos+1] == '\'' {
				text.WriteByte('\'')
				p.pos += 2
				continue
			}
			p.pos++
			return
		}
		text.WriteByte(c)
		p.pos++
	}
}

func tagName(s string) int {
	n := 0
	for n < len(s) {
		c := s[n]
		if c == '-' || c == '_' || c == '.' ||
			'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' {
			n++
			continue
		}
		break
	}
	return n
}

// openingTag matches <name> or <name/> at the current position.
func (p *parser) openingTag() (name string, n int, selfClosing, ok bool) {
	s := p.src[p.pos+1:]
	l := tagName(s)
	if l == 0 {
		return "", 0, false, false
	}
	switch rest := s[l:]; {
	case strings.HasPrefix(rest, ">"):
		return s[:l], l + 2, false, true
	case strings.HasPrefix(rest, "/>"):
		return s[:l], l + 3, true, true
	}
	return "", 0, false, false
}

// closingTag matches </name> at the current position.
func (p *parser) closingTag() (name string, n int, ok bool) {
	if !strings.HasPrefix(p.src[p.pos:], "</") {
		return "", 0, false
	}
	s := p.src[p.pos+2:]
	l := tagName(s)
	if l == 0 || !strings.HasPrefix(s[l:], ">") {
		return "", 0, false
	}
	return s[:l], l + 3, true
}

func (p *parser) expect(c byte) error {
	if p.pos >= len(p.src) {
		return p.errorf(ErrUnclosedArgument)
	}
	if p.src[p.pos] != c {
		return p.errorf(ErrUnexpectedChar)
	}
	p.pos++
	return nil
}

func (p *parser) argument() (Node, error) {
	p.pos++ // {
	p.skipSpace()
	name := p.ident()
	if name == "" {
		if p.pos >= len(p.src) {
			return nil, p.errorf(ErrUnclosedArgument)
		}
		return nil, p.errorf(ErrEmptyArgument)
	}
	p.skipSpace()
	if p.peek() == '}' {
		p.pos++
		return Arg{Name: name}, nil
	}
	if err := p.expect(','); err != nil {
		return nil, err
	}
	p.skipSpace()
	typeStart := p.pos
	typ := p.ident()
	p.skipSpace()

	switch typ {
	case "number", "date", "time":
		if p.peek() == '}' {
			p.pos++
			return Arg{Name: name, Type: typ}, nil
		}
		if err := p.expect(','); err != nil {
			return nil, err
		}
		end := strings.IndexByte(p.src[p.pos:], '}')
		if end == -1 {
			p.pos = len(p.src)
			return nil, p.errorf(ErrUnclosedArgument)
		}
		style := strings.TrimSpace(p.src[p.pos : p.pos+end])
		p.pos += end + 1
		return Arg{Name: name, Type: typ, Style: style}, nil
	case "plural", "selectordinal":
		if err := p.expect(','); err != nil {
			return nil, err
		}
		offset, options, err := p.options(true)
		if err != nil {
			return nil, err
		}
		return Plural{
			Arg:     name,
			Ordinal: typ == "selectordinal",
			Offset:  offset,
			Options: options,
		}, nil
	case "select":
		if err := p.expect(','); err != nil {
			return nil, err
		}
		_, options, err := p.options(false)
		if err != nil {
			return nil, err
		}
		return Select{Arg: name, Options: options}, nil
	}
	if p.pos >= len(p.src) {
		return nil, p.errorf(ErrUnclosedArgument)
	}
	p.pos = typeStart
	return nil, p.errorf(ErrUnknownType)
}

// options parses the branches of a plural or select argument including
// its closing brace.
func (p *parser) options(plural bool) (offset int, options []Option, err error) {
	p.skipSpace()
	if plural && strings.HasPrefix(p.src[p.pos:], "offset:") {
		p.pos += len("offset:")
		p.skipSpace()
		start := p.pos
		for p.pos < len(p.src) && '0' <= p.src[p.pos] && p.src[p.pos] <= '9' {
			offset = offset*10 + int(p.src[p.pos]-'0')
			p.pos++
		}
		if p.pos == start {
			return 0, nil, p.errorf(ErrInvalidOffset)
		}
	}

	seen := make(map[string]struct{})
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return 0, nil, p.errorf(ErrUnclosedArgument)
		}
		if p.src[p.pos] == '}' {
			p.pos++
			break
		}

		selStart := p.pos
		var selector string
		if plural && p.src[p.pos] == '=' {
			p.pos++
			start := p.pos
			for p.pos < len(p.src) && '0' <= p.src[p.pos] && p.src[p.pos] <= '9' {
				p.pos++
			}
			if p.pos == start {
				return 0, nil, p.errorf(ErrUnexpectedChar)
			}
			selector = p.src[selStart:p.pos]
		} else if selector = p.ident(); selector == "" {
			return 0, nil, p.errorf(ErrUnexpectedChar)
		}
		if _, ok := seen[selector]; ok {
			p.pos = selStart
			return 0, nil, p.errorf(ErrDuplicateSelector)
		}
		seen[selector] = struct{}{}

		p.skipSpace()
		if err := p.expect('{'); err != nil {
			return 0, nil, err
		}
		value, err := p.message(plural, "")
		if err != nil {
			return 0, nil, err
		}
		if err := p.expect('}'); err != nil {
			return 0, nil, err
		}
		options = append(options, Option{Selector: selector, Value: value})
	}
	if _, ok := seen["other"]; !ok {
		return 0, nil, p.errorf(ErrMissingOther)
	}
	return offset, options, nil
}

// Compiler compiles a message into its compact form.
type Compiler func(message string) (any, error)

// Compile parses message and returns its compact form.
func Compile(message string) (any, error) {
	nodes, err := Parse(message)
	if err != nil {
		return nil, err
	}
	return compact(nodes), nil
}

var _ Compiler = Compile

func compact(nodes []Node) any {
	parts := make([]any, 0, len(nodes))
	var text strings.Builder
	plain := true
	for _, n := range nodes {
		if t, ok := n.(Text); ok {
			text.WriteString(string(t))
			continue
		}
		plain = false
		if text.Len() > 0 {
			parts = append(parts, text.String())
			text.Reset()
		}
		parts = append(parts, compactNode(n))
	}
	if plain {
		return text.String()
	}
	if text.Len() > 0 {
		parts = append(parts, text.String())
	}
	return parts
}

func compactOptions(options []Option) map[string]any {
	m := make(map[string]any, len(options))
	for _, o := range options {
		m[o.Selector] = compact(o.Value)
	}
	return m
}

func compactNode(n Node) any {
	switch n := n.(type) {
	case Arg:
		switch {
		case n.Type == "":
			return []any{n.Name}
		case n.Style == "":
			return []any{n.Name, n.Type}
		}
		return []any{n.Name, n.Type, n.Style}
	case Pound:
		return []any{"#"}
	case Plural:
		typ := "plural"
		if n.Ordinal {
			typ = "selectordinal"
		}
		part := []any{n.Arg, typ, compactOptions(n.Options)}
		if n.Offset != 0 {
			part = append(part, n.Offset)
		}
		return part
	case Select:
		return []any{n.Arg, "select", compactOptions(n.Options)}
	case Tag:
		return []any{n.Name, "tag", compact(n.Children)}
	}
	panic(fmt.Sprintf("unexpected node %T", n))
}
