package gettext

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
)

type Decoder struct {
	reader *bufio.Reader
	pos    Position
}

func NewDecoder() *Decoder {
	return &Decoder{reader: bufio.NewReader(nil)}
}

func (d *Decoder) errSyntax(expected string) Error {
	return Error{Pos: d.pos, Expected: expected}
}

type keyword uint8

const (
	_ keyword = iota

	keywordMsgctxt // msgctxt
	keywordMsgid   // msgid
	keywordMsgstr  // msgstr
)

// pending is the entry currently being read.
type pending struct {
	Entry
	started    bool
	last       keyword
	hasMsgctxt bool
	hasMsgid   bool
	hasMsgstr  bool
}

// Decode decodes a `.po` file from r.
// The first entry with an empty msgid and no msgctxt is the header.
func (d *Decoder) Decode(fileName string, r io.Reader) (*File, error) {
	d.reader.Reset(r)
	d.pos = Position{Filename: fileName}

	f := new(File)
	seen := make(map[Key]struct{})
	first := true
	var cur pending

	flush := func(eof bool) error {
		if !cur.started {
			return nil
		}
		defer func() { cur = pending{} }()
		if eof && !cur.hasMsgctxt && !cur.hasMsgid {
			return nil // Trailing comments.
		}
		if !cur.hasMsgid || !cur.hasMsgstr {
			err := Error{Pos: d.pos, Expected: "msgstr", Err: ErrUnexpectedToken}
			if !cur.hasMsgid {
				err.Expected = "msgid"
			}
			if eof {
				err.Err = io.ErrUnexpectedEOF
			}
			return err
		}
		isHeader := cur.Msgid == "" && !cur.hasMsgctxt && !cur.Obsolete
		if isHeader {
			if !first {
				return Error{Pos: cur.Pos, Err: ErrDuplicateHeader}
			}
			first = false
			h, err := parseHeader(cur.Pos, cur.Msgstr)
			if err != nil {
				return err
			}
			h.Comments = cur.Translator
			f.Header = h
			return nil
		}
		first = false
		if !cur.Obsolete {
			k := cur.Key()
			if _, ok := seen[k]; ok {
				return Error{Pos: cur.Pos, Err: ErrDuplicateEntry}
			}
			seen[k] = struct{}{}
		}
		f.Entries = append(f.Entries, cur.Entry)
		return nil
	}

	for {
		raw, err := d.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if raw == "" && errors.Is(err, io.EOF) {
			break
		}
		d.pos.Line++
		d.pos.Column = 1
		if perr := d.readLine(&cur, raw, flush); perr != nil {
			return nil, perr
		}
		if errors.Is(err, io.EOF) {
			break
		}
	}
	if err := flush(true); err != nil {
		return nil, err
	}
	return f, nil
}

func (d *Decoder) readLine(cur *pending, raw string, flush func(bool) error) error {
	line := strings.TrimSpace(raw)
	if line == "" {
		if cur.hasMsgctxt || cur.hasMsgid {
			return flush(false)
		}
		// Comments separated from their entry by empty lines stay with it.
		return nil
	}

	obsolete := false
	if rest, ok := strings.CutPrefix(line, "#~"); ok {
		obsolete = true
		line = strings.TrimSpace(rest)
		d.pos.Column += 3
		if line == "" {
			return nil
		}
	}

	if line[0] == '#' {
		if cur.hasMsgstr {
			if err := flush(false); err != nil {
				return err
			}
		}
		d.start(cur)
		d.readComment(cur, line)
		return nil
	}

	if line[0] == '"' {
		if cur.last == 0 {
			return d.errSyntax("msgctxt, msgid or msgstr")
		}
		s, err := d.unquote(line)
		if err != nil {
			return err
		}
		switch cur.last {
		case keywordMsgctxt:
			cur.Msgctxt += s
		case keywordMsgid:
			cur.Msgid += s
		case keywordMsgstr:
			cur.Msgstr += s
		}
		return nil
	}

	kw, rest, _ := strings.Cut(line, " ")
	switch {
	case kw == "msgid_plural", strings.HasPrefix(kw, "msgstr["):
		return Error{Pos: d.pos, Err: ErrPluralEntry}
	case kw == "msgctxt", kw == "msgid":
		if cur.hasMsgstr {
			if err := flush(false); err != nil {
				return err
			}
		}
		if cur.hasMsgid || (kw == "msgctxt" && cur.hasMsgctxt) {
			return d.errSyntax("msgstr")
		}
	case kw == "msgstr":
		if !cur.hasMsgid {
			return d.errSyntax("msgid")
		}
		if cur.hasMsgstr {
			return d.errSyntax("msgctxt or msgid")
		}
	default:
		return d.errSyntax("msgctxt, msgid or msgstr")
	}

	d.start(cur)
	if obsolete {
		cur.Obsolete = true
	}
	d.pos.Column += len(kw) + 1
	s, err := d.unquote(strings.TrimSpace(rest))
	if err != nil {
		return err
	}
	switch kw {
	case "msgctxt":
		cur.last, cur.hasMsgctxt, cur.Msgctxt = keywordMsgctxt, true, s
	case "msgid":
		cur.last, cur.hasMsgid, cur.Msgid = keywordMsgid, true, s
	case "msgstr":
		cur.last, cur.hasMsgstr, cur.Msgstr = keywordMsgstr, true, s
	}
	return nil
}

func (d *Decoder) start(cur *pending) {
	if !cur.started {
		cur.started = true
		cur.Pos = d.pos
	}
}

func (d *Decoder) readComment(cur *pending, line string) {
	if len(line) < 2 {
		cur.Translator = append(cur.Translator, "")
		return
	}
	value := func() string {
		return strings.TrimPrefix(line[2:], " ")
	}
	switch line[1] {
	case '.':
		cur.Extracted = append(cur.Extracted, value())
	case ':':
		cur.References = append(cur.References, strings.Fields(value())...)
	case ',':
		for flag := range strings.SplitSeq(value(), ",") {
			if flag = strings.TrimSpace(flag); flag != "" {
				cur.Flags = append(cur.Flags, flag)
			}
		}
	case '|':
		// Previous untranslated strings aren't retained.
	default:
		cur.Translator = append(cur.Translator, strings.TrimPrefix(line[1:], " "))
	}
}

func (d *Decoder) unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", d.errSyntax("string literal")
	}
	v, err := strconv.Unquote(s)
	if err != nil {
		return "", Error{Pos: d.pos, Expected: "string literal", Err: err}
	}
	return v, nil
}

func parseHeader(pos Position, s string) (h Header, err error) {
	for line := range strings.SplitSeq(s, "\n") {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return h, Error{Pos: pos, Expected: "colon", Err: ErrMalformedHeader}
		}
		name = strings.TrimSpace(name)
		for _, f := range h.Fields {
			if strings.EqualFold(f.Name, name) {
				return h, Error{Pos: pos, Err: ErrDuplicateHeader}
			}
		}
		h.Fields = append(h.Fields, HeaderField{
			Name:  name,
			Value: strings.TrimSpace(value),
		})
	}
	return h, nil
}
