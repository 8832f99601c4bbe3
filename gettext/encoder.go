package gettext

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

type Encoder struct{}

// Encode encodes f to w. Entries are written in the given order,
// separated by empty lines.
func (e Encoder) Encode(f *File, w io.Writer) error {
	bw := bufio.NewWriter(w)
	separate := false

	if !f.Header.IsZero() {
		for _, c := range f.Header.Comments {
			printComment(bw, "#", c)
		}
		var b strings.Builder
		for _, h := range f.Header.Fields {
			b.WriteString(h.Name)
			b.WriteString(": ")
			b.WriteString(h.Value)
			b.WriteByte('\n')
		}
		printDirective(bw, "msgid", false, "")
		printDirective(bw, "msgstr", false, b.String())
		separate = true
	}

	for _, m := range f.Entries {
		if separate {
			bw.WriteByte('\n')
		}
		separate = true

		for _, c := range m.Translator {
			printComment(bw, "#", c)
		}
		for _, c := range m.Extracted {
			printComment(bw, "#.", c)
		}
		for _, r := range m.References {
			printComment(bw, "#:", r)
		}
		if len(m.Flags) > 0 {
			printComment(bw, "#,", strings.Join(m.Flags, ", "))
		}
		if m.Msgctxt != "" {
			printDirective(bw, "msgctxt", m.Obsolete, m.Msgctxt)
		}
		printDirective(bw, "msgid", m.Obsolete, m.Msgid)
		printDirective(bw, "msgstr", m.Obsolete, m.Msgstr)
	}

	// bufio.Writer errors are sticky and surface here.
	return bw.Flush()
}

// printComment writes one comment line per line of s.
func printComment(w *bufio.Writer, prefix, s string) {
	for line := range strings.SplitSeq(s, "\n") {
		w.WriteString(prefix)
		if line != "" {
			w.WriteByte(' ')
			w.WriteString(line)
		}
		w.WriteByte('\n')
	}
}

// printDirective writes `name "s"`. Text spanning multiple lines is
// written as an empty first string followed by one string per line.
func printDirective(w *bufio.Writer, name string, obsolete bool, s string) {
	if obsolete {
		w.WriteString("#~ ")
	}
	w.WriteString(name)
	w.WriteByte(' ')

	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) < 2 {
		w.WriteString(strconv.Quote(s))
		w.WriteByte('\n')
		return
	}
	w.WriteString(`""`)
	w.WriteByte('\n')
	for _, l := range lines {
		if obsolete {
			w.WriteString("#~ ")
		}
		w.WriteString(strconv.Quote(l))
		w.WriteByte('\n')
	}
}
