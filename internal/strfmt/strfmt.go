// Package strfmt provides text normalization helpers used for extracted
// descriptions and comment blocks.
package strfmt

import (
	"iter"
	"strings"
)

// Dedent removes leading/trailing blank lines and the common leading
// indentation from all non-empty lines. Line endings are normalized to "\n".
func Dedent(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for len(lines) > 0 && isBlank(lines[0]) {
		lines = lines[1:]
	}
	for len(lines) > 0 && isBlank(lines[len(lines)-1]) {
		lines = lines[:len(lines)-1]
	}
	minIndent := -1
	for _, l := range lines {
		if isBlank(l) {
			continue
		}
		if n := indentation(l); minIndent == -1 || n < minIndent {
			minIndent = n
		}
	}
	for i, l := range lines {
		if isBlank(l) {
			lines[i] = ""
			continue
		}
		lines[i] = strings.TrimRight(l[minIndent:], " \t")
	}
	return strings.Join(lines, "\n")
}

// Lines iterates over the lines of s without their line breaks.
// The empty string yields a single empty line.
func Lines(s string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			i := strings.IndexByte(s, '\n')
			if i == -1 {
				yield(s)
				return
			}
			if !yield(s[:i]) {
				return
			}
			s = s[i+1:]
		}
	}
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

func indentation(s string) (n int) {
	for _, r := range s {
		if r != ' ' && r != '\t' {
			break
		}
		n++
	}
	return n
}
