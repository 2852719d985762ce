// Package textnorm canonicalizes visible page text for matching.
package textnorm

import (
	"strings"
	"unicode"
)

// Normalize replaces every unicode whitespace variant (NBSP, thin and hair
// spaces, line/paragraph separators, CR/LF, tabs) with a plain ASCII space,
// collapses runs and trims.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Collapse removes all whitespace entirely. Used as a last-resort matching
// key for texts that wrap differently across renderings.
func Collapse(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Words splits normalized text into its space-separated words.
func Words(s string) []string {
	n := Normalize(s)
	if n == "" {
		return nil
	}
	return strings.Split(n, " ")
}
