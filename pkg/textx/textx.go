// Package textx provides small text helpers shared across adapters and
// agents.
package textx

import "strings"

// Sanitize removes control characters except tab, newline, and carriage
// return, then trims surrounding whitespace. Model output passes through
// here before it is scored or persisted.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Excerpt shortens s to at most max runes, marking truncation with an
// ellipsis. Free-form judge rationale lands in failure records through
// this so a single rambling response cannot bloat the artifacts.
func Excerpt(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
