package util

import "strings"

// DefaultString returns the fallback value if v is empty or consists entirely
// of whitespace; otherwise it returns v unchanged.
//
// Examples:
//
//	DefaultString("hello", "world")  → "hello"
//	DefaultString("",      "world")  → "world"
//	DefaultString("  ",    "world")  → "world"
func DefaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// EmptyDash returns "-" for blank values so table columns stay aligned in
// `list`, `resolve` and the TUI detail panel.
func EmptyDash(s string) string {
	return DefaultString(s, "-")
}

// Truncate shortens s to at most n runes, marking the cut with "…".
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
