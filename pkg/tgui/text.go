package tgui

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TruncRunes returns s truncated to at most n runes.
// It appends an ellipsis "…" when truncated.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "…"
		}
		count++
	}
	return s
}

// Preview joins the first max items with sep and appends " +N more" when
// items were left out. max <= 0 joins everything.
func Preview(items []string, max int, sep string) string {
	if max <= 0 || len(items) <= max {
		return strings.Join(items, sep)
	}
	return strings.Join(items[:max], sep) + fmt.Sprintf(" +%d more", len(items)-max)
}
