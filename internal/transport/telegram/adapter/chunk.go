package adapter

import "strings"

// maxMessageRunes stays under Telegram's 4096 limit to leave room for
// entities added by the client.
const maxMessageRunes = 4000

// splitText cuts s into parts of at most limit runes. Parts end on line
// breaks where possible. Lines longer than limit are cut hard; with html set
// a hard cut never lands inside a tag. It always returns at least one part.
func splitText(s string, limit int, html bool) []string {
	if limit <= 0 {
		limit = maxMessageRunes
	}
	var (
		parts []string
		cur   []rune
	)
	flush := func() {
		if p := strings.TrimRight(string(cur), "\n"); p != "" {
			parts = append(parts, p)
		}
		cur = cur[:0]
	}
	for _, line := range strings.SplitAfter(s, "\n") {
		rs := []rune(line)
		if len(cur)+len(rs) <= limit {
			cur = append(cur, rs...)
			continue
		}
		flush()
		for len(rs) > limit {
			cut := hardCut(rs, limit, html)
			parts = append(parts, string(rs[:cut]))
			rs = rs[cut:]
		}
		cur = append(cur, rs...)
	}
	flush()
	if len(parts) == 0 {
		return []string{""}
	}
	return parts
}

func hardCut(rs []rune, limit int, html bool) int {
	if !html {
		return limit
	}
	for i := limit - 1; i > 0; i-- {
		switch rs[i] {
		case '>':
			return limit
		case '<':
			return i
		}
	}
	return limit
}
