package router

import (
	"sort"
	"strings"

	kit "questbot/internal/transport"
)

const maxMenuName = 32

// menuName folds s into a Telegram command name: lowercase [a-z0-9_],
// at most 32 bytes, starting with a letter. Separators become a single
// underscore and other characters are dropped.
func menuName(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '_' || r == '-' || r == '/' || r == ' ' || r == '\t' || r == '\n'
	})
	kept := fields[:0]
	for _, f := range fields {
		f = strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, f)
		if f != "" {
			kept = append(kept, f)
		}
	}
	out := strings.Join(kept, "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > maxMenuName {
		out = strings.TrimRight(out[:maxMenuName], "_")
	}
	return out
}

// routeMenuName is the shortcut for a multi-word route, e.g.
// "settings set" becomes settings_set.
func routeMenuName(route []string) (string, bool) {
	name := menuName(strings.Join(route, "_"))
	return name, name != ""
}

type menuEntry struct {
	name, desc string
	leaf       bool // shortcut for a nested route
}

// buildMenu lists top-level commands first, then shortcuts for nested
// routes. Owner-only entries are marked with a lock.
func buildMenu(root *cmdNode, leaves []Command) []kit.BotCommand {
	seen := map[string]menuEntry{}
	put := func(e menuEntry) {
		if e.name == "" {
			return
		}
		e.desc = strings.Join(strings.Fields(e.desc), " ")
		if e.desc == "" {
			e.desc = e.name
		}
		if cur, ok := seen[e.name]; ok {
			if cur.leaf != e.leaf && e.leaf {
				return
			}
			if cur.leaf == e.leaf && len(e.desc) >= len(cur.desc) {
				return
			}
		}
		seen[e.name] = e
	}

	if root != nil {
		for _, name := range root.childNames() {
			n, _ := root.child(name)
			if n == nil {
				continue
			}
			desc := summarizeNodeDesc(n)
			if nodeIsOwnerOnly(n) {
				desc = "🔒 " + desc
			}
			put(menuEntry{name: menuName(name), desc: desc})
		}
	}
	for _, c := range leaves {
		route := splitRoute(c.Route)
		if len(route) < 2 {
			continue
		}
		name, ok := routeMenuName(route)
		if !ok {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = strings.Join(route, " ")
		}
		if c.Access == AccessOwnerOnly {
			desc = "🔒 " + desc
		}
		put(menuEntry{name: name, desc: desc, leaf: true})
	}

	entries := make([]menuEntry, 0, len(seen))
	for _, e := range seen {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].leaf != entries[j].leaf {
			return !entries[i].leaf
		}
		return entries[i].name < entries[j].name
	})
	out := make([]kit.BotCommand, len(entries))
	for i, e := range entries {
		out[i] = kit.BotCommand{Command: e.name, Description: e.desc}
	}
	return out
}
