package router

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	kit "chronobot/internal/transport"
)

// Telegram limits for setMyCommands.
const (
	maxMenuEntries = 100
	maxCommandLen  = 32
	maxMenuDescLen = 256
)

// commandName folds a route or alias into a Telegram command name:
// [a-z0-9_], at most 32 characters, starting with a letter.
// "temp-mute" becomes "temp_mute".
func commandName(s string) string {
	var b strings.Builder
	gap := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if gap && b.Len() > 0 {
				b.WriteByte('_')
			}
			gap = false
			b.WriteRune(r)
		case r == '_', r == '-', r == '/', unicode.IsSpace(r):
			gap = true
		}
	}
	out := b.String()
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > maxCommandLen {
		out = strings.TrimRight(out[:maxCommandLen], "_")
	}
	return out
}

// menuName is the menu form of a route: ["jobs", "del"] -> "jobs_del".
func menuName(route []string) (string, bool) {
	out := commandName(strings.Join(route, "_"))
	return out, out != ""
}

// usageArgs extracts the argument shape from a usage line, dropping the
// command itself and any example or note:
// "/remind <when> <text>, e.g. /remind in 2h tea" -> "<when> <text>".
func usageArgs(route []string, usage string) string {
	u := strings.TrimPrefix(strings.TrimSpace(usage), "/")
	u = strings.TrimPrefix(u, strings.Join(route, " "))
	if i := strings.IndexAny(u, ",("); i >= 0 {
		u = u[:i]
	}
	return strings.TrimSpace(u)
}

func menuDescription(desc, args string, owner bool) string {
	d := strings.Join(strings.Fields(desc), " ")
	if args != "" {
		d += " (" + args + ")"
	}
	if owner {
		d = "🔒 " + d
	}
	for len(d) > maxMenuDescLen {
		_, size := utf8.DecodeLastRuneInString(d)
		d = d[:len(d)-size]
	}
	return d
}

type menuEntry struct {
	name  string
	desc  string
	owner bool
	group string // top-level name, for keeping subcommands next to it
}

// buildMenu lists every command a member can run first, then the owner-only
// ones, each alphabetically. Subcommands follow their group as "/a_b".
// Aliases stay out of the menu; they still resolve when typed.
func buildMenu(root *cmdNode, cmds []Command) []kit.BotCommand {
	var entries []menuEntry
	seen := map[string]bool{}
	add := func(e menuEntry) {
		if e.name == "" || seen[e.name] {
			return
		}
		if e.desc == "" {
			e.desc = e.name
		}
		seen[e.name] = true
		entries = append(entries, e)
	}

	if root != nil {
		for _, name := range root.childNames() {
			n, _ := root.child(name)
			owner := nodeIsOwnerOnly(n)
			args := ""
			if n.cmd != nil {
				args = usageArgs([]string{name}, n.cmd.Usage)
			}
			add(menuEntry{
				name:  commandName(name),
				desc:  menuDescription(summarizeNodeDesc(n), args, owner),
				owner: owner,
				group: name,
			})
		}
	}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) < 2 {
			continue
		}
		name, ok := menuName(route)
		if !ok {
			continue
		}
		desc := c.Description
		if strings.TrimSpace(desc) == "" {
			desc = strings.Join(route, " ")
		}
		owner := c.Access == AccessOwnerOnly
		add(menuEntry{
			name:  name,
			desc:  menuDescription(desc, usageArgs(route, c.Usage), owner),
			owner: owner,
			group: route[0],
		})
	}

	groupOwner := map[string]bool{}
	for _, e := range entries {
		if e.name == commandName(e.group) {
			groupOwner[e.group] = e.owner
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if oa, ob := groupOwner[a.group], groupOwner[b.group]; oa != ob {
			return ob
		}
		if a.group != b.group {
			return a.group < b.group
		}
		return a.name < b.name
	})

	out := make([]kit.BotCommand, 0, min(len(entries), maxMenuEntries))
	for _, e := range entries[:min(len(entries), maxMenuEntries)] {
		out = append(out, kit.BotCommand{Command: e.name, Description: e.desc})
	}
	return out
}
