// Package mcp connects configured Model Context Protocol servers and
// exposes their tools under namespaced names.
package mcp

import "strings"

const prefix = "mcp__"

// NamespacedName returns the exposed tool name "mcp__<server>__<tool>".
// The server ID is sanitized to lowercase alphanumerics and hyphens.
func NamespacedName(serverID, toolName string) string {
	return prefix + sanitizeID(serverID) + "__" + toolName
}

// ParseNamespacedName splits a namespaced name into server and tool parts.
func ParseNamespacedName(name string) (server, tool string, ok bool) {
	if !strings.HasPrefix(name, prefix) {
		return "", "", false
	}
	rest := name[len(prefix):]
	idx := strings.Index(rest, "__")
	if idx <= 0 || idx+2 >= len(rest) {
		return "", "", false
	}
	return rest[:idx], rest[idx+2:], true
}

// IsNamespaced reports whether a tool name belongs to an MCP server.
func IsNamespaced(name string) bool {
	return strings.HasPrefix(name, prefix)
}

func sanitizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range strings.ToLower(id) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}
