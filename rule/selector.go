package rule

import (
	"fmt"
	"strings"

	"github.com/oselotti/capreplay/trail"
)

// volatileNameLen is the accessible-name length below which a textbox
// name is treated as too volatile to identify the field across reloads
// (placeholder fragments, single characters of typed text).
const volatileNameLen = 4

// StableSelector computes a target reference designed to survive
// re-renders. Raw structural paths are often generic ("div > button")
// and shift across reloads, so they are kept only when they carry
// something identifying; otherwise the accessibility tree wins.
func StableSelector(t trail.Target) string {
	if isSpecific(t.Selector) {
		return t.Selector
	}

	if t.Role != "" {
		name := strings.TrimSpace(t.Name)
		if t.Role == "textbox" && len(name) < volatileNameLen {
			// Short captured names on text fields are usually echoes of
			// the value being typed, not labels.
			return "textbox"
		}
		if name != "" {
			return fmt.Sprintf("%s[name=%q]", t.Role, name)
		}
		return t.Role
	}

	return t.Selector
}

// isSpecific reports whether a raw selector carries an id, class, or
// attribute predicate — enough to survive a re-render on its own.
func isSpecific(sel string) bool {
	return strings.ContainsAny(sel, "#.[")
}
