package replay

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// roleNameRef matches references of the form role[name="..."] produced
// by the rule deriver.
var roleNameRef = regexp.MustCompile(`^([a-zA-Z]+)\[name="(.*)"\]$`)

// roleTags maps an ARIA role to the tags tried by the bare-tag fallback.
var roleTags = map[string][]string{
	"button":   {"button", "input"},
	"textbox":  {"input", "textarea"},
	"link":     {"a"},
	"combobox": {"select"},
	"checkbox": {"input"},
	"radio":    {"input"},
	"form":     {"form"},
}

// resolve finds the element a target reference points at, polling until
// the deadline. The chain, in order: id lookup, role+accessible-name
// among visible elements, generic role, raw structural selector,
// bare-tag fallback.
func resolve(ctx context.Context, page Page, ref string, poll, timeout time.Duration) (Element, error) {
	deadline := time.Now().Add(timeout)
	for {
		if el, ok := tryResolve(page, ref); ok {
			return el, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%q: %w", ref, ErrTargetNotFound)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

func tryResolve(page Page, ref string) (Element, bool) {
	// 1. Id lookup.
	if strings.HasPrefix(ref, "#") {
		if el, ok := firstVisible(page, ref); ok {
			return el, true
		}
	}

	role := ""
	if m := roleNameRef.FindStringSubmatch(ref); m != nil {
		// 2. Role + accessible name among currently visible elements.
		role = m[1]
		if el, ok := byRole(page, role, m[2]); ok {
			return el, true
		}
	} else if isBareRole(ref) {
		// 3. Generic role, no name to match.
		role = ref
		if el, ok := byRole(page, role, ""); ok {
			return el, true
		}
	}

	// 4. Raw structural selector.
	if !isBareRole(ref) {
		if el, ok := firstVisible(page, ref); ok {
			return el, true
		}
	}

	// 5. Bare-tag fallback: first visible element of the tag implied by
	// the role, or by the reference's leading tag token.
	for _, tag := range fallbackTags(ref, role) {
		if el, ok := firstVisible(page, tag); ok {
			return el, true
		}
	}
	return nil, false
}

// byRole scans visible elements for a role match; name, when given,
// must match the accessible name exactly.
func byRole(page Page, role, name string) (Element, bool) {
	els, err := page.Elements()
	if err != nil {
		return nil, false
	}
	for _, el := range els {
		if !el.Visible() || el.Role() != role {
			continue
		}
		if name != "" && el.Name() != name {
			continue
		}
		return el, true
	}
	return nil, false
}

func firstVisible(page Page, selector string) (Element, bool) {
	els, err := page.Query(selector)
	if err != nil {
		return nil, false
	}
	for _, el := range els {
		if el.Visible() {
			return el, true
		}
	}
	return nil, false
}

// isBareRole reports whether the reference is a single role word with
// no structural syntax.
func isBareRole(ref string) bool {
	if ref == "" || strings.ContainsAny(ref, "#.[]> :") {
		return false
	}
	_, known := roleTags[ref]
	return known
}

func fallbackTags(ref, role string) []string {
	if tags, ok := roleTags[role]; ok {
		return tags
	}
	// "div > button" falls back to its last tag token, "#send" has none.
	fields := strings.Fields(ref)
	if len(fields) > 0 {
		last := fields[len(fields)-1]
		if !strings.ContainsAny(last, "#.[>") {
			return []string{last}
		}
	}
	return nil
}
