// Package trail defines the structured types emitted by the capture
// pipeline. These are the public API contract: any consumer (rule
// derivation, correlation, custom pipelines) imports this package to
// receive and process captured interactions.
package trail

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
)

// Kind is the type of interaction observed.
type Kind string

const (
	KindNavigate Kind = "navigate" // page URL changed
	KindClick    Kind = "click"    // pointer activation
	KindInput    Kind = "input"    // value typed or set on a field
	KindSubmit   Kind = "submit"   // form submission
	KindKey      Kind = "key"      // standalone key press
	KindScroll   Kind = "scroll"   // viewport scroll
)

// Target describes the element an interaction landed on. Role and Name
// follow the accessibility tree; Selector is the raw structural path the
// capture layer computed at the time of the event.
type Target struct {
	Role     string `json:"role,omitempty"`
	Name     string `json:"name,omitempty"`
	Selector string `json:"selector,omitempty"`
}

// Event is a single observed interaction. Immutable once recorded.
type Event struct {
	Kind        Kind   `json:"kind"`
	TimestampMS int64  `json:"timestamp_ms"` // epoch milliseconds
	Target      Target `json:"target"`
	Value       string `json:"value,omitempty"`
	Redacted    bool   `json:"redacted,omitempty"`
	URL         string `json:"url"`
	SourceID    string `json:"source_id"`
	SessionID   string `json:"session_id"`
	Fingerprint string `json:"fingerprint"`
}

// ComputeFingerprint derives the identity of a logical interaction
// instance: kind, structural selector, value, and the page URL stripped
// of its fragment. Two observation layers seeing the same action produce
// the same fingerprint, which is what the capture deduper keys on.
func ComputeFingerprint(ev Event) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", ev.Kind, ev.Target.Selector, ev.Value, stripFragment(ev.URL))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func stripFragment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	return u.String()
}
