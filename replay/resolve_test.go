package replay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

const samplePage = `<!DOCTYPE html>
<html><body>
  <div id="wrap">
    <label for="q">Search query</label>
    <input id="q" type="text" placeholder="type here">
    <div><button>Send</button></div>
    <a href="/docs">Docs</a>
    <input type="hidden" name="csrf" value="tok">
    <button style="display:none">Ghost</button>
  </div>
  <form name="main">
    <input name="email" type="email">
    <button type="submit">Go</button>
  </form>
</body></html>`

func sampleDoc(t *testing.T) *HTMLDocument {
	t.Helper()
	doc, err := ParseHTML("https://example.com/app", strings.NewReader(samplePage))
	if err != nil {
		t.Fatalf("ParseHTML: %v", err)
	}
	return doc
}

func quickResolve(t *testing.T, doc *HTMLDocument, ref string) (Element, error) {
	t.Helper()
	return resolve(context.Background(), doc, ref, time.Millisecond, 10*time.Millisecond)
}

func TestResolve_IDLookup(t *testing.T) {
	doc := sampleDoc(t)
	el, err := quickResolve(t, doc, "#q")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if el.Tag() != "input" {
		t.Fatalf("tag = %q", el.Tag())
	}
}

func TestResolve_RoleAndName(t *testing.T) {
	// WHAT: button[name="Send"] finds the button whose accessible name
	// is its text content, even though its structural path is generic.
	doc := sampleDoc(t)
	el, err := quickResolve(t, doc, `button[name="Send"]`)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if el.Role() != "button" || el.Name() != "Send" {
		t.Fatalf("role=%q name=%q", el.Role(), el.Name())
	}
}

func TestResolve_RoleNameViaLabel(t *testing.T) {
	doc := sampleDoc(t)
	el, err := quickResolve(t, doc, `textbox[name="Search query"]`)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if el.Tag() != "input" || el.Role() != "textbox" {
		t.Fatalf("tag=%q role=%q", el.Tag(), el.Role())
	}
}

func TestResolve_GenericRole(t *testing.T) {
	// First visible textbox. The hidden csrf input is not a textbox and
	// never visible.
	doc := sampleDoc(t)
	el, err := quickResolve(t, doc, "textbox")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if el.Name() != "Search query" {
		t.Fatalf("resolved wrong textbox: name=%q", el.Name())
	}
}

func TestResolve_RawSelector(t *testing.T) {
	doc := sampleDoc(t)
	el, err := quickResolve(t, doc, "div > a")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if el.Role() != "link" {
		t.Fatalf("role = %q", el.Role())
	}
}

func TestResolve_SkipsInvisible(t *testing.T) {
	// The display:none button must lose to a visible one even though it
	// appears first for some selectors.
	doc := sampleDoc(t)
	el, err := quickResolve(t, doc, `button[name="Ghost"]`)
	if err == nil && el.Name() == "Ghost" {
		t.Fatalf("resolved an invisible element")
	}
}

func TestResolve_NotFound(t *testing.T) {
	doc := sampleDoc(t)
	_, err := quickResolve(t, doc, "#does-not-exist")
	if !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("err = %v, want ErrTargetNotFound", err)
	}
}

func TestResolve_PollsUntilAppearing(t *testing.T) {
	// WHAT: an element that appears after the first attempt is still
	// found within the polling budget.
	doc, err := ParseHTML("https://example.com", strings.NewReader(`<html><body></body></html>`))
	if err != nil {
		t.Fatalf("ParseHTML: %v", err)
	}

	late := sampleDoc(t)
	go func() {
		time.Sleep(20 * time.Millisecond)
		doc.mu.Lock()
		doc.root = late.root
		doc.mu.Unlock()
	}()

	el, err := resolve(context.Background(), doc, "#q", 5*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if el.Tag() != "input" {
		t.Fatalf("tag = %q", el.Tag())
	}
}

func TestSameDestination(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"https://example.com/a?x=1", "https://example.com/a?x=1#frag", true},
		{"https://example.com/a#one", "https://example.com/a#two", true},
		{"https://example.com/a", "https://example.com/b", false},
		{"https://example.com/a?x=1", "https://example.com/a?x=2", false},
		{"https://example.com/a", "http://example.com/a", false},
	}
	for _, tc := range cases {
		if got := sameDestination(tc.a, tc.b); got != tc.want {
			t.Errorf("sameDestination(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
