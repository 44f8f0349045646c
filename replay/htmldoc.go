package replay

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// HTMLDocument is the offline Page implementation: a parsed HTML
// snapshot that records the actions replay performs on it. It backs
// dry runs against saved DOM captures and the engine's tests.
type HTMLDocument struct {
	mu      sync.Mutex
	root    *html.Node
	url     string
	focused *html.Node

	clicks    []string
	submits   []string
	openedURL []string
	values    map[*html.Node]string
	// navTarget is where a navigate step pointed; an offline snapshot
	// cannot actually load it.
	navTarget string
}

// ParseHTML parses an HTML snapshot into an offline document.
func ParseHTML(pageURL string, r io.Reader) (*HTMLDocument, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("replay: parse html: %w", err)
	}
	return &HTMLDocument{
		root:   root,
		url:    pageURL,
		values: make(map[*html.Node]string),
	}, nil
}

func (d *HTMLDocument) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

func (d *HTMLDocument) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navTarget = url
	return nil
}

func (d *HTMLDocument) OpenTab(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openedURL = append(d.openedURL, url)
	return nil
}

func (d *HTMLDocument) Query(selector string) ([]Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Element
	for _, n := range querySelectorAll(d.root, selector) {
		out = append(out, &htmlElement{doc: d, node: n})
	}
	return out, nil
}

func (d *HTMLDocument) Elements() ([]Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Element
	walk(d.root, func(n *html.Node) {
		out = append(out, &htmlElement{doc: d, node: n})
	})
	return out, nil
}

func (d *HTMLDocument) FocusedForm() (Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for n := d.focused; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && n.Data == "form" {
			return &htmlElement{doc: d, node: n}, nil
		}
	}
	return nil, nil
}

func (d *HTMLDocument) FirstForm() (Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var form *html.Node
	walk(d.root, func(n *html.Node) {
		if form == nil && n.Data == "form" {
			form = n
		}
	})
	if form == nil {
		return nil, nil
	}
	return &htmlElement{doc: d, node: form}, nil
}

// Focus marks the first element matching the selector as focused, so a
// later submit step can find its enclosing form.
func (d *HTMLDocument) Focus(selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	matches := querySelectorAll(d.root, selector)
	if len(matches) == 0 {
		return fmt.Errorf("replay: focus %q: no match", selector)
	}
	d.focused = matches[0]
	return nil
}

// Clicks returns the click trail, one describe() entry per click.
func (d *HTMLDocument) Clicks() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.clicks...)
}

// Submits returns the submitted form descriptions, in order.
func (d *HTMLDocument) Submits() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.submits...)
}

// OpenedTabs returns URLs opened in new contexts, in order.
func (d *HTMLDocument) OpenedTabs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.openedURL...)
}

// NavigatedTo returns where a navigate step pointed, if any.
func (d *HTMLDocument) NavigatedTo() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.navTarget
}

// Value returns the current value of the first element matching the
// selector, reflecting SetValue writes.
func (d *HTMLDocument) Value(selector string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	matches := querySelectorAll(d.root, selector)
	if len(matches) == 0 {
		return ""
	}
	if v, ok := d.values[matches[0]]; ok {
		return v
	}
	return getAttr(matches[0], "value")
}

// htmlElement adapts an html.Node to the Element interface.
type htmlElement struct {
	doc  *HTMLDocument
	node *html.Node
}

func (e *htmlElement) Tag() string { return e.node.Data }

func (e *htmlElement) Role() string {
	if r := getAttr(e.node, "role"); r != "" {
		return r
	}
	return implicitRole(e.node)
}

// Name computes the accessible name: aria-label wins, then an
// associated label, then visible text, then placeholder.
func (e *htmlElement) Name() string {
	if v := getAttr(e.node, "aria-label"); v != "" {
		return v
	}
	if id := getAttr(e.node, "id"); id != "" {
		if lbl := labelFor(e.doc.root, id); lbl != "" {
			return lbl
		}
	}
	if t := strings.TrimSpace(collectText(e.node)); t != "" {
		return t
	}
	if v := getAttr(e.node, "value"); v != "" && e.node.Data == "input" {
		return v
	}
	return getAttr(e.node, "placeholder")
}

func (e *htmlElement) Visible() bool {
	for n := e.node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if hasAttr(n, "hidden") {
			return false
		}
		if n.Data == "input" && getAttr(n, "type") == "hidden" {
			return false
		}
		style := strings.ReplaceAll(getAttr(n, "style"), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func (e *htmlElement) Click(_ context.Context) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.clicks = append(e.doc.clicks, describe(e.node))
	e.doc.focused = e.node
	return nil
}

func (e *htmlElement) SetValue(_ context.Context, value string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.values[e.node] = value
	e.doc.focused = e.node
	return nil
}

func (e *htmlElement) Submit(_ context.Context) error {
	form := e.node
	for form != nil && !(form.Type == html.ElementNode && form.Data == "form") {
		form = form.Parent
	}
	if form == nil {
		return ErrNoFormFound
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.submits = append(e.doc.submits, describe(form))
	return nil
}

// implicitRole maps a tag to its implied ARIA role.
func implicitRole(n *html.Node) string {
	switch n.Data {
	case "button":
		return "button"
	case "a":
		if hasAttr(n, "href") {
			return "link"
		}
	case "textarea":
		return "textbox"
	case "select":
		return "combobox"
	case "form":
		return "form"
	case "input":
		switch getAttr(n, "type") {
		case "button", "submit", "reset", "image":
			return "button"
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "hidden":
			return ""
		default:
			return "textbox"
		}
	}
	return ""
}

// labelFor finds the text of a <label for=id>.
func labelFor(root *html.Node, id string) string {
	var out string
	walk(root, func(n *html.Node) {
		if out == "" && n.Data == "label" && getAttr(n, "for") == id {
			out = strings.TrimSpace(collectText(n))
		}
	})
	return out
}

// describe renders a short identity for an action log entry.
func describe(n *html.Node) string {
	if id := getAttr(n, "id"); id != "" {
		return n.Data + "#" + id
	}
	if name := getAttr(n, "name"); name != "" {
		return fmt.Sprintf("%s[name=%s]", n.Data, name)
	}
	return n.Data
}
