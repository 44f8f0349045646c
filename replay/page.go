// Package replay executes derived rules against a page, live via a
// Chrome tab or offline against a parsed HTML document.
package replay

import "context"

// Element is one actionable node on a page.
type Element interface {
	// Tag is the lowercase tag name.
	Tag() string
	// Role is the ARIA role, explicit or implied by the tag.
	Role() string
	// Name is the accessible name (aria-label, label text, visible text).
	Name() string
	// Visible reports whether the element currently renders.
	Visible() bool

	Click(ctx context.Context) error
	// SetValue assigns a field value through the framework-aware value
	// setter and fires input and change notifications, so reactive UI
	// layers observe the write.
	SetValue(ctx context.Context, value string) error
	// Submit submits the element's enclosing form (or the element
	// itself when it is a form).
	Submit(ctx context.Context) error
}

// Page is the surface the engine drives. Implemented by the rod-backed
// live tab and the offline HTML document.
type Page interface {
	// URL is the current page URL.
	URL() string
	// Navigate loads a new URL in this execution context.
	Navigate(ctx context.Context, url string) error
	// OpenTab opens a URL in a fresh context without leaving this one.
	OpenTab(ctx context.Context, url string) error

	// Query returns elements matching a structural selector, document order.
	Query(selector string) ([]Element, error)
	// Elements returns every element on the page, document order.
	Elements() ([]Element, error)
	// FocusedForm returns the enclosing form of the focused element, or
	// (nil, nil) when nothing useful has focus.
	FocusedForm() (Element, error)
	// FirstForm returns the first form in the document, or (nil, nil).
	FirstForm() (Element, error)
}
