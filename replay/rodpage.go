package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// elemInfoJS computes everything the resolution chain needs about an
// element in one round trip.
const elemInfoJS = `() => {
	const tag = this.tagName.toLowerCase();
	let role = this.getAttribute('role') || '';
	if (!role) {
		if (tag === 'button') role = 'button';
		else if (tag === 'a' && this.hasAttribute('href')) role = 'link';
		else if (tag === 'textarea') role = 'textbox';
		else if (tag === 'select') role = 'combobox';
		else if (tag === 'form') role = 'form';
		else if (tag === 'input') {
			const t = (this.getAttribute('type') || 'text').toLowerCase();
			if (['button','submit','reset','image'].includes(t)) role = 'button';
			else if (t === 'checkbox') role = 'checkbox';
			else if (t === 'radio') role = 'radio';
			else if (t !== 'hidden') role = 'textbox';
		}
	}
	let name = this.getAttribute('aria-label') || '';
	if (!name && this.labels && this.labels.length) name = this.labels[0].textContent.trim();
	if (!name) name = (this.textContent || '').trim();
	if (!name && tag === 'input') name = this.value || this.getAttribute('placeholder') || '';
	const visible = !!(this.offsetWidth || this.offsetHeight || this.getClientRects().length);
	return {tag: tag, role: role, name: name, visible: visible};
}`

// setValueJS assigns through the framework-aware native setter and
// fires input and change, because reactive UI layers only observe
// notifications, not raw property writes.
const setValueJS = `(value) => {
	const proto = this.tagName === 'TEXTAREA'
		? window.HTMLTextAreaElement.prototype
		: window.HTMLInputElement.prototype;
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set) { desc.set.call(this, value); } else { this.value = value; }
	this.dispatchEvent(new Event('input', {bubbles: true}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
}`

const submitJS = `() => {
	const form = this.tagName === 'FORM' ? this : (this.form || this.closest('form'));
	if (!form) return false;
	if (form.requestSubmit) { form.requestSubmit(); } else { form.submit(); }
	return true;
}`

// RodPage is the live Page implementation over a Chrome tab.
type RodPage struct {
	browser *rod.Browser
	page    *rod.Page
	logger  *slog.Logger

	mu      sync.Mutex
	lastURL string
}

// OpenPage creates a stealth tab, navigates it, and wraps it for replay.
func OpenPage(ctx context.Context, browser *rod.Browser, pageURL string, logger *slog.Logger) (*RodPage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	page, err := stealth.Page(browser)
	if err != nil {
		return nil, fmt.Errorf("replay: create tab: %w", err)
	}

	p := &RodPage{browser: browser, page: page, logger: logger, lastURL: pageURL}
	if err := p.Navigate(ctx, pageURL); err != nil {
		page.Close()
		return nil, err
	}
	return p, nil
}

// Page exposes the underlying rod page.
func (p *RodPage) Page() *rod.Page { return p.page }

// Close closes the tab.
func (p *RodPage) Close() error { return p.page.Close() }

func (p *RodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.lastURL
	}
	p.mu.Lock()
	p.lastURL = info.URL
	p.mu.Unlock()
	return info.URL
}

func (p *RodPage) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := p.page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("replay: navigate %s: %w", url, err)
	}
	if err := p.page.Context(navCtx).WaitLoad(); err != nil {
		p.logger.Warn("replay: wait load timeout", "url", url, "error", err)
	}
	p.mu.Lock()
	p.lastURL = url
	p.mu.Unlock()
	return nil
}

func (p *RodPage) OpenTab(ctx context.Context, url string) error {
	tab, err := stealth.Page(p.browser)
	if err != nil {
		return fmt.Errorf("replay: open tab: %w", err)
	}
	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := tab.Context(navCtx).Navigate(url); err != nil {
		tab.Close()
		return fmt.Errorf("replay: open tab %s: %w", url, err)
	}
	return nil
}

func (p *RodPage) Query(selector string) ([]Element, error) {
	els, err := p.page.Elements(selector)
	if err != nil {
		return nil, nil // malformed selectors resolve to no match
	}
	return p.wrapAll(els), nil
}

func (p *RodPage) Elements() ([]Element, error) {
	els, err := p.page.Elements("*")
	if err != nil {
		return nil, fmt.Errorf("replay: enumerate elements: %w", err)
	}
	return p.wrapAll(els), nil
}

func (p *RodPage) wrapAll(els rod.Elements) []Element {
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el, logger: p.logger})
	}
	return out
}

func (p *RodPage) FocusedForm() (Element, error) {
	el, err := p.page.ElementByJS(rod.Eval(
		`() => document.activeElement && document.activeElement.closest('form')`))
	if err != nil {
		return nil, nil
	}
	return &rodElement{el: el, logger: p.logger}, nil
}

func (p *RodPage) FirstForm() (Element, error) {
	els, err := p.page.Elements("form")
	if err != nil || len(els) == 0 {
		return nil, nil
	}
	return &rodElement{el: els[0], logger: p.logger}, nil
}

// rodElement lazily fetches tag/role/name/visibility in one eval and
// memoizes: the resolution chain probes many elements per poll.
type rodElement struct {
	el     *rod.Element
	logger *slog.Logger

	once    sync.Once
	tag     string
	role    string
	name    string
	visible bool
}

func (e *rodElement) load() {
	e.once.Do(func() {
		res, err := e.el.Eval(elemInfoJS)
		if err != nil {
			e.logger.Debug("replay: element info eval failed", "error", err)
			return
		}
		e.tag = res.Value.Get("tag").Str()
		e.role = res.Value.Get("role").Str()
		e.name = res.Value.Get("name").Str()
		e.visible = res.Value.Get("visible").Bool()
	})
}

func (e *rodElement) Tag() string   { e.load(); return e.tag }
func (e *rodElement) Role() string  { e.load(); return e.role }
func (e *rodElement) Name() string  { e.load(); return e.name }
func (e *rodElement) Visible() bool { e.load(); return e.visible }

func (e *rodElement) Click(ctx context.Context) error {
	if err := e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("replay: click: %w", err)
	}
	return nil
}

func (e *rodElement) SetValue(ctx context.Context, value string) error {
	if _, err := e.el.Context(ctx).Eval(setValueJS, value); err != nil {
		return fmt.Errorf("replay: set value: %w", err)
	}
	return nil
}

func (e *rodElement) Submit(ctx context.Context) error {
	res, err := e.el.Context(ctx).Eval(submitJS)
	if err != nil {
		return fmt.Errorf("replay: submit: %w", err)
	}
	if !res.Value.Bool() {
		return ErrNoFormFound
	}
	return nil
}
