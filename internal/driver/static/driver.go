package static

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/YonghoLee79/saramjobhunter/internal/driver"
)

var _ driver.Driver = (*Driver)(nil)

// Driver hands out sessions over one Site.
type Driver struct {
	site *Site

	mu sync.Mutex
	// NewSessionErr, when set, makes NewSession fail.
	NewSessionErr error
	sessions      []*Session
}

// New creates a driver serving site.
func New(site *Site) *Driver {
	return &Driver{site: site}
}

func (d *Driver) NewSession(ctx context.Context, profile driver.StealthProfile) (driver.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.NewSessionErr != nil {
		return nil, d.NewSessionErr
	}
	s := &Session{site: d.site, values: make(map[string]string)}
	s.load(&url.URL{Scheme: "about", Opaque: "blank"}, notFoundPage)
	d.sessions = append(d.sessions, s)
	return s, nil
}

// Sessions returns every session created so far.
func (d *Driver) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Session(nil), d.sessions...)
}

// Session is a single scripted tab.
type Session struct {
	site *Site

	mu      sync.Mutex
	url     *url.URL
	html    string
	doc     *goquery.Document
	gen     int
	values  map[string]string
	dialog  string
	pending bool
	closed  bool

	clears  int
	scrolls int
}

// Clears reports how many times ClearState ran.
func (s *Session) Clears() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

// Closed reports whether Close ran.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Value returns what was typed into (or selected in) the element keyed by id or name.
func (s *Session) Value(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

func (s *Session) load(u *url.URL, html string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader(notFoundPage))
	}
	s.url = u
	s.html = html
	s.doc = doc
	s.gen++
}

// navigate must be called with s.mu held.
func (s *Session) navigate(raw string) error {
	ref, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("static: parse url %q: %w", raw, err)
	}
	target := s.url.ResolveReference(ref)
	s.load(target, s.site.page(target))
	return nil
}

func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return driver.ErrSessionClosed
	}
	return s.navigate(rawURL)
}

func (s *Session) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return driver.ErrSessionClosed
	}
	return ctx.Err()
}

func (s *Session) Find(ctx context.Context, sel driver.Selector) (driver.Element, bool, error) {
	els, err := s.FindAll(ctx, sel)
	if err != nil || len(els) == 0 {
		return nil, false, err
	}
	return els[0], true, nil
}

func (s *Session) FindAll(ctx context.Context, sel driver.Selector) ([]driver.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, driver.ErrSessionClosed
	}

	var found *goquery.Selection
	switch sel.Strategy {
	case driver.ByCSS:
		found = s.doc.Find(sel.Value)
	case driver.ByID:
		found = s.doc.Find(`[id="` + sel.Value + `"]`)
	case driver.ByName:
		found = s.doc.Find(`[name="` + sel.Value + `"]`)
	case driver.ByText:
		found = findByText(s.doc, sel.Value)
	default:
		return nil, driver.ErrUnsupportedSelector
	}

	els := make([]driver.Element, 0, found.Length())
	found.Each(func(_ int, node *goquery.Selection) {
		els = append(els, &element{s: s, sel: node, gen: s.gen})
	})
	return els, nil
}

// findByText returns the innermost elements whose text contains value,
// plus inputs whose value attribute contains it.
func findByText(doc *goquery.Document, value string) *goquery.Selection {
	return doc.Find("body *").FilterFunction(func(_ int, node *goquery.Selection) bool {
		if v, ok := node.Attr("value"); ok && goquery.NodeName(node) == "input" {
			return strings.Contains(v, value)
		}
		if !strings.Contains(node.Text(), value) {
			return false
		}
		inner := false
		node.Children().EachWithBreak(func(_ int, child *goquery.Selection) bool {
			if strings.Contains(child.Text(), value) {
				inner = true
				return false
			}
			return true
		})
		return !inner
	})
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", driver.ErrSessionClosed
	}
	return s.url.String(), nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", driver.ErrSessionClosed
	}
	return strings.TrimSpace(s.doc.Find("title").First().Text()), nil
}

func (s *Session) PageSource(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", driver.ErrSessionClosed
	}
	return s.html, nil
}

func (s *Session) PendingDialog(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, driver.ErrSessionClosed
	}
	return s.dialog, s.pending, nil
}

func (s *Session) AcceptDialog(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return fmt.Errorf("static: no dialog open")
	}
	s.dialog, s.pending = "", false
	return nil
}

func (s *Session) ScrollBy(ctx context.Context, pixels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return driver.ErrSessionClosed
	}
	s.scrolls++
	return nil
}

func (s *Session) ClearState(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return driver.ErrSessionClosed
	}
	s.values = make(map[string]string)
	s.clears++
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type element struct {
	s   *Session
	sel *goquery.Selection
	gen int
}

// check must be called with e.s.mu held.
func (e *element) check() error {
	if e.s.closed {
		return driver.ErrSessionClosed
	}
	if e.gen != e.s.gen {
		return driver.ErrStaleElement
	}
	return nil
}

func (e *element) key() string {
	if id, ok := e.sel.Attr("id"); ok && id != "" {
		return id
	}
	name, _ := e.sel.Attr("name")
	return name
}

func (e *element) Click(ctx context.Context) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if err := e.check(); err != nil {
		return err
	}

	// Clicks bubble to the nearest ancestor that reacts to them.
	for node := e.sel; node.Length() > 0; node = node.Parent() {
		handled, err := e.s.activate(node)
		if handled || err != nil {
			return err
		}
	}

	typ, _ := e.sel.Attr("type")
	switch {
	case typ == "radio":
		value, _ := e.sel.Attr("value")
		if name, ok := e.sel.Attr("name"); ok {
			e.s.values[name] = value
		}
	case typ == "submit" || goquery.NodeName(e.sel) == "button":
		if action, ok := e.sel.Closest("form").Attr("action"); ok && action != "" {
			return e.s.navigate(action)
		}
	}
	return nil
}

// activate must be called with s.mu held.
func (s *Session) activate(node *goquery.Selection) (bool, error) {
	if name, ok := node.Attr("data-action"); ok {
		fn, found := s.site.action(name)
		if !found {
			return true, fmt.Errorf("static: no action %q", name)
		}
		values := make(map[string]string, len(s.values))
		for k, v := range s.values {
			values[k] = v
		}
		res := fn(ActionInput{URL: s.url.String(), Values: values})
		if res.Alert != "" {
			s.dialog, s.pending = res.Alert, true
		}
		if res.Goto != "" {
			return true, s.navigate(res.Goto)
		}
		return true, nil
	}

	handled := false
	if msg, ok := node.Attr("data-alert"); ok {
		s.dialog, s.pending = msg, true
		handled = true
	}
	if target, ok := node.Attr("data-goto"); ok {
		return true, s.navigate(target)
	}
	if href, ok := node.Attr("href"); ok && href != "" && href != "#" && !strings.HasPrefix(href, "javascript:") {
		return true, s.navigate(href)
	}
	return handled, nil
}

func (e *element) Type(ctx context.Context, text string) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if err := e.check(); err != nil {
		return err
	}
	e.s.values[e.key()] += text
	return nil
}

func (e *element) Clear(ctx context.Context) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if err := e.check(); err != nil {
		return err
	}
	e.s.values[e.key()] = ""
	return nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if err := e.check(); err != nil {
		return "", err
	}
	return strings.TrimSpace(e.sel.Text()), nil
}

func (e *element) Attr(ctx context.Context, name string) (string, bool, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if err := e.check(); err != nil {
		return "", false, err
	}
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}
