// Package static is a goquery-backed driver that serves canned HTML pages.
// It replays saved pages offline and drives the automation packages in tests.
package static

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const notFoundPage = `<html><head><title>404</title></head><body></body></html>`

// ActionInput is what a scripted action sees when its element is clicked.
type ActionInput struct {
	URL string
	// Values holds typed text and selected radios keyed by element id or name.
	Values map[string]string
}

// ActionResult tells the session what happened after a click.
type ActionResult struct {
	Goto  string
	Alert string
}

// Action scripts the response to clicking an element carrying data-action.
type Action func(in ActionInput) ActionResult

// Site is the set of pages and actions a Driver serves.
type Site struct {
	mu      sync.Mutex
	pages   map[string]string
	actions map[string]Action
	visits  []string
}

// NewSite returns an empty site.
func NewSite() *Site {
	return &Site{
		pages:   make(map[string]string),
		actions: make(map[string]Action),
	}
}

// Handle registers html for an absolute URL. A URL without a query string
// also answers requests for the same path with any query.
func (s *Site) Handle(rawURL, html string) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[rawURL] = html
	return s
}

// OnAction registers fn for elements with data-action="name".
func (s *Site) OnAction(name string, fn Action) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[name] = fn
	return s
}

// Visits returns every URL navigated to, in order.
func (s *Site) Visits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visits...)
}

func (s *Site) page(u *url.URL) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits = append(s.visits, u.String())

	if html, ok := s.pages[u.String()]; ok {
		return html
	}
	bare := *u
	bare.RawQuery = ""
	bare.Fragment = ""
	if html, ok := s.pages[bare.String()]; ok {
		return html
	}
	return notFoundPage
}

func (s *Site) action(name string) (Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn, ok := s.actions[name]
	return fn, ok
}

type manifest struct {
	Pages []struct {
		URL  string `yaml:"url"`
		File string `yaml:"file"`
	} `yaml:"pages"`
}

// LoadManifest builds a site from a YAML manifest listing url/file pairs.
// File paths are relative to the manifest.
func LoadManifest(path string) (*Site, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("static: read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("static: parse manifest: %w", err)
	}

	site := NewSite()
	dir := filepath.Dir(path)
	for _, p := range m.Pages {
		html, err := os.ReadFile(filepath.Join(dir, p.File))
		if err != nil {
			return nil, fmt.Errorf("static: read page %s: %w", p.File, err)
		}
		site.Handle(p.URL, string(html))
	}
	return site, nil
}
