// Package driver defines the browser automation capability consumed by the
// session, discovery and pipeline packages.
package driver

import (
	"context"
	"errors"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnsupportedSelector is returned by Find when a driver cannot evaluate a strategy.
	ErrUnsupportedSelector = errors.New("selector strategy not supported by driver")
	// ErrSessionClosed is returned by every call on a closed session.
	ErrSessionClosed = errors.New("driver session closed")
	// ErrStaleElement is returned when an element outlived the page it was found on.
	ErrStaleElement = errors.New("element is no longer attached to the page")
)

// Strategy is the lookup mechanism of a Selector.
type Strategy string

const (
	ByCSS   Strategy = "css"
	ByXPath Strategy = "xpath"
	ByID    Strategy = "id"
	ByName  Strategy = "name"
	// ByText matches the innermost element whose text contains Value.
	ByText Strategy = "text"
)

// Selector is one candidate lookup. Lists of selectors are tried in order.
type Selector struct {
	Strategy Strategy `yaml:"strategy" json:"strategy"`
	Value    string   `yaml:"value" json:"value"`
}

// CSS is shorthand for a css selector.
func CSS(value string) Selector { return Selector{Strategy: ByCSS, Value: value} }

// Text is shorthand for a text selector.
func Text(value string) Selector { return Selector{Strategy: ByText, Value: value} }

// ParseSelector parses "strategy:value". Strings without a known prefix are css.
func ParseSelector(raw string) Selector {
	if i := strings.Index(raw, ":"); i > 0 {
		switch s := Strategy(raw[:i]); s {
		case ByCSS, ByXPath, ByID, ByName, ByText:
			return Selector{Strategy: s, Value: raw[i+1:]}
		}
	}
	return CSS(raw)
}

// ParseSelectors parses every entry with ParseSelector.
func ParseSelectors(raw []string) []Selector {
	out := make([]Selector, 0, len(raw))
	for _, r := range raw {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, ParseSelector(r))
		}
	}
	return out
}

// UnmarshalYAML accepts either a "strategy:value" scalar or a mapping.
func (s *Selector) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = ParseSelector(strings.TrimSpace(node.Value))
		return nil
	}
	type plain Selector
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	if p.Strategy == "" {
		p.Strategy = ByCSS
	}
	*s = Selector(p)
	return nil
}

func (s Selector) String() string {
	return string(s.Strategy) + ":" + s.Value
}

// StealthProfile is applied once when a session is created.
type StealthProfile struct {
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	Headless     bool
	Language     string
	// Scripts are evaluated on every new document before page scripts run.
	Scripts []string
}

// DefaultStealthProfile returns a desktop Chrome profile that hides navigator.webdriver.
func DefaultStealthProfile() StealthProfile {
	return StealthProfile{
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		WindowWidth:  1366,
		WindowHeight: 768,
		Headless:     true,
		Language:     "ko-KR",
		Scripts: []string{
			`Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`,
		},
	}
}

// Driver creates exclusive browser sessions.
type Driver interface {
	NewSession(ctx context.Context, profile StealthProfile) (Session, error)
}

// Session is one browser tab. It must not be used by more than one goroutine at a time.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// WaitReady blocks until the document reports readyState "complete".
	WaitReady(ctx context.Context) error
	// Find returns the first element matching sel. Absence is (nil, false, nil).
	Find(ctx context.Context, sel Selector) (Element, bool, error)
	FindAll(ctx context.Context, sel Selector) ([]Element, error)
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// PageSource returns the serialized document.
	PageSource(ctx context.Context) (string, error)
	// PendingDialog reports the text of an open alert/confirm dialog, if any.
	PendingDialog(ctx context.Context) (string, bool, error)
	AcceptDialog(ctx context.Context) error
	ScrollBy(ctx context.Context, pixels int) error
	// ClearState drops cookies and local/session storage.
	ClearState(ctx context.Context) error
	Close() error
}

// Element is a node found on the current page.
type Element interface {
	Click(ctx context.Context) error
	Type(ctx context.Context, text string) error
	Clear(ctx context.Context) error
	Text(ctx context.Context) (string, error)
	Attr(ctx context.Context, name string) (string, bool, error)
}
