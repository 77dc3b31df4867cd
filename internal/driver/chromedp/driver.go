// Package chromedp drives a real Chrome instance over the DevTools protocol.
package chromedp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/YonghoLee79/saramjobhunter/internal/driver"
)

var _ driver.Driver = (*Driver)(nil)

// Driver launches one Chrome process per session.
type Driver struct {
	execPath     string
	readyTimeout time.Duration
	logger       *zap.Logger
}

// New creates a Chrome driver. An empty execPath lets chromedp find the browser.
func New(execPath string, readyTimeout time.Duration, logger *zap.Logger) *Driver {
	if readyTimeout <= 0 {
		readyTimeout = 30 * time.Second
	}
	return &Driver{execPath: execPath, readyTimeout: readyTimeout, logger: logger}
}

func (d *Driver) NewSession(ctx context.Context, profile driver.StealthProfile) (driver.Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", profile.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-extensions", true),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	)
	if profile.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(profile.UserAgent))
	}
	if profile.WindowWidth > 0 && profile.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(profile.WindowWidth, profile.WindowHeight))
	}
	if profile.Language != "" {
		opts = append(opts, chromedp.Flag("lang", profile.Language))
	}
	if d.execPath != "" {
		opts = append(opts, chromedp.ExecPath(d.execPath))
	}

	// The browser outlives the caller's ctx; Close tears it down.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		tab:          tabCtx,
		readyTimeout: d.readyTimeout,
		logger:       d.logger,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			s.mu.Lock()
			s.dialog, s.pending = e.Message, true
			s.mu.Unlock()
		}
	})

	start := chromedp.ActionFunc(func(ctx context.Context) error {
		for _, script := range profile.Scripts {
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err := s.run(ctx, start); err != nil {
		s.cancel()
		return nil, fmt.Errorf("chromedp: start browser: %w", err)
	}
	return s, nil
}

// Session is one Chrome tab.
type Session struct {
	tab          context.Context
	cancel       context.CancelFunc
	readyTimeout time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	dialog  string
	pending bool
	closed  bool
}

// run executes actions on the tab, giving up early when ctx is cancelled.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return driver.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(s.tab, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("chromedp: navigate %s: %w", url, err)
	}
	return nil
}

func (s *Session) WaitReady(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.readyTimeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		var state string
		if err := s.run(waitCtx, chromedp.Evaluate(`document.readyState`, &state)); err != nil {
			return fmt.Errorf("chromedp: ready state: %w", err)
		}
		if state == "complete" {
			return nil
		}
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("chromedp: ready state: %w", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Session) Find(ctx context.Context, sel driver.Selector) (driver.Element, bool, error) {
	els, err := s.FindAll(ctx, sel)
	if err != nil || len(els) == 0 {
		return nil, false, err
	}
	return els[0], true, nil
}

func (s *Session) FindAll(ctx context.Context, sel driver.Selector) ([]driver.Element, error) {
	query, opt, err := queryFor(sel)
	if err != nil {
		return nil, err
	}

	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(query, &nodes, opt, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("chromedp: find %s: %w", sel, err)
	}
	els := make([]driver.Element, 0, len(nodes))
	for _, n := range nodes {
		els = append(els, &element{s: s, node: n})
	}
	return els, nil
}

// queryFor maps a selector onto a chromedp query.
func queryFor(sel driver.Selector) (string, chromedp.QueryOption, error) {
	switch sel.Strategy {
	case driver.ByCSS:
		return sel.Value, chromedp.ByQueryAll, nil
	case driver.ByXPath:
		return sel.Value, chromedp.BySearch, nil
	case driver.ByID:
		return `[id="` + sel.Value + `"]`, chromedp.ByQueryAll, nil
	case driver.ByName:
		return `[name="` + sel.Value + `"]`, chromedp.ByQueryAll, nil
	case driver.ByText:
		literal := xpathLiteral(sel.Value)
		return `//*[contains(normalize-space(text()), ` + literal + `)] | //input[contains(@value, ` + literal + `)]`,
			chromedp.BySearch, nil
	default:
		return "", nil, driver.ErrUnsupportedSelector
	}
}

func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	return `"` + s + `"`
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("chromedp: location: %w", err)
	}
	return url, nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("chromedp: title: %w", err)
	}
	return title, nil
}

func (s *Session) PageSource(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.Evaluate(`document.documentElement.outerHTML`, &html)); err != nil {
		return "", fmt.Errorf("chromedp: page source: %w", err)
	}
	return html, nil
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
	if err := s.run(ctx, page.HandleJavaScriptDialog(true)); err != nil {
		return fmt.Errorf("chromedp: accept dialog: %w", err)
	}
	s.mu.Lock()
	s.dialog, s.pending = "", false
	s.mu.Unlock()
	return nil
}

func (s *Session) ScrollBy(ctx context.Context, pixels int) error {
	var ok bool
	js := fmt.Sprintf(`window.scrollBy(0, %d); true`, pixels)
	if err := s.run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("chromedp: scroll: %w", err)
	}
	return nil
}

func (s *Session) ClearState(ctx context.Context) error {
	var ok bool
	err := s.run(ctx,
		network.ClearBrowserCookies(),
		chromedp.Evaluate(`(function(){ try { localStorage.clear(); sessionStorage.clear(); } catch (e) {} return true; })()`, &ok),
	)
	if err != nil {
		return fmt.Errorf("chromedp: clear state: %w", err)
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.logger.Debug("Browser session closed")
	return nil
}

type element struct {
	s    *Session
	node *cdp.Node
}

func (e *element) ids() []cdp.NodeID {
	return []cdp.NodeID{e.node.NodeID}
}

func (e *element) Click(ctx context.Context) error {
	if err := e.s.run(ctx, chromedp.ScrollIntoView(e.ids(), chromedp.ByNodeID), chromedp.Click(e.ids(), chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("chromedp: click: %w", err)
	}
	return nil
}

func (e *element) Type(ctx context.Context, text string) error {
	if err := e.s.run(ctx, chromedp.SendKeys(e.ids(), text, chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("chromedp: type: %w", err)
	}
	return nil
}

func (e *element) Clear(ctx context.Context) error {
	if err := e.s.run(ctx, chromedp.Clear(e.ids(), chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("chromedp: clear: %w", err)
	}
	return nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	var text string
	if err := e.s.run(ctx, chromedp.Text(e.ids(), &text, chromedp.ByNodeID)); err != nil {
		return "", fmt.Errorf("chromedp: text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (e *element) Attr(ctx context.Context, name string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	if err := e.s.run(ctx, chromedp.AttributeValue(e.ids(), name, &value, &ok, chromedp.ByNodeID)); err != nil {
		return "", false, fmt.Errorf("chromedp: attribute %s: %w", name, err)
	}
	return value, ok, nil
}
