// Package session authenticates a browser session against the recruiting site.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/YonghoLee79/saramjobhunter/internal/domain"
	"github.com/YonghoLee79/saramjobhunter/internal/driver"
	"github.com/YonghoLee79/saramjobhunter/internal/governor"
	"github.com/YonghoLee79/saramjobhunter/internal/metrics"
)

// State is a node of the authentication state machine.
type State string

const (
	StateIdle           State = "idle"
	StateDriverReady    State = "driver_ready"
	StatePageLoaded     State = "page_loaded"
	StateFormLocated    State = "form_located"
	StateSubmitted      State = "submitted"
	StateVerified       State = "verified"
	StateFailed         State = "failed"
	StateManualFallback State = "awaiting_manual_login"
)

// StateObserver is told about every transition.
type StateObserver func(State)

// Selectors are the candidate lookups for the login form, tried in order.
type Selectors struct {
	Username []driver.Selector `yaml:"username"`
	Password []driver.Selector `yaml:"password"`
	Submit   []driver.Selector `yaml:"submit"`
}

// DefaultSelectors are the login form lookups for the Saramin login page.
func DefaultSelectors() Selectors {
	return Selectors{
		Username: driver.ParseSelectors([]string{
			"#loginId", "[name='id']", "input[placeholder*='아이디']", "input[type='text']",
		}),
		Password: driver.ParseSelectors([]string{
			"#password", "[name='password']", "input[type='password']",
		}),
		Submit: driver.ParseSelectors([]string{
			".btn_login", "button[type='submit']", "text:로그인", "input[type='submit']", ".login-btn", "#loginBtn",
		}),
	}
}

// Delays are the camouflage pauses around a login attempt.
type Delays struct {
	PreNavigate      governor.Range
	BetweenAttempts  governor.Range
	TransientBackoff governor.Range
	AfterSubmit      governor.Range
	Keystroke        governor.Range
	KeystrokeLong    governor.Range
}

// DefaultDelays mirrors human pacing.
func DefaultDelays() Delays {
	return Delays{
		PreNavigate:      governor.Range{Min: 2 * time.Second, Max: 4 * time.Second},
		BetweenAttempts:  governor.Range{Min: 5 * time.Second, Max: 10 * time.Second},
		TransientBackoff: governor.Range{Min: 20 * time.Second, Max: 30 * time.Second},
		AfterSubmit:      governor.Range{Min: 3 * time.Second, Max: 5 * time.Second},
		Keystroke:        governor.Range{Min: 20 * time.Millisecond, Max: 120 * time.Millisecond},
		KeystrokeLong:    governor.Range{Min: 100 * time.Millisecond, Max: 300 * time.Millisecond},
	}
}

// Saramin entry points.
const (
	DefaultHomeURL  = "https://www.saramin.co.kr"
	DefaultLoginURL = "https://www.saramin.co.kr/zf_user/auth/login"
)

// Config controls the login flow.
type Config struct {
	LoginURL string
	// HomeURL, when set, is visited and scrolled before the login page.
	HomeURL     string
	MaxAttempts int
	ElementWait time.Duration
	// LoginMarkers identify the login page in a URL.
	LoginMarkers []string
	// TransientPhrases mark a dialog as a temporary server problem.
	TransientPhrases []string
	ManualFallback   bool
	// ManualTimeout bounds the wait for an operator. Zero waits until resumed or cancelled.
	ManualTimeout time.Duration
	Selectors     Selectors
	Delays        Delays
}

// DefaultConfig returns the Saramin login flow.
func DefaultConfig() Config {
	return Config{
		LoginURL:         DefaultLoginURL,
		HomeURL:          DefaultHomeURL,
		MaxAttempts:      3,
		ElementWait:      10 * time.Second,
		LoginMarkers:     []string{"login"},
		TransientPhrases: []string{"내부 서버 문제", "internal server"},
		Selectors:        DefaultSelectors(),
		Delays:           DefaultDelays(),
	}
}

var (
	errFormNotFound    = errors.New("login form not found")
	errTransientServer = errors.New("transient server error")
	errStillOnLogin    = errors.New("still on login page after submit")
)

// Controller drives the authentication state machine. One Controller serves
// one run at a time.
type Controller struct {
	drv      driver.Driver
	profile  driver.StealthProfile
	cfg      Config
	sleeper  governor.Sleeper
	observer StateObserver
	logger   *zap.Logger

	mu     sync.Mutex
	state  State
	resume chan struct{}
}

// NewController creates a session controller.
func NewController(
	drv driver.Driver,
	profile driver.StealthProfile,
	cfg Config,
	sleeper governor.Sleeper,
	observer StateObserver,
	logger *zap.Logger,
) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if len(cfg.LoginMarkers) == 0 {
		cfg.LoginMarkers = []string{"login"}
	}
	return &Controller{
		drv:      drv,
		profile:  profile,
		cfg:      cfg,
		sleeper:  sleeper,
		observer: observer,
		logger:   logger,
		state:    StateIdle,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("Login state", zap.String("state", string(s)))
	if c.observer != nil {
		c.observer(s)
	}
}

// ResumeManualLogin signals that the operator finished logging in by hand.
func (c *Controller) ResumeManualLogin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resume == nil {
		return domain.ErrNotAwaitingManualLogin
	}
	select {
	case c.resume <- struct{}{}:
	default:
	}
	return nil
}

// Authenticate acquires a browser session and logs in. On success the caller
// owns the returned session and must Close it.
func (c *Controller) Authenticate(ctx context.Context, creds domain.Credentials) (driver.Session, error) {
	c.setState(StateIdle)

	sess, err := c.drv.NewSession(ctx, c.profile)
	if err != nil {
		c.setState(StateFailed)
		return nil, fmt.Errorf("%w: %w", domain.ErrDriverUnavailable, err)
	}
	c.setState(StateDriverReady)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			sess.Close()
			return nil, err
		}

		if attempt > 1 {
			if err := sess.ClearState(ctx); err != nil {
				c.logger.Warn("Failed to clear browser state", zap.Error(err))
			}
			backoff := governor.Range{
				Min: c.cfg.Delays.BetweenAttempts.Min * time.Duration(attempt-1),
				Max: c.cfg.Delays.BetweenAttempts.Max * time.Duration(attempt-1),
			}
			if err := governor.Pause(ctx, c.sleeper, backoff); err != nil {
				sess.Close()
				return nil, err
			}
		}

		c.logger.Info("Login attempt", zap.Int("attempt", attempt), zap.Int("max_attempts", c.cfg.MaxAttempts))
		err := c.attempt(ctx, sess, creds)
		if err == nil {
			metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
			c.setState(StateVerified)
			return sess, nil
		}
		if ctx.Err() != nil {
			sess.Close()
			return nil, ctx.Err()
		}

		metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
		c.logger.Warn("Login attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		lastErr = err

		if errors.Is(err, errTransientServer) {
			if err := governor.Pause(ctx, c.sleeper, c.cfg.Delays.TransientBackoff); err != nil {
				sess.Close()
				return nil, err
			}
		}
	}

	c.setState(StateFailed)
	sess.Close()
	return nil, fmt.Errorf("%w after %d attempts: %w", domain.ErrAuthenticationFailed, c.cfg.MaxAttempts, lastErr)
}

// attempt runs PageLoaded through Verified once.
func (c *Controller) attempt(ctx context.Context, sess driver.Session, creds domain.Credentials) error {
	if err := governor.Pause(ctx, c.sleeper, c.cfg.Delays.PreNavigate); err != nil {
		return err
	}

	if c.cfg.HomeURL != "" {
		if err := c.warmUp(ctx, sess); err != nil {
			c.logger.Debug("Home page warm-up failed", zap.Error(err))
		}
	}

	if err := sess.Navigate(ctx, c.cfg.LoginURL); err != nil {
		return err
	}
	if err := sess.WaitReady(ctx); err != nil {
		return err
	}
	c.setState(StatePageLoaded)

	if err := c.checkDialog(ctx, sess); err != nil {
		return err
	}

	username, _, okUser, err := driver.Locate(ctx, sess, c.cfg.Selectors.Username, c.cfg.ElementWait)
	if err != nil {
		return err
	}
	password, _, okPass, err := driver.Locate(ctx, sess, c.cfg.Selectors.Password, c.cfg.ElementWait)
	if err != nil {
		return err
	}
	if !okUser || !okPass {
		return c.formMissing(ctx, sess)
	}
	c.setState(StateFormLocated)

	if err := c.typeHuman(ctx, username, creds.Username); err != nil {
		return err
	}
	if err := c.typeHuman(ctx, password, creds.Password); err != nil {
		return err
	}
	if err := c.checkDialog(ctx, sess); err != nil {
		return err
	}

	submit, _, ok, err := driver.Locate(ctx, sess, c.cfg.Selectors.Submit, c.cfg.ElementWait)
	if err != nil {
		return err
	}
	if !ok {
		return c.formMissing(ctx, sess)
	}
	if err := submit.Click(ctx); err != nil {
		return fmt.Errorf("click submit: %w", err)
	}
	c.setState(StateSubmitted)

	if err := governor.Pause(ctx, c.sleeper, c.cfg.Delays.AfterSubmit); err != nil {
		return err
	}
	if err := c.checkDialog(ctx, sess); err != nil {
		return err
	}
	return c.verify(ctx, sess)
}

func (c *Controller) warmUp(ctx context.Context, sess driver.Session) error {
	if err := sess.Navigate(ctx, c.cfg.HomeURL); err != nil {
		return err
	}
	if err := sess.WaitReady(ctx); err != nil {
		return err
	}
	if err := sess.ScrollBy(ctx, 400); err != nil {
		return err
	}
	return governor.Pause(ctx, c.sleeper, c.cfg.Delays.PreNavigate)
}

// formMissing hands over to the operator when enabled, else fails the attempt.
func (c *Controller) formMissing(ctx context.Context, sess driver.Session) error {
	current, _ := sess.CurrentURL(ctx)
	if !c.cfg.ManualFallback {
		return fmt.Errorf("%w at %s", errFormNotFound, current)
	}
	c.logger.Warn("Login form not found, waiting for manual login", zap.String("url", current))
	return c.awaitManualLogin(ctx, sess)
}

func (c *Controller) awaitManualLogin(ctx context.Context, sess driver.Session) error {
	resume := make(chan struct{}, 1)
	c.mu.Lock()
	c.resume = resume
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.resume = nil
		c.mu.Unlock()
	}()
	c.setState(StateManualFallback)

	var timeout <-chan time.Time
	if c.cfg.ManualTimeout > 0 {
		t := time.NewTimer(c.cfg.ManualTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-resume:
	case <-timeout:
		return domain.ErrManualLoginTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
	c.logger.Info("Manual login resumed")
	return c.verify(ctx, sess)
}

// checkDialog accepts any open dialog. Transient server messages map to
// errTransientServer, anything else fails the attempt.
func (c *Controller) checkDialog(ctx context.Context, sess driver.Session) error {
	text, open, err := sess.PendingDialog(ctx)
	if err != nil || !open {
		return err
	}
	if err := sess.AcceptDialog(ctx); err != nil {
		return err
	}
	for _, phrase := range c.cfg.TransientPhrases {
		if strings.Contains(strings.ToLower(text), strings.ToLower(phrase)) {
			return fmt.Errorf("%w: %s", errTransientServer, text)
		}
	}
	return fmt.Errorf("unexpected dialog: %s", text)
}

func (c *Controller) verify(ctx context.Context, sess driver.Session) error {
	current, err := sess.CurrentURL(ctx)
	if err != nil {
		return err
	}
	if c.isLoginURL(current) {
		return fmt.Errorf("%w: %s", errStillOnLogin, current)
	}
	return nil
}

func (c *Controller) isLoginURL(u string) bool {
	lower := strings.ToLower(u)
	for _, m := range c.cfg.LoginMarkers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// typeHuman enters text one rune at a time with a longer pause every third rune.
func (c *Controller) typeHuman(ctx context.Context, el driver.Element, text string) error {
	if err := el.Clear(ctx); err != nil {
		return err
	}
	i := 0
	for _, r := range text {
		i++
		if err := el.Type(ctx, string(r)); err != nil {
			return err
		}
		pause := c.cfg.Delays.Keystroke
		if i%3 == 0 {
			pause = c.cfg.Delays.KeystrokeLong
		}
		if err := governor.Pause(ctx, c.sleeper, pause); err != nil {
			return err
		}
	}
	return nil
}
