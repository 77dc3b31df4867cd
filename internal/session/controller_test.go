package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/YonghoLee79/saramjobhunter/internal/domain"
	"github.com/YonghoLee79/saramjobhunter/internal/driver"
	"github.com/YonghoLee79/saramjobhunter/internal/driver/static"
	"github.com/YonghoLee79/saramjobhunter/internal/governor"
)

const (
	loginURL = "https://www.saramin.co.kr/zf_user/auth/login"
	mainURL  = "https://www.saramin.co.kr/zf_user/"
)

const loginPage = `<html><head><title>로그인 | 사람인</title></head><body>
<form><input id="loginId" type="text"><input id="password" type="password">
<button class="btn_login" data-action="login">로그인</button></form></body></html>`

type recordingSleeper struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.slept = append(r.slept, d)
	r.mu.Unlock()
	return ctx.Err()
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) observe(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) seen(s State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.states {
		if got == s {
			return true
		}
	}
	return false
}

func testConfig() Config {
	return Config{
		LoginURL:         loginURL,
		MaxAttempts:      3,
		TransientPhrases: []string{"내부 서버 문제"},
		Selectors:        DefaultSelectors(),
		Delays:           DefaultDelays(),
	}
}

func newController(drv driver.Driver, cfg Config, sleeper governor.Sleeper, log *stateLog) *Controller {
	var observer StateObserver
	if log != nil {
		observer = log.observe
	}
	return NewController(drv, driver.DefaultStealthProfile(), cfg, sleeper, observer, zap.NewNop())
}

func TestAuthenticate_Success(t *testing.T) {
	site := static.NewSite().
		Handle(loginURL, loginPage).
		Handle(mainURL, `<html><body>main</body></html>`).
		OnAction("login", func(in static.ActionInput) static.ActionResult {
			if in.Values["loginId"] == "hunter" && in.Values["password"] == "pw!23" {
				return static.ActionResult{Goto: mainURL}
			}
			return static.ActionResult{Goto: loginURL}
		})
	drv := static.New(site)
	log := &stateLog{}
	c := newController(drv, testConfig(), &recordingSleeper{}, log)

	sess, err := c.Authenticate(context.Background(), domain.Credentials{Username: "hunter", Password: "pw!23"})
	require.NoError(t, err)
	require.NotNil(t, sess)
	defer sess.Close()

	assert.Equal(t, StateVerified, c.State())
	for _, s := range []State{StateDriverReady, StatePageLoaded, StateFormLocated, StateSubmitted, StateVerified} {
		assert.True(t, log.seen(s), "expected state %s", s)
	}
	assert.Equal(t, "hunter", drv.Sessions()[0].Value("loginId"))
}

func TestAuthenticate_StopsAfterExactlyThreeAttempts(t *testing.T) {
	var mu sync.Mutex
	submits := 0
	site := static.NewSite().
		Handle(loginURL, loginPage).
		OnAction("login", func(in static.ActionInput) static.ActionResult {
			mu.Lock()
			submits++
			mu.Unlock()
			return static.ActionResult{Goto: loginURL}
		})
	drv := static.New(site)
	c := newController(drv, testConfig(), &recordingSleeper{}, nil)

	sess, err := c.Authenticate(context.Background(), domain.Credentials{Username: "u", Password: "p"})
	assert.Nil(t, sess)
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	assert.Equal(t, 3, submits)
	assert.Equal(t, StateFailed, c.State())

	s := drv.Sessions()[0]
	assert.Equal(t, 2, s.Clears(), "every retry clears browser state")
	assert.True(t, s.Closed())
}

func TestAuthenticate_TransientAlertBacksOffAndRetries(t *testing.T) {
	calls := 0
	site := static.NewSite().
		Handle(loginURL, loginPage).
		Handle(mainURL, `<html><body>main</body></html>`).
		OnAction("login", func(in static.ActionInput) static.ActionResult {
			calls++
			if calls == 1 {
				return static.ActionResult{Alert: "내부 서버 문제로 잠시 후 다시 시도해주세요"}
			}
			return static.ActionResult{Goto: mainURL}
		})
	sleeper := &recordingSleeper{}
	c := newController(static.New(site), testConfig(), sleeper, nil)

	sess, err := c.Authenticate(context.Background(), domain.Credentials{Username: "u", Password: "p"})
	require.NoError(t, err)
	defer sess.Close()
	assert.Equal(t, 2, calls)

	backedOff := false
	for _, d := range sleeper.slept {
		if d >= 20*time.Second && d <= 30*time.Second {
			backedOff = true
		}
	}
	assert.True(t, backedOff, "expected a 20-30s backoff after the server alert")
}

func TestAuthenticate_UnexpectedAlertFailsAttempt(t *testing.T) {
	calls := 0
	site := static.NewSite().
		Handle(loginURL, loginPage).
		OnAction("login", func(in static.ActionInput) static.ActionResult {
			calls++
			return static.ActionResult{Alert: "아이디 또는 비밀번호가 일치하지 않습니다"}
		})
	cfg := testConfig()
	cfg.MaxAttempts = 2
	c := newController(static.New(site), cfg, &recordingSleeper{}, nil)

	_, err := c.Authenticate(context.Background(), domain.Credentials{Username: "u", Password: "p"})
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	assert.Equal(t, 2, calls)
}

func TestAuthenticate_ManualFallbackResumes(t *testing.T) {
	site := static.NewSite().
		Handle(loginURL, `<html><body><div class="captcha">보안문자</div></body></html>`).
		Handle(mainURL, `<html><body>main</body></html>`)
	drv := static.New(site)
	log := &stateLog{}
	cfg := testConfig()
	cfg.ManualFallback = true
	c := newController(drv, cfg, &recordingSleeper{}, log)

	assert.ErrorIs(t, c.ResumeManualLogin(), domain.ErrNotAwaitingManualLogin)

	type result struct {
		sess driver.Session
		err  error
	}
	done := make(chan result, 1)
	go func() {
		sess, err := c.Authenticate(context.Background(), domain.Credentials{Username: "u", Password: "p"})
		done <- result{sess, err}
	}()

	require.Eventually(t, func() bool { return c.State() == StateManualFallback }, 2*time.Second, 10*time.Millisecond)

	// The operator finishes the login in the browser window.
	require.NoError(t, drv.Sessions()[0].Navigate(context.Background(), mainURL))
	require.NoError(t, c.ResumeManualLogin())

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, StateVerified, c.State())
		r.sess.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("Authenticate did not return after resume")
	}
	assert.ErrorIs(t, c.ResumeManualLogin(), domain.ErrNotAwaitingManualLogin)
}

func TestAuthenticate_ManualFallbackTimeout(t *testing.T) {
	site := static.NewSite().Handle(loginURL, `<html><body></body></html>`)
	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.ManualFallback = true
	cfg.ManualTimeout = 30 * time.Millisecond
	c := newController(static.New(site), cfg, &recordingSleeper{}, nil)

	_, err := c.Authenticate(context.Background(), domain.Credentials{})
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	assert.ErrorIs(t, err, domain.ErrManualLoginTimeout)
}

func TestAuthenticate_CancelDuringManualWait(t *testing.T) {
	site := static.NewSite().Handle(loginURL, `<html><body></body></html>`)
	cfg := testConfig()
	cfg.ManualFallback = true
	c := newController(static.New(site), cfg, &recordingSleeper{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for c.State() != StateManualFallback {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()

	_, err := c.Authenticate(ctx, domain.Credentials{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestAuthenticate_DriverUnavailable(t *testing.T) {
	drv := static.New(static.NewSite())
	drv.NewSessionErr = errors.New("chrome not installed")
	c := newController(drv, testConfig(), &recordingSleeper{}, nil)

	_, err := c.Authenticate(context.Background(), domain.Credentials{})
	assert.ErrorIs(t, err, domain.ErrDriverUnavailable)
	assert.Empty(t, drv.Sessions())
}

func TestTypeHuman_LongerPauseEveryThirdRune(t *testing.T) {
	site := static.NewSite().Handle(loginURL, loginPage)
	drv := static.New(site)
	sleeper := &recordingSleeper{}
	c := newController(drv, testConfig(), sleeper, nil)

	ctx := context.Background()
	sess, err := drv.NewSession(ctx, driver.DefaultStealthProfile())
	require.NoError(t, err)
	require.NoError(t, sess.Navigate(ctx, loginURL))
	el, ok, err := sess.Find(ctx, driver.CSS("#loginId"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.typeHuman(ctx, el, "abcdef"))
	assert.Equal(t, "abcdef", drv.Sessions()[0].Value("loginId"))
	require.Len(t, sleeper.slept, 6)
	assert.GreaterOrEqual(t, sleeper.slept[2], 100*time.Millisecond)
	assert.GreaterOrEqual(t, sleeper.slept[5], 100*time.Millisecond)
	assert.LessOrEqual(t, sleeper.slept[0], 120*time.Millisecond)
}
