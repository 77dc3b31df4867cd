// Package control is the start/stop/status surface over the orchestrator.
package control

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/YonghoLee79/saramjobhunter/internal/domain"
	"github.com/YonghoLee79/saramjobhunter/internal/pipeline"
	"github.com/YonghoLee79/saramjobhunter/internal/repository"
	"github.com/YonghoLee79/saramjobhunter/internal/session"
	"github.com/YonghoLee79/saramjobhunter/internal/usecase"
)

// Runner executes one orchestrated run.
type Runner interface {
	Execute(ctx context.Context, req domain.RunRequest, hooks usecase.RunHooks) (*domain.RunResult, error)
}

// HistoryReader serves the history view.
type HistoryReader interface {
	Execute(ctx context.Context, days int) (*domain.History, error)
}

// LoginGate exposes the authentication state machine.
type LoginGate interface {
	State() session.State
	ResumeManualLogin() error
}

// StartRequest is what a caller supplies to start a run.
type StartRequest struct {
	Username        string   `json:"username"`
	Password        string   `json:"password"`
	Keywords        []string `json:"keywords"`
	Location        string   `json:"location"`
	JobType         string   `json:"job_type"`
	MaxApplications int      `json:"max_applications"`
	MaxPages        int      `json:"max_pages"`
}

func (r StartRequest) runRequest() domain.RunRequest {
	return domain.RunRequest{
		Credentials:     domain.Credentials{Username: r.Username, Password: r.Password},
		Keywords:        usecase.CleanKeywords(r.Keywords),
		Location:        r.Location,
		JobType:         r.JobType,
		MaxApplications: r.MaxApplications,
		MaxPages:        r.MaxPages,
	}
}

// RunStats summarise the current or last run.
type RunStats struct {
	AppliedCount int      `json:"applied_count"`
	Keywords     []string `json:"keywords"`
}

// Status is a snapshot of the controller.
type Status struct {
	Running    bool       `json:"running"`
	RunID      string     `json:"run_id,omitempty"`
	State      string     `json:"state"`
	Progress   string     `json:"progress"`
	RecentLogs []string   `json:"recent_logs"`
	LastError  *string    `json:"last_error"`
	Stats      RunStats   `json:"stats"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
}

// run is the state of one active run. Only the Controller touches it.
type run struct {
	id      string
	started time.Time
	cancel  context.CancelFunc
	stop    atomic.Bool
	done    chan struct{}
}

// DefaultLockRefresh extends the run lock well inside its default expiry.
const DefaultLockRefresh = time.Hour

// Controller owns at most one active run.
type Controller struct {
	runner  Runner
	history HistoryReader
	login   LoginGate
	lock    repository.RunLock
	relay   pipeline.ProgressObserver
	logs    *LogBuffer
	logger  *zap.Logger
	base    context.Context

	lockRefresh time.Duration

	mu       sync.Mutex
	active   *run
	progress string
	stats    RunStats
	lastErr  string
	subs     map[chan domain.ProgressEvent]struct{}
}

// Options are the optional collaborators of a Controller.
type Options struct {
	// Login enables ResumeManualLogin and the State field.
	Login LoginGate
	// Lock guards against another host running the same account.
	Lock repository.RunLock
	// LockRefresh is how often a held lock is extended; zero uses DefaultLockRefresh.
	LockRefresh time.Duration
	// Relay also receives every progress event.
	Relay pipeline.ProgressObserver
	// Logs backs Status.RecentLogs.
	Logs *LogBuffer
}

// NewController creates a controller. base bounds every run; cancelling it
// aborts the active run.
func NewController(base context.Context, runner Runner, history HistoryReader, opts Options, logger *zap.Logger) *Controller {
	if opts.Logs == nil {
		opts.Logs = NewLogBuffer(DefaultLogLines)
	}
	if opts.LockRefresh <= 0 {
		opts.LockRefresh = DefaultLockRefresh
	}
	return &Controller{
		runner:   runner,
		history:  history,
		login:    opts.Login,
		lock:     opts.Lock,
		relay:    opts.Relay,
		logs:     opts.Logs,
		logger:   logger,
		base:     base,
		progress: "idle",

		lockRefresh: opts.LockRefresh,
		subs:     make(map[chan domain.ProgressEvent]struct{}),
	}
}

// Start validates req and launches a run in the background. It returns
// domain.ErrInvalidInput or domain.ErrRunBusy without starting anything.
func (c *Controller) Start(req StartRequest) (string, error) {
	runReq := req.runRequest()
	if err := usecase.ValidateRunRequest(&runReq); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return "", domain.ErrRunBusy
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	runID := id.String()

	if c.lock != nil {
		ok, err := c.lock.Acquire(c.base, runID)
		if err != nil {
			return "", fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			return "", domain.ErrRunBusy
		}
	}

	ctx, cancel := context.WithCancel(c.base)
	r := &run{id: runID, started: time.Now(), cancel: cancel, done: make(chan struct{})}
	c.active = r
	c.progress = "starting"
	c.stats = RunStats{Keywords: runReq.Keywords}
	c.lastErr = ""

	go c.execute(ctx, r, runReq)

	c.logger.Info("Run started",
		zap.String("run_id", runID),
		zap.Strings("keywords", runReq.Keywords),
		zap.Int("max_applications", runReq.MaxApplications),
	)
	return runID, nil
}

func (c *Controller) execute(ctx context.Context, r *run, req domain.RunRequest) {
	defer close(r.done)
	defer r.cancel()

	stopHolding := c.holdLock(ctx, r.id)
	res, err := c.runner.Execute(ctx, req, usecase.RunHooks{
		RunID:    r.id,
		Observer: c,
		Stopped:  r.stop.Load,
	})
	stopHolding()

	if c.lock != nil {
		if err := c.lock.Release(context.WithoutCancel(ctx), r.id); err != nil {
			c.logger.Warn("Failed to release run lock", zap.String("run_id", r.id), zap.Error(err))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = nil
	switch {
	case err != nil:
		c.lastErr = err.Error()
		c.progress = "failed"
		c.logger.Error("Run failed", zap.String("run_id", r.id), zap.Error(err))
	case res == nil:
		c.progress = "finished"
	case res.AlreadyRanToday:
		c.progress = "already ran today"
		c.stats.AppliedCount = res.AppliedCount
	case res.Cancelled:
		c.progress = fmt.Sprintf("stopped after %d applications", res.AppliedCount)
		c.stats.AppliedCount = res.AppliedCount
	default:
		c.progress = fmt.Sprintf("completed with %d applications", res.AppliedCount)
		c.stats.AppliedCount = res.AppliedCount
	}
}

// holdLock extends the run lock until the returned func is called. The func
// returns once the refresher has exited.
func (c *Controller) holdLock(ctx context.Context, owner string) func() {
	if c.lock == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.lockRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := c.lock.Extend(ctx, owner)
				switch {
				case ctx.Err() != nil:
					return
				case err != nil:
					c.logger.Warn("Failed to extend run lock", zap.String("run_id", owner), zap.Error(err))
				case !ok:
					c.logger.Warn("Run lock lost to expiry", zap.String("run_id", owner))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Stop asks the active run to halt before its next posting. It is a no-op
// when nothing is running.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return
	}
	c.active.stop.Store(true)
	c.progress = "stopping"
	c.logger.Info("Stop requested", zap.String("run_id", c.active.id))
}

// Wait blocks until the active run, if any, has finished or ctx ends.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels the active run and waits for it to record its outcome.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.active != nil {
		c.active.stop.Store(true)
		c.active.cancel()
	}
	c.mu.Unlock()
	return c.Wait(ctx)
}

// Status returns a snapshot for the dashboard.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Running:    c.active != nil,
		State:      string(session.StateIdle),
		Progress:   c.progress,
		RecentLogs: c.logs.Lines(),
		Stats: RunStats{
			AppliedCount: c.stats.AppliedCount,
			Keywords:     append([]string(nil), c.stats.Keywords...),
		},
	}
	if c.login != nil {
		st.State = string(c.login.State())
	}
	if c.active != nil {
		st.RunID = c.active.id
		started := c.active.started
		st.StartedAt = &started
	}
	if c.lastErr != "" {
		msg := c.lastErr
		st.LastError = &msg
	}
	return st
}

// History returns applications, executions and statistics for the last days days.
func (c *Controller) History(ctx context.Context, days int) (*domain.History, error) {
	return c.history.Execute(ctx, days)
}

// ResumeManualLogin tells a run waiting on the operator to continue.
func (c *Controller) ResumeManualLogin() error {
	if c.login == nil {
		return domain.ErrNotAwaitingManualLogin
	}
	return c.login.ResumeManualLogin()
}

// OnApplied updates progress and fans the event out to subscribers.
func (c *Controller) OnApplied(ctx context.Context, ev domain.ProgressEvent) {
	c.mu.Lock()
	c.stats.AppliedCount = ev.RunningCount
	c.progress = fmt.Sprintf("applied %d: %s - %s", ev.RunningCount, ev.Company, ev.Title)
	for ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	c.mu.Unlock()

	if c.relay != nil {
		c.relay.OnApplied(ctx, ev)
	}
}

// Subscribe returns a channel of progress events and a function that ends
// the subscription. Slow subscribers miss events rather than block the run.
func (c *Controller) Subscribe() (<-chan domain.ProgressEvent, func()) {
	ch := make(chan domain.ProgressEvent, 16)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ch)
			c.mu.Unlock()
		})
	}
}
