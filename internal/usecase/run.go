package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/YonghoLee79/saramjobhunter/internal/discovery"
	"github.com/YonghoLee79/saramjobhunter/internal/domain"
	"github.com/YonghoLee79/saramjobhunter/internal/driver"
	"github.com/YonghoLee79/saramjobhunter/internal/governor"
	"github.com/YonghoLee79/saramjobhunter/internal/metrics"
	"github.com/YonghoLee79/saramjobhunter/internal/pipeline"
	"github.com/YonghoLee79/saramjobhunter/internal/repository"
)

// Authenticator produces a logged-in browser session.
type Authenticator interface {
	Authenticate(ctx context.Context, creds domain.Credentials) (driver.Session, error)
}

// PostingSource walks search results for one query.
type PostingSource interface {
	Discover(ctx context.Context, sess driver.Session, q discovery.Query, remaining func() int, yield func(domain.PostingRef) bool) error
}

// RunConfig tunes the orchestrator.
type RunConfig struct {
	// RetryFailedDay lets a day whose run failed be started again.
	RetryFailedDay bool
	// ApplyDelay separates one applied posting from the next.
	ApplyDelay governor.Range
	Pipeline   pipeline.Config
}

// RunHooks connect one run to its caller.
type RunHooks struct {
	RunID    string
	Observer pipeline.ProgressObserver
	// Stopped is polled between postings and between keywords.
	Stopped func() bool
}

func (h RunHooks) stopped() bool {
	return h.Stopped != nil && h.Stopped()
}

// RunUsecase is the execution orchestrator: one call is one daily run.
type RunUsecase struct {
	store   repository.Store
	auth    Authenticator
	source  PostingSource
	cfg     RunConfig
	sleeper governor.Sleeper
	logger  *zap.Logger
	now     func() time.Time
}

// NewRunUsecase creates a RunUsecase.
func NewRunUsecase(
	store repository.Store,
	auth Authenticator,
	source PostingSource,
	cfg RunConfig,
	sleeper governor.Sleeper,
	logger *zap.Logger,
) *RunUsecase {
	return &RunUsecase{
		store:   store,
		auth:    auth,
		source:  source,
		cfg:     cfg,
		sleeper: sleeper,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock overrides the time source.
func (uc *RunUsecase) WithClock(now func() time.Time) *RunUsecase {
	uc.now = now
	return uc
}

// ValidateRunRequest checks the parameters a run cannot start without.
func ValidateRunRequest(req *domain.RunRequest) error {
	if strings.TrimSpace(req.Credentials.Username) == "" || req.Credentials.Password == "" {
		return fmt.Errorf("%w: credentials are required", domain.ErrInvalidInput)
	}
	if len(CleanKeywords(req.Keywords)) == 0 {
		return fmt.Errorf("%w: at least one keyword is required", domain.ErrInvalidInput)
	}
	if req.MaxApplications < 1 {
		return fmt.Errorf("%w: max applications must be at least 1", domain.ErrInvalidInput)
	}
	if req.MaxPages < 0 {
		return fmt.Errorf("%w: max pages must not be negative", domain.ErrInvalidInput)
	}
	return nil
}

// CleanKeywords trims keywords and drops blanks and repeats, keeping order.
func CleanKeywords(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, kw := range in {
		kw = strings.TrimSpace(kw)
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}

// Execute runs today's automation once. A day that already has a run returns
// a result with AlreadyRanToday set and a nil error. Fatal errors finalize the
// day as failed and are returned alongside the result.
func (uc *RunUsecase) Execute(ctx context.Context, req domain.RunRequest, hooks RunHooks) (*domain.RunResult, error) {
	if err := ValidateRunRequest(&req); err != nil {
		return nil, err
	}
	req.Keywords = CleanKeywords(req.Keywords)

	start := uc.now()
	today := start.Format(domain.DateLayout)
	log := uc.logger.With(zap.String("date", today), zap.String("run_id", hooks.RunID))

	existing, err := uc.store.GetExecution(ctx, today)
	switch {
	case err == nil:
		if !(uc.cfg.RetryFailedDay && existing.Status == domain.ExecutionFailed) {
			log.Info("Already ran today, skipping", zap.String("status", string(existing.Status)))
			return alreadyRan(existing), nil
		}
		log.Info("Retrying failed day")
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%w: %w", domain.ErrDatabaseUnavailable, err)
	}

	entry := &domain.ExecutionLog{
		Date:      today,
		Keywords:  req.Keywords,
		Status:    domain.ExecutionRunning,
		StartTime: start,
	}
	if err := uc.store.BeginExecution(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrExecutionExists) {
			log.Info("Another run claimed today first")
			return &domain.RunResult{Date: today, Keywords: req.Keywords, Status: domain.ExecutionRunning, AlreadyRanToday: true}, nil
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrDatabaseUnavailable, err)
	}

	metrics.RunActive.Set(1)
	defer metrics.RunActive.Set(0)

	result := &domain.RunResult{Date: today, Keywords: req.Keywords, Status: domain.ExecutionRunning}
	runErr := uc.run(ctx, req, hooks, result, log)

	entry.ApplicationsCount = result.AppliedCount
	end := uc.now()
	entry.EndTime = &end
	if runErr != nil {
		entry.Status = domain.ExecutionFailed
		entry.Error = runErr.Error()
	} else {
		entry.Status = domain.ExecutionCompleted
	}
	result.Status = entry.Status

	// The run may have been cancelled; the final state is still recorded.
	if err := uc.store.FinishExecution(context.WithoutCancel(ctx), entry); err != nil {
		log.Error("Failed to finalize execution log", zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("%w: %w", domain.ErrDatabaseUnavailable, err)
		}
	}

	metrics.RunsTotal.WithLabelValues(string(entry.Status)).Inc()
	metrics.RunDuration.Observe(end.Sub(start).Seconds())
	log.Info("Run finished",
		zap.String("status", string(entry.Status)),
		zap.Int("applied", result.AppliedCount),
		zap.Int("skipped", result.SkippedCount),
		zap.Int("failed", result.FailedCount),
		zap.Bool("cancelled", result.Cancelled),
	)
	return result, runErr
}

// run authenticates and walks every keyword. Only fatal errors are returned.
func (uc *RunUsecase) run(ctx context.Context, req domain.RunRequest, hooks RunHooks, result *domain.RunResult, log *zap.Logger) error {
	sess, err := uc.auth.Authenticate(ctx, req.Credentials)
	if err != nil {
		if ctx.Err() != nil {
			result.Cancelled = true
			return nil
		}
		log.Error("Authentication failed", zap.Error(err))
		return err
	}
	defer sess.Close()

	gov := governor.New(req.MaxApplications, uc.cfg.ApplyDelay, uc.sleeper)
	pipe := pipeline.New(uc.store, uc.cfg.Pipeline, uc.sleeper, hooks.Observer, hooks.RunID, uc.logger).WithClock(uc.now)

	for _, kw := range req.Keywords {
		if hooks.stopped() || ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		if gov.Remaining() == 0 {
			log.Info("Daily quota reached", zap.Int("applied", gov.Consumed()))
			break
		}

		kwLog := log.With(zap.String("keyword", kw))
		kwLog.Info("Searching keyword", zap.Int("remaining", gov.Remaining()))

		q := discovery.Query{Keyword: kw, Location: req.Location, JobType: req.JobType, MaxPages: req.MaxPages}
		err := uc.source.Discover(ctx, sess, q, gov.Remaining, func(ref domain.PostingRef) bool {
			if hooks.stopped() || ctx.Err() != nil {
				result.Cancelled = true
				return false
			}

			outcome, err := pipe.Apply(ctx, sess, ref, kw)
			switch outcome {
			case domain.OutcomeApplied:
				gov.Consume(1)
				result.AppliedCount++
			case domain.OutcomeSkipped:
				result.SkippedCount++
			default:
				result.FailedCount++
				kwLog.Warn("Posting failed", zap.String("url", ref.URL), zap.Error(err))
			}

			if gov.Remaining() == 0 {
				return false
			}
			if outcome == domain.OutcomeApplied {
				if err := gov.Wait(ctx); err != nil {
					result.Cancelled = true
					return false
				}
			}
			return true
		})
		if err != nil {
			if ctx.Err() != nil {
				result.Cancelled = true
				break
			}
			kwLog.Warn("Keyword abandoned", zap.Error(err))
		}
	}
	return nil
}

func alreadyRan(entry *domain.ExecutionLog) *domain.RunResult {
	return &domain.RunResult{
		Date:            entry.Date,
		AppliedCount:    entry.ApplicationsCount,
		Keywords:        entry.Keywords,
		Status:          entry.Status,
		AlreadyRanToday: true,
	}
}
