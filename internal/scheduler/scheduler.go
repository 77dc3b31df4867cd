// Package scheduler triggers the daily run from a cron spec using the
// last-used search settings.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/YonghoLee79/saramjobhunter/internal/control"
	"github.com/YonghoLee79/saramjobhunter/internal/domain"
)

// Starter launches a run in the background.
type Starter interface {
	Start(req control.StartRequest) (string, error)
}

// SettingsReader supplies the search parameters of a scheduled run.
type SettingsReader interface {
	Get(ctx context.Context) (*domain.Settings, error)
}

// Scheduler wraps robfig/cron and fires one run per tick.
type Scheduler struct {
	cron     *cron.Cron
	spec     string
	starter  Starter
	settings SettingsReader
	creds    domain.Credentials
	jobType  string
	logger   *zap.Logger
}

// New creates a Scheduler firing on spec, a standard five-field cron expression.
func New(spec string, starter Starter, settings SettingsReader, creds domain.Credentials, jobType string, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithLogger(cronLogger{logger.Sugar()})),
		spec:     spec,
		starter:  starter,
		settings: settings,
		creds:    creds,
		jobType:  jobType,
		logger:   logger,
	}
}

// Start registers the job and starts the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.Trigger(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.String("spec", s.spec))
	return nil
}

// Stop halts the scheduler. The returned context is done once a tick in
// progress has returned.
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	s.logger.Info("Scheduler stopped")
	return ctx
}

// Trigger starts one run with the saved settings. A run that is already in
// progress is left alone.
func (s *Scheduler) Trigger(ctx context.Context) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		s.logger.Error("Scheduled run skipped: settings unavailable", zap.Error(err))
		return
	}

	runID, err := s.starter.Start(control.StartRequest{
		Username:        s.creds.Username,
		Password:        s.creds.Password,
		Keywords:        settings.Keywords,
		Location:        settings.Location,
		JobType:         s.jobType,
		MaxApplications: settings.MaxApplications,
		MaxPages:        settings.MaxPages,
	})
	switch {
	case errors.Is(err, domain.ErrRunBusy):
		s.logger.Info("Scheduled run skipped: a run is already active")
	case err != nil:
		s.logger.Error("Scheduled run failed to start", zap.Error(err))
	default:
		s.logger.Info("Scheduled run started",
			zap.String("run_id", runID),
			zap.Strings("keywords", settings.Keywords),
		)
	}
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
