package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/YonghoLee79/saramjobhunter/internal/domain"
	"github.com/YonghoLee79/saramjobhunter/internal/repository"
)

// DefaultHistoryDays is the lookback used when a caller passes no window.
const DefaultHistoryDays = 30

// HistoryUsecase reads the ledger, the execution log and the statistics.
type HistoryUsecase struct {
	store  repository.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewHistoryUsecase creates a HistoryUsecase.
func NewHistoryUsecase(store repository.Store, logger *zap.Logger) *HistoryUsecase {
	return &HistoryUsecase{store: store, logger: logger, now: time.Now}
}

// WithClock overrides the time source.
func (uc *HistoryUsecase) WithClock(now func() time.Time) *HistoryUsecase {
	uc.now = now
	return uc
}

// Execute returns everything recorded in the last days days.
func (uc *HistoryUsecase) Execute(ctx context.Context, days int) (*domain.History, error) {
	if days <= 0 {
		days = DefaultHistoryDays
	}
	now := uc.now()
	since := now.AddDate(0, 0, -days)

	apps, err := uc.store.ListSince(ctx, since)
	if err != nil {
		uc.logger.Error("Failed to list applications", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", domain.ErrDatabaseUnavailable, err)
	}
	execs, err := uc.store.ListExecutionsSince(ctx, since.Format(domain.DateLayout))
	if err != nil {
		uc.logger.Error("Failed to list executions", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", domain.ErrDatabaseUnavailable, err)
	}
	stats, err := uc.store.Stats(ctx, now)
	if err != nil {
		uc.logger.Error("Failed to compute statistics", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", domain.ErrDatabaseUnavailable, err)
	}

	if apps == nil {
		apps = []domain.AppliedJob{}
	}
	if execs == nil {
		execs = []domain.ExecutionLog{}
	}
	return &domain.History{Days: days, Applications: apps, Executions: execs, Statistics: stats}, nil
}

// Stats returns the ledger statistics alone.
func (uc *HistoryUsecase) Stats(ctx context.Context) (*domain.Statistics, error) {
	stats, err := uc.store.Stats(ctx, uc.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDatabaseUnavailable, err)
	}
	return stats, nil
}

// CleanupResult reports what a retention pass removed.
type CleanupResult struct {
	Applications int64 `json:"applications"`
	Executions   int64 `json:"executions"`
}

// Cleanup deletes applied jobs and execution log rows older than days days.
func (uc *HistoryUsecase) Cleanup(ctx context.Context, days int) (*CleanupResult, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: retention days must be positive", domain.ErrInvalidInput)
	}
	cutoff := uc.now().AddDate(0, 0, -days)

	apps, err := uc.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDatabaseUnavailable, err)
	}
	execs, err := uc.store.DeleteExecutionsBefore(ctx, cutoff.Format(domain.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDatabaseUnavailable, err)
	}

	uc.logger.Info("Retention cleanup finished",
		zap.Int("days", days),
		zap.Int64("applications_deleted", apps),
		zap.Int64("executions_deleted", execs),
	)
	return &CleanupResult{Applications: apps, Executions: execs}, nil
}
