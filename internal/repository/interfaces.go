package repository

import (
	"context"
	"errors"
	"time"

	"github.com/YonghoLee79/saramjobhunter/internal/domain"
)

var (
	// ErrDuplicateApplication is returned by Insert when the job identifier is already recorded.
	ErrDuplicateApplication = errors.New("application already recorded")

	// ErrExecutionExists is returned by BeginExecution when the date already has a live or completed run.
	ErrExecutionExists = errors.New("execution already recorded for date")

	// ErrNotFound is returned when a keyed row does not exist.
	ErrNotFound = errors.New("not found")
)

// ApplicationRepository is the applied-job ledger.
// Implementations must be safe for concurrent use.
type ApplicationRepository interface {
	// Insert records an application. It must be a single atomic unique insert:
	// a second insert for the same JobID returns ErrDuplicateApplication and
	// leaves the stored row untouched.
	Insert(ctx context.Context, job *domain.AppliedJob) error

	// Exists reports whether the identifier is already in the ledger.
	Exists(ctx context.Context, jobID string) (bool, error)

	// CompanyAppliedSince reports whether any record for company is at or after since.
	CompanyAppliedSince(ctx context.Context, company string, since time.Time) (bool, error)

	// ListSince returns records applied at or after since, newest first.
	ListSince(ctx context.Context, since time.Time) ([]domain.AppliedJob, error)

	// Stats aggregates totals relative to now.
	Stats(ctx context.Context, now time.Time) (*domain.Statistics, error)

	// DeleteOlderThan removes records applied before cutoff and returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ExecutionRepository is the per-day run log.
type ExecutionRepository interface {
	// BeginExecution atomically creates the running entry for entry.Date. A
	// date holding a running or completed entry yields ErrExecutionExists; a
	// failed entry is replaced so the day can be retried.
	BeginExecution(ctx context.Context, entry *domain.ExecutionLog) error

	// FinishExecution upserts the terminal state of the date's entry.
	FinishExecution(ctx context.Context, entry *domain.ExecutionLog) error

	// GetExecution returns the entry for date or ErrNotFound.
	GetExecution(ctx context.Context, date string) (*domain.ExecutionLog, error)

	// ListExecutionsSince returns entries whose date is on or after since, newest first.
	ListExecutionsSince(ctx context.Context, since string) ([]domain.ExecutionLog, error)

	// DeleteExecutionsBefore removes entries dated before cutoff.
	DeleteExecutionsBefore(ctx context.Context, cutoff string) (int64, error)
}

// SettingsRepository is the key/value configuration snapshot.
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Store bundles every persisted entity. It is the only component that talks
// to the storage engine.
type Store interface {
	ApplicationRepository
	ExecutionRepository
	SettingsRepository

	Ping(ctx context.Context) error
	Close() error
}

// RunLock guards against two hosts driving the same account at once.
type RunLock interface {
	// Acquire returns true when the lock was taken, false when another holder has it.
	Acquire(ctx context.Context, owner string) (bool, error)

	// Extend pushes the expiry out again. It returns false when owner no
	// longer holds the lock.
	Extend(ctx context.Context, owner string) (bool, error)

	// Release drops the lock if owner still holds it.
	Release(ctx context.Context, owner string) error
}
