package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/YonghoLee79/saramjobhunter/internal/domain"
	"github.com/YonghoLee79/saramjobhunter/internal/repository"
)

// Ensure Store implements repository.Store.
var _ repository.Store = (*Store)(nil)

// Store is an in-memory store for tests. It keeps the same uniqueness
// guarantees as the SQL implementations.
type Store struct {
	mu         sync.Mutex
	jobs       map[string]domain.AppliedJob
	executions map[string]domain.ExecutionLog
	settings   map[string]string

	// Hook functions for injecting errors. A non-nil hook replaces the default behaviour.
	InsertFn          func(ctx context.Context, job *domain.AppliedJob) error
	BeginExecutionFn  func(ctx context.Context, entry *domain.ExecutionLog) error
	FinishExecutionFn func(ctx context.Context, entry *domain.ExecutionLog) error
	PingFn            func(ctx context.Context) error

	// Recorded calls for assertions.
	Finished []domain.ExecutionLog
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		jobs:       make(map[string]domain.AppliedJob),
		executions: make(map[string]domain.ExecutionLog),
		settings:   make(map[string]string),
	}
}

func (m *Store) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn(ctx)
	}
	return nil
}

func (m *Store) Close() error { return nil }

func (m *Store) Insert(ctx context.Context, job *domain.AppliedJob) error {
	if m.InsertFn != nil {
		return m.InsertFn(ctx, job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.JobID]; ok {
		return repository.ErrDuplicateApplication
	}
	m.jobs[job.JobID] = *job
	return nil
}

func (m *Store) Exists(ctx context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[jobID]
	return ok, nil
}

func (m *Store) CompanyAppliedSince(ctx context.Context, company string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.Company == company && !j.AppliedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Store) ListSince(ctx context.Context, since time.Time) ([]domain.AppliedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AppliedJob
	for _, j := range m.jobs {
		if !j.AppliedAt.Before(since) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].AppliedAt.After(out[k].AppliedAt) })
	return out, nil
}

func (m *Store) Stats(ctx context.Context, now time.Time) (*domain.Statistics, error) {
	weekStart, monthStart := repository.PeriodStarts(now)

	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &domain.Statistics{TotalApplications: len(m.jobs)}
	perCompany := make(map[string]int)
	for _, j := range m.jobs {
		if !j.AppliedAt.Before(weekStart) {
			stats.WeekApplications++
		}
		if !j.AppliedAt.Before(monthStart) {
			stats.MonthApplications++
		}
		perCompany[j.Company]++
	}
	for company, n := range perCompany {
		stats.TopCompanies = append(stats.TopCompanies, domain.CompanyCount{Company: company, Count: n})
	}
	sort.Slice(stats.TopCompanies, func(i, k int) bool {
		a, b := stats.TopCompanies[i], stats.TopCompanies[k]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Company < b.Company
	})
	if len(stats.TopCompanies) > repository.TopCompaniesLimit {
		stats.TopCompanies = stats.TopCompanies[:repository.TopCompaniesLimit]
	}
	return stats, nil
}

func (m *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, j := range m.jobs {
		if j.AppliedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func (m *Store) BeginExecution(ctx context.Context, entry *domain.ExecutionLog) error {
	if m.BeginExecutionFn != nil {
		return m.BeginExecutionFn(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.executions[entry.Date]; ok && existing.Status != domain.ExecutionFailed {
		return repository.ErrExecutionExists
	}
	m.executions[entry.Date] = domain.ExecutionLog{
		Date:      entry.Date,
		Keywords:  append([]string(nil), entry.Keywords...),
		Status:    domain.ExecutionRunning,
		StartTime: entry.StartTime,
	}
	return nil
}

func (m *Store) FinishExecution(ctx context.Context, entry *domain.ExecutionLog) error {
	m.mu.Lock()
	m.Finished = append(m.Finished, *entry)
	m.mu.Unlock()
	if m.FinishExecutionFn != nil {
		return m.FinishExecutionFn(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[entry.Date] = *entry
	return nil
}

func (m *Store) GetExecution(ctx context.Context, date string) (*domain.ExecutionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.executions[date]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &entry, nil
}

func (m *Store) ListExecutionsSince(ctx context.Context, since string) ([]domain.ExecutionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ExecutionLog
	for date, entry := range m.executions {
		if date >= since {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Date > out[k].Date })
	return out, nil
}

func (m *Store) DeleteExecutionsBefore(ctx context.Context, cutoff string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for date := range m.executions {
		if date < cutoff {
			delete(m.executions, date)
			n++
		}
	}
	return n, nil
}

func (m *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *Store) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

// Jobs returns all stored applications (for test assertions).
func (m *Store) Jobs() []domain.AppliedJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AppliedJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out
}

// PutExecution seeds an execution log entry.
func (m *Store) PutExecution(entry domain.ExecutionLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[entry.Date] = entry
}

// PutJob seeds an application without the duplicate check.
func (m *Store) PutJob(job domain.AppliedJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.JobID] = job
}

// ---- RunLock mock ----

var _ repository.RunLock = (*RunLock)(nil)

// RunLock is a test double for repository.RunLock.
type RunLock struct {
	mu sync.Mutex

	AcquireFn func(ctx context.Context, owner string) (bool, error)
	ExtendFn  func(ctx context.Context, owner string) (bool, error)
	ReleaseFn func(ctx context.Context, owner string) error

	AcquireCalls []string
	ExtendCalls  []string
	ReleaseCalls []string
}

func (m *RunLock) Acquire(ctx context.Context, owner string) (bool, error) {
	m.mu.Lock()
	m.AcquireCalls = append(m.AcquireCalls, owner)
	m.mu.Unlock()
	if m.AcquireFn != nil {
		return m.AcquireFn(ctx, owner)
	}
	return true, nil // default: lock acquired
}

func (m *RunLock) Extend(ctx context.Context, owner string) (bool, error) {
	m.mu.Lock()
	m.ExtendCalls = append(m.ExtendCalls, owner)
	m.mu.Unlock()
	if m.ExtendFn != nil {
		return m.ExtendFn(ctx, owner)
	}
	return true, nil
}

// Extends returns a copy of the owners passed to Extend.
func (m *RunLock) Extends() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ExtendCalls...)
}

func (m *RunLock) Release(ctx context.Context, owner string) error {
	m.mu.Lock()
	m.ReleaseCalls = append(m.ReleaseCalls, owner)
	m.mu.Unlock()
	if m.ReleaseFn != nil {
		return m.ReleaseFn(ctx, owner)
	}
	return nil
}
