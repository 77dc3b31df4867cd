package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/YonghoLee79/saramjobhunter/internal/domain"
	"github.com/YonghoLee79/saramjobhunter/internal/repository"
)

//go:embed schema.sql
var schema string

// Ensure pgStore implements repository.Store.
var _ repository.Store = (*pgStore)(nil)

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store and applies the schema.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (repository.Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	return &pgStore{pool: pool}, nil
}

func (s *pgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *pgStore) Insert(ctx context.Context, job *domain.AppliedJob) error {
	query := `
		INSERT INTO applied_jobs (job_id, url, company, title, keyword, status, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		job.JobID, job.URL, job.Company, job.Title, job.Keyword, job.Status, job.AppliedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert application: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrDuplicateApplication
	}
	return nil
}

func (s *pgStore) Exists(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM applied_jobs WHERE job_id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: application exists: %w", err)
	}
	return exists, nil
}

func (s *pgStore) CompanyAppliedSince(ctx context.Context, company string, since time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM applied_jobs WHERE company = $1 AND applied_at >= $2)`,
		company, since.UTC(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: company applied since: %w", err)
	}
	return exists, nil
}

func (s *pgStore) ListSince(ctx context.Context, since time.Time) ([]domain.AppliedJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, url, company, title, COALESCE(keyword, ''), status, applied_at
		FROM applied_jobs
		WHERE applied_at >= $1
		ORDER BY applied_at DESC`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: list applications: %w", err)
	}
	defer rows.Close()

	var jobs []domain.AppliedJob
	for rows.Next() {
		var j domain.AppliedJob
		if err := rows.Scan(&j.JobID, &j.URL, &j.Company, &j.Title, &j.Keyword, &j.Status, &j.AppliedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan application: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *pgStore) Stats(ctx context.Context, now time.Time) (*domain.Statistics, error) {
	weekStart, monthStart := repository.PeriodStarts(now)

	stats := &domain.Statistics{}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE applied_at >= $1),
		       COUNT(*) FILTER (WHERE applied_at >= $2)
		FROM applied_jobs`, weekStart.UTC(), monthStart.UTC(),
	).Scan(&stats.TotalApplications, &stats.WeekApplications, &stats.MonthApplications)
	if err != nil {
		return nil, fmt.Errorf("postgres: stats totals: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT company, COUNT(*) AS cnt
		FROM applied_jobs
		GROUP BY company
		ORDER BY cnt DESC, company
		LIMIT $1`, repository.TopCompaniesLimit)
	if err != nil {
		return nil, fmt.Errorf("postgres: stats top companies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.CompanyCount
		if err := rows.Scan(&c.Company, &c.Count); err != nil {
			return nil, fmt.Errorf("postgres: scan company count: %w", err)
		}
		stats.TopCompanies = append(stats.TopCompanies, c)
	}
	return stats, rows.Err()
}

func (s *pgStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM applied_jobs WHERE applied_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: delete applications: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *pgStore) BeginExecution(ctx context.Context, entry *domain.ExecutionLog) error {
	keywords, err := json.Marshal(entry.Keywords)
	if err != nil {
		return fmt.Errorf("postgres: marshal keywords: %w", err)
	}

	query := `
		INSERT INTO execution_log (execution_date, applications_count, keywords_json, status, start_time)
		VALUES ($1, 0, $2, 'running', $3)
		ON CONFLICT (execution_date) DO UPDATE
		SET applications_count = 0,
		    keywords_json = EXCLUDED.keywords_json,
		    status = 'running',
		    start_time = EXCLUDED.start_time,
		    end_time = NULL,
		    error = NULL
		WHERE execution_log.status = 'failed'`

	tag, err := s.pool.Exec(ctx, query, entry.Date, string(keywords), entry.StartTime.UTC())
	if err != nil {
		return fmt.Errorf("postgres: begin execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrExecutionExists
	}
	return nil
}

func (s *pgStore) FinishExecution(ctx context.Context, entry *domain.ExecutionLog) error {
	keywords, err := json.Marshal(entry.Keywords)
	if err != nil {
		return fmt.Errorf("postgres: marshal keywords: %w", err)
	}

	query := `
		INSERT INTO execution_log (execution_date, applications_count, keywords_json, status, start_time, end_time, error)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		ON CONFLICT (execution_date) DO UPDATE
		SET applications_count = EXCLUDED.applications_count,
		    keywords_json = EXCLUDED.keywords_json,
		    status = EXCLUDED.status,
		    end_time = EXCLUDED.end_time,
		    error = EXCLUDED.error`

	_, err = s.pool.Exec(ctx, query,
		entry.Date, entry.ApplicationsCount, string(keywords), entry.Status,
		entry.StartTime.UTC(), entry.EndTime, entry.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: finish execution: %w", err)
	}
	return nil
}

const executionColumns = `execution_date, applications_count, keywords_json, status, start_time, end_time, error`

func (s *pgStore) GetExecution(ctx context.Context, date string) (*domain.ExecutionLog, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM execution_log WHERE execution_date = $1`, date)
	entry, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get execution: %w", err)
	}
	return entry, nil
}

func (s *pgStore) ListExecutionsSince(ctx context.Context, since string) ([]domain.ExecutionLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM execution_log WHERE execution_date >= $1 ORDER BY execution_date DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var entries []domain.ExecutionLog
	for rows.Next() {
		entry, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func (s *pgStore) DeleteExecutionsBefore(ctx context.Context, cutoff string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM execution_log WHERE execution_date < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *pgStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value *string
	err := s.pool.QueryRow(ctx, `SELECT config_value FROM configuration WHERE config_key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres: get setting: %w", err)
	}
	if value == nil {
		return "", false, nil
	}
	return *value, true, nil
}

func (s *pgStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO configuration (config_key, config_value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (config_key) DO UPDATE
		SET config_value = EXCLUDED.config_value, updated_at = EXCLUDED.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: set setting: %w", err)
	}
	return nil
}

func scanExecution(row pgx.Row) (*domain.ExecutionLog, error) {
	var (
		entry    domain.ExecutionLog
		keywords *string
		start    *time.Time
		errText  *string
	)
	if err := row.Scan(&entry.Date, &entry.ApplicationsCount, &keywords, &entry.Status, &start, &entry.EndTime, &errText); err != nil {
		return nil, err
	}
	if start != nil {
		entry.StartTime = *start
	}
	if errText != nil {
		entry.Error = *errText
	}
	entry.Keywords = repository.DecodeKeywords(keywords)
	return &entry, nil
}
