// Package sqlite is the embedded file store used when no PostgreSQL server is configured.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/YonghoLee79/saramjobhunter/internal/domain"
	"github.com/YonghoLee79/saramjobhunter/internal/repository"
)

// timeLayout is fixed width so lexical order equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS applied_jobs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id     TEXT NOT NULL UNIQUE,
    url        TEXT NOT NULL,
    company    TEXT NOT NULL,
    title      TEXT NOT NULL,
    keyword    TEXT NOT NULL DEFAULT '',
    status     TEXT NOT NULL DEFAULT 'applied',
    applied_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_applied_jobs_company_applied_at ON applied_jobs (company, applied_at);

CREATE TABLE IF NOT EXISTS execution_log (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    execution_date     TEXT NOT NULL UNIQUE,
    applications_count INTEGER NOT NULL DEFAULT 0,
    keywords_json      TEXT,
    status             TEXT NOT NULL DEFAULT 'running',
    start_time         TEXT,
    end_time           TEXT,
    error              TEXT
);

CREATE TABLE IF NOT EXISTS configuration (
    config_key   TEXT PRIMARY KEY,
    config_value TEXT,
    updated_at   TEXT NOT NULL
);`

var _ repository.Store = (*sqliteStore)(nil)

type sqliteStore struct {
	db *sqlx.DB
}

type appliedJobRow struct {
	JobID     string `db:"job_id"`
	URL       string `db:"url"`
	Company   string `db:"company"`
	Title     string `db:"title"`
	Keyword   string `db:"keyword"`
	Status    string `db:"status"`
	AppliedAt string `db:"applied_at"`
}

type executionRow struct {
	Date              string         `db:"execution_date"`
	ApplicationsCount int            `db:"applications_count"`
	KeywordsJSON      sql.NullString `db:"keywords_json"`
	Status            string         `db:"status"`
	StartTime         sql.NullString `db:"start_time"`
	EndTime           sql.NullString `db:"end_time"`
	Error             sql.NullString `db:"error"`
}

// Open opens (or creates) the database file at path and applies the schema.
func Open(ctx context.Context, path string) (repository.Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer keeps check-and-insert statements serialized inside the process.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) Insert(ctx context.Context, job *domain.AppliedJob) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO applied_jobs (job_id, url, company, title, keyword, status, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO NOTHING`,
		job.JobID, job.URL, job.Company, job.Title, job.Keyword, string(job.Status), formatTime(job.AppliedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert application: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: insert application: %w", err)
	}
	if n == 0 {
		return repository.ErrDuplicateApplication
	}
	return nil
}

func (s *sqliteStore) Exists(ctx context.Context, jobID string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM applied_jobs WHERE job_id = ?`, jobID); err != nil {
		return false, fmt.Errorf("sqlite: application exists: %w", err)
	}
	return n > 0, nil
}

func (s *sqliteStore) CompanyAppliedSince(ctx context.Context, company string, since time.Time) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM applied_jobs WHERE company = ? AND applied_at >= ?`, company, formatTime(since))
	if err != nil {
		return false, fmt.Errorf("sqlite: company applied since: %w", err)
	}
	return n > 0, nil
}

func (s *sqliteStore) ListSince(ctx context.Context, since time.Time) ([]domain.AppliedJob, error) {
	var rows []appliedJobRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT job_id, url, company, title, keyword, status, applied_at
		FROM applied_jobs
		WHERE applied_at >= ?
		ORDER BY applied_at DESC`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list applications: %w", err)
	}

	jobs := make([]domain.AppliedJob, 0, len(rows))
	for _, r := range rows {
		appliedAt, err := parseTime(r.AppliedAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse applied_at: %w", err)
		}
		jobs = append(jobs, domain.AppliedJob{
			JobID:     r.JobID,
			URL:       r.URL,
			Company:   r.Company,
			Title:     r.Title,
			Keyword:   r.Keyword,
			Status:    domain.ApplicationStatus(r.Status),
			AppliedAt: appliedAt,
		})
	}
	return jobs, nil
}

func (s *sqliteStore) Stats(ctx context.Context, now time.Time) (*domain.Statistics, error) {
	weekStart, monthStart := repository.PeriodStarts(now)

	var totals struct {
		Total int `db:"total"`
		Week  int `db:"week"`
		Month int `db:"month"`
	}
	err := s.db.GetContext(ctx, &totals, `
		SELECT COUNT(*) AS total,
		       COALESCE(SUM(CASE WHEN applied_at >= ? THEN 1 ELSE 0 END), 0) AS week,
		       COALESCE(SUM(CASE WHEN applied_at >= ? THEN 1 ELSE 0 END), 0) AS month
		FROM applied_jobs`, formatTime(weekStart), formatTime(monthStart))
	if err != nil {
		return nil, fmt.Errorf("sqlite: stats totals: %w", err)
	}

	stats := &domain.Statistics{
		TotalApplications: totals.Total,
		WeekApplications:  totals.Week,
		MonthApplications: totals.Month,
	}
	err = s.db.SelectContext(ctx, &stats.TopCompanies, `
		SELECT company, COUNT(*) AS count
		FROM applied_jobs
		GROUP BY company
		ORDER BY count DESC, company
		LIMIT ?`, repository.TopCompaniesLimit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: stats top companies: %w", err)
	}
	return stats, nil
}

func (s *sqliteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM applied_jobs WHERE applied_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete applications: %w", err)
	}
	return res.RowsAffected()
}

func (s *sqliteStore) BeginExecution(ctx context.Context, entry *domain.ExecutionLog) error {
	keywords, err := json.Marshal(entry.Keywords)
	if err != nil {
		return fmt.Errorf("sqlite: marshal keywords: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_log (execution_date, applications_count, keywords_json, status, start_time)
		VALUES (?, 0, ?, 'running', ?)
		ON CONFLICT (execution_date) DO UPDATE
		SET applications_count = 0,
		    keywords_json = excluded.keywords_json,
		    status = 'running',
		    start_time = excluded.start_time,
		    end_time = NULL,
		    error = NULL
		WHERE execution_log.status = 'failed'`,
		entry.Date, string(keywords), formatTime(entry.StartTime),
	)
	if err != nil {
		return fmt.Errorf("sqlite: begin execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: begin execution: %w", err)
	}
	if n == 0 {
		return repository.ErrExecutionExists
	}
	return nil
}

func (s *sqliteStore) FinishExecution(ctx context.Context, entry *domain.ExecutionLog) error {
	keywords, err := json.Marshal(entry.Keywords)
	if err != nil {
		return fmt.Errorf("sqlite: marshal keywords: %w", err)
	}

	var endTime sql.NullString
	if entry.EndTime != nil {
		endTime = sql.NullString{String: formatTime(*entry.EndTime), Valid: true}
	}
	errText := sql.NullString{String: entry.Error, Valid: entry.Error != ""}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_log (execution_date, applications_count, keywords_json, status, start_time, end_time, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (execution_date) DO UPDATE
		SET applications_count = excluded.applications_count,
		    keywords_json = excluded.keywords_json,
		    status = excluded.status,
		    end_time = excluded.end_time,
		    error = excluded.error`,
		entry.Date, entry.ApplicationsCount, string(keywords), string(entry.Status),
		formatTime(entry.StartTime), endTime, errText,
	)
	if err != nil {
		return fmt.Errorf("sqlite: finish execution: %w", err)
	}
	return nil
}

const executionColumns = `execution_date, applications_count, keywords_json, status, start_time, end_time, error`

func (s *sqliteStore) GetExecution(ctx context.Context, date string) (*domain.ExecutionLog, error) {
	var row executionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+executionColumns+` FROM execution_log WHERE execution_date = ?`, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get execution: %w", err)
	}
	return row.toDomain()
}

func (s *sqliteStore) ListExecutionsSince(ctx context.Context, since string) ([]domain.ExecutionLog, error) {
	var rows []executionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+executionColumns+` FROM execution_log WHERE execution_date >= ? ORDER BY execution_date DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list executions: %w", err)
	}

	entries := make([]domain.ExecutionLog, 0, len(rows))
	for _, r := range rows {
		entry, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (s *sqliteStore) DeleteExecutionsBefore(ctx context.Context, cutoff string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM execution_log WHERE execution_date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete executions: %w", err)
	}
	return res.RowsAffected()
}

func (s *sqliteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value sql.NullString
	err := s.db.GetContext(ctx, &value, `SELECT config_value FROM configuration WHERE config_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: get setting: %w", err)
	}
	return value.String, value.Valid, nil
}

func (s *sqliteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO configuration (config_key, config_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (config_key) DO UPDATE
		SET config_value = excluded.config_value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: set setting: %w", err)
	}
	return nil
}

func (r executionRow) toDomain() (*domain.ExecutionLog, error) {
	entry := &domain.ExecutionLog{
		Date:              r.Date,
		ApplicationsCount: r.ApplicationsCount,
		Status:            domain.ExecutionStatus(r.Status),
		Error:             r.Error.String,
	}
	if r.KeywordsJSON.Valid {
		entry.Keywords = repository.DecodeKeywords(&r.KeywordsJSON.String)
	}
	if r.StartTime.Valid {
		t, err := parseTime(r.StartTime.String)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse start_time: %w", err)
		}
		entry.StartTime = t
	}
	if r.EndTime.Valid {
		t, err := parseTime(r.EndTime.String)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse end_time: %w", err)
		}
		entry.EndTime = &t
	}
	return entry, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
