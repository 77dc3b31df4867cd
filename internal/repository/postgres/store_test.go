package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YonghoLee79/saramjobhunter/internal/domain"
	"github.com/YonghoLee79/saramjobhunter/internal/repository"
)

// openTestStore connects to TEST_DATABASE_URL and empties every table.
// The tests are skipped when no database is configured.
func openTestStore(t *testing.T) repository.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("Skipping test: could not connect to test database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("Skipping test: could not ping test database: %v", err)
	}

	store, err := NewPostgresStore(ctx, pool)
	require.NoError(t, err)
	truncate := func() {
		_, _ = pool.Exec(context.Background(), "TRUNCATE TABLE applied_jobs, execution_log, configuration")
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		store.Close()
	})
	return store
}

func job(id, company string, at time.Time) *domain.AppliedJob {
	return &domain.AppliedJob{
		JobID:     id,
		URL:       "https://www.saramin.co.kr/zf_user/jobs/relay/view?rec_idx=" + id,
		Company:   company,
		Title:     "연구원",
		Keyword:   "바이오",
		Status:    domain.ApplicationApplied,
		AppliedAt: at,
	}
}

func TestInsert_RejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now()

	require.NoError(t, store.Insert(ctx, job("100", "A제약", now)))
	err := store.Insert(ctx, job("100", "B바이오", now))
	assert.True(t, errors.Is(err, repository.ErrDuplicateApplication))

	jobs, err := store.ListSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "A제약", jobs[0].Company)
}

func TestInsert_LongScrapedText(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	long := job("200", strings.Repeat("제약", 400), time.Now())
	long.Title = strings.Repeat("바이오 연구원 ", 200)
	require.NoError(t, store.Insert(ctx, long))

	exists, err := store.Exists(ctx, "200")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCompanyAppliedSince(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now()

	require.NoError(t, store.Insert(ctx, job("1", "최근제약", now.AddDate(0, 0, -10))))
	require.NoError(t, store.Insert(ctx, job("2", "오래된제약", now.AddDate(0, 0, -31))))

	since := now.AddDate(0, 0, -30)
	recent, err := store.CompanyAppliedSince(ctx, "최근제약", since)
	require.NoError(t, err)
	assert.True(t, recent)

	old, err := store.CompanyAppliedSince(ctx, "오래된제약", since)
	require.NoError(t, err)
	assert.False(t, old)
}

func TestBeginExecution_OncePerDayAndFailedRetry(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	start := time.Now()

	entry := &domain.ExecutionLog{Date: "2026-10-18", Keywords: []string{"바이오"}, StartTime: start}
	require.NoError(t, store.BeginExecution(ctx, entry))
	assert.ErrorIs(t, store.BeginExecution(ctx, entry), repository.ErrExecutionExists)

	require.NoError(t, store.FinishExecution(ctx, &domain.ExecutionLog{
		Date: "2026-10-18", Keywords: entry.Keywords, Status: domain.ExecutionFailed, StartTime: start, Error: "boom",
	}))
	require.NoError(t, store.BeginExecution(ctx, entry))

	got, err := store.GetExecution(ctx, "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionRunning, got.Status)
	assert.Empty(t, got.Error)
	assert.Equal(t, []string{"바이오"}, got.Keywords)

	_, err = store.GetExecution(ctx, "2026-10-19")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, ok, err := store.GetSetting(ctx, domain.SettingLastLocation)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetSetting(ctx, domain.SettingLastLocation, "서울"))
	require.NoError(t, store.SetSetting(ctx, domain.SettingLastLocation, "경기"))

	value, ok, err := store.GetSetting(ctx, domain.SettingLastLocation)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "경기", value)
}
