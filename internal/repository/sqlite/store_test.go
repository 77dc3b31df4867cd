package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YonghoLee79/saramjobhunter/internal/domain"
	"github.com/YonghoLee79/saramjobhunter/internal/repository"
)

func openTestStore(t *testing.T) repository.Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
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

	second := job("100", "B바이오", now)
	err := store.Insert(ctx, second)
	assert.True(t, errors.Is(err, repository.ErrDuplicateApplication))

	jobs, err := store.ListSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "A제약", jobs[0].Company, "existing row must not be overwritten")
}

func TestInsert_ConcurrentSameID(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Insert(ctx, job("777", "A제약", now)); err == nil {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inserted)
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

	exists, err := store.Exists(ctx, "2")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStatsAndCleanup(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Insert(ctx, job("1", "A", now)))
	require.NoError(t, store.Insert(ctx, job("2", "A", now.AddDate(0, 0, -8))))
	require.NoError(t, store.Insert(ctx, job("3", "B", now.AddDate(0, -2, 0))))
	require.NoError(t, store.Insert(ctx, job("4", "C", now.AddDate(0, 0, -120))))

	stats, err := store.Stats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalApplications)
	assert.Equal(t, 1, stats.WeekApplications)
	assert.Equal(t, 2, stats.MonthApplications)
	require.NotEmpty(t, stats.TopCompanies)
	assert.Equal(t, domain.CompanyCount{Company: "A", Count: 2}, stats.TopCompanies[0])

	removed, err := store.DeleteOlderThan(ctx, now.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestBeginExecution_OncePerDay(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	start := time.Now()

	entry := &domain.ExecutionLog{Date: "2026-10-18", Keywords: []string{"바이오", "제약"}, StartTime: start}
	require.NoError(t, store.BeginExecution(ctx, entry))
	assert.ErrorIs(t, store.BeginExecution(ctx, entry), repository.ErrExecutionExists)

	end := start.Add(time.Minute)
	require.NoError(t, store.FinishExecution(ctx, &domain.ExecutionLog{
		Date: "2026-10-18", ApplicationsCount: 3, Keywords: entry.Keywords,
		Status: domain.ExecutionCompleted, StartTime: start, EndTime: &end,
	}))
	assert.ErrorIs(t, store.BeginExecution(ctx, entry), repository.ErrExecutionExists)

	got, err := store.GetExecution(ctx, "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, got.Status)
	assert.Equal(t, 3, got.ApplicationsCount)
	assert.Equal(t, []string{"바이오", "제약"}, got.Keywords)
	require.NotNil(t, got.EndTime)
	assert.True(t, got.EndTime.Equal(end))
}

func TestBeginExecution_FailedDayCanRetry(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	start := time.Now()

	entry := &domain.ExecutionLog{Date: "2026-10-18", StartTime: start}
	require.NoError(t, store.BeginExecution(ctx, entry))
	require.NoError(t, store.FinishExecution(ctx, &domain.ExecutionLog{
		Date: "2026-10-18", Status: domain.ExecutionFailed, StartTime: start, Error: "authentication failed",
	}))

	require.NoError(t, store.BeginExecution(ctx, entry))
	got, err := store.GetExecution(ctx, "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionRunning, got.Status)
	assert.Empty(t, got.Error)
}

func TestExecutionsListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	for _, d := range []string{"2026-06-01", "2026-10-16", "2026-10-17"} {
		require.NoError(t, store.BeginExecution(ctx, &domain.ExecutionLog{Date: d, StartTime: time.Now()}))
	}

	entries, err := store.ListExecutionsSince(ctx, "2026-10-11")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2026-10-17", entries[0].Date)

	removed, err := store.DeleteExecutionsBefore(ctx, "2026-07-20")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.GetExecution(ctx, "2026-06-01")
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
