package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/YonghoLee79/saramjobhunter/internal/discovery"
	"github.com/YonghoLee79/saramjobhunter/internal/domain"
	"github.com/YonghoLee79/saramjobhunter/internal/driver"
	"github.com/YonghoLee79/saramjobhunter/internal/driver/static"
	"github.com/YonghoLee79/saramjobhunter/internal/governor"
	"github.com/YonghoLee79/saramjobhunter/internal/pipeline"
	"github.com/YonghoLee79/saramjobhunter/internal/repository"
	"github.com/YonghoLee79/saramjobhunter/internal/repository/mock"
	"github.com/YonghoLee79/saramjobhunter/internal/session"
	"github.com/YonghoLee79/saramjobhunter/internal/usecase"
)

const siteRoot = "https://www.saramin.co.kr"

var now = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

const formPage = `<html><body><form><input type="radio" name="resume_idx" value="r1">
<button class="btn_submit" data-goto="/zf_user/jobs/apply/complete">제출하기</button></form></body></html>`

// jobSite serves one result page per keyword plus a posting page per id.
func jobSite(location string, postings map[string][]int) *static.Site {
	site := static.NewSite()
	for kw, ids := range postings {
		var list strings.Builder
		list.WriteString(`<html><body>`)
		for _, id := range ids {
			fmt.Fprintf(&list, `<div class="item_recruit"><h2 class="job_tit"><a href="/zf_user/jobs/relay/view?rec_idx=%d">공고</a></h2></div>`, id)
			site.Handle(fmt.Sprintf("%s/zf_user/jobs/relay/view?rec_idx=%d", siteRoot, id), fmt.Sprintf(
				`<html><body><div class="company_nm">회사%d</div><h2 class="job_tit">연구원 %d</h2>
<button class="btn_apply" data-goto="/zf_user/jobs/apply/form?rec_idx=%d">지원하기</button></body></html>`, id, id, id))
		}
		list.WriteString(`</body></html>`)
		site.Handle(discovery.BuildSearchURL("", discovery.Query{Keyword: kw, Location: location}, 50, 1), list.String())
	}
	site.Handle(siteRoot+"/zf_user/jobs/apply/form", formPage)
	site.Handle(siteRoot+"/zf_user/jobs/apply/complete", `<html><body>지원이 완료되었습니다</body></html>`)
	return site
}

// fakeAuth hands out sessions on a static driver without logging in.
type fakeAuth struct {
	drv   *static.Driver
	err   error
	mu    sync.Mutex
	calls int
}

func (f *fakeAuth) Authenticate(ctx context.Context, creds domain.Credentials) (driver.Session, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.drv.NewSession(ctx, driver.DefaultStealthProfile())
}

func runConfig() usecase.RunConfig {
	pc := pipeline.DefaultConfig()
	pc.ElementWait = 0
	pc.StepDelay = governor.Range{}
	return usecase.RunConfig{
		ApplyDelay: governor.Range{Min: 30 * time.Second, Max: 60 * time.Second},
		Pipeline:   pc,
	}
}

func newDiscoverer() *discovery.Discoverer {
	return discovery.NewDiscoverer(discovery.Config{
		PageSize: 50,
		MaxPages: 5,
		Listing:  discovery.DefaultListingSelectors(),
	}, governor.NoSleep{}, zap.NewNop())
}

func newRun(store *mock.Store, auth usecase.Authenticator, cfg usecase.RunConfig) *usecase.RunUsecase {
	return usecase.NewRunUsecase(store, auth, newDiscoverer(), cfg, governor.NoSleep{}, zap.NewNop()).
		WithClock(func() time.Time { return now })
}

func request(max int, keywords ...string) domain.RunRequest {
	return domain.RunRequest{
		Credentials:     domain.Credentials{Username: "user", Password: "pw"},
		Keywords:        keywords,
		Location:        "서울",
		MaxApplications: max,
	}
}

func TestValidateRunRequest(t *testing.T) {
	cases := []struct {
		name string
		req  domain.RunRequest
	}{
		{"missing credentials", domain.RunRequest{Keywords: []string{"bio"}, MaxApplications: 1}},
		{"blank keywords", domain.RunRequest{Credentials: domain.Credentials{Username: "u", Password: "p"}, Keywords: []string{" ", ""}, MaxApplications: 1}},
		{"zero quota", domain.RunRequest{Credentials: domain.Credentials{Username: "u", Password: "p"}, Keywords: []string{"bio"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, usecase.ValidateRunRequest(&tc.req), domain.ErrInvalidInput)
		})
	}
	assert.NoError(t, usecase.ValidateRunRequest(&domain.RunRequest{
		Credentials: domain.Credentials{Username: "u", Password: "p"}, Keywords: []string{"bio"}, MaxApplications: 1,
	}))
}

func TestCleanKeywords(t *testing.T) {
	assert.Equal(t, []string{"바이오", "QA"}, usecase.CleanKeywords([]string{" 바이오 ", "", "QA", "바이오"}))
}

func TestRun_QuotaCeiling(t *testing.T) {
	site := jobSite("서울", map[string][]int{
		"바이오": {1, 2, 3, 4, 5, 6},
		"제약":  {7, 8, 9, 10},
	})
	store := mock.NewStore()
	auth := &fakeAuth{drv: static.New(site)}

	res, err := newRun(store, auth, runConfig()).Execute(context.Background(), request(3, "바이오", "제약"), usecase.RunHooks{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.AppliedCount)
	assert.Equal(t, domain.ExecutionCompleted, res.Status)
	assert.Len(t, store.Jobs(), 3)
	for _, v := range site.Visits() {
		assert.NotContains(t, v, "rec_idx=4", "run must stop before the fourth posting")
	}
	assert.NotContains(t, site.Visits(), discovery.BuildSearchURL("", discovery.Query{Keyword: "제약", Location: "서울"}, 50, 1),
		"second keyword is never searched")

	require.Len(t, store.Finished, 1)
	assert.Equal(t, domain.ExecutionCompleted, store.Finished[0].Status)
	assert.Equal(t, 3, store.Finished[0].ApplicationsCount)
	assert.Equal(t, []string{"바이오", "제약"}, store.Finished[0].Keywords)
}

func TestRun_SpansKeywordsUntilQuota(t *testing.T) {
	site := jobSite("서울", map[string][]int{
		"바이오": {1, 2},
		"제약":  {3, 4, 5},
	})
	store := mock.NewStore()
	store.PutJob(domain.AppliedJob{JobID: "2", Company: "다른회사", AppliedAt: now.AddDate(0, -2, 0)})
	auth := &fakeAuth{drv: static.New(site)}

	res, err := newRun(store, auth, runConfig()).Execute(context.Background(), request(3, "바이오", "제약"), usecase.RunHooks{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.AppliedCount)
	assert.Equal(t, 1, res.SkippedCount)
	assert.Len(t, store.Jobs(), 4)
}

func TestRun_SkippedPostingsDoNotConsumeQuota(t *testing.T) {
	site := jobSite("서울", map[string][]int{"바이오": {1, 2, 3, 4, 5, 6, 7, 8, 9, 10}})
	store := mock.NewStore()
	store.PutJob(domain.AppliedJob{JobID: "1", Company: "이전회사1", AppliedAt: now.AddDate(0, -3, 0)})
	store.PutJob(domain.AppliedJob{JobID: "2", Company: "이전회사2", AppliedAt: now.AddDate(0, -3, 0)})
	auth := &fakeAuth{drv: static.New(site)}

	res, err := newRun(store, auth, runConfig()).Execute(context.Background(), request(3, "바이오"), usecase.RunHooks{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.AppliedCount)
	assert.Equal(t, 2, res.SkippedCount)
	assert.Zero(t, res.FailedCount)
	assert.Len(t, store.Jobs(), 5)
	for _, v := range site.Visits() {
		assert.NotContains(t, v, "rec_idx=6", "run stops once the quota is met")
		assert.NotContains(t, v, "recruitPage=2", "quota is met on the first page")
	}
}

func TestRun_PipelineFollowsInjectedClock(t *testing.T) {
	clock := time.Date(2031, 3, 2, 9, 0, 0, 0, time.UTC)
	site := jobSite("서울", map[string][]int{"바이오": {1}})
	store := mock.NewStore()
	// Recent by the wall clock, far outside the cooldown by the run clock.
	store.PutJob(domain.AppliedJob{JobID: "900", Company: "회사1", AppliedAt: time.Now().Add(-time.Hour)})
	auth := &fakeAuth{drv: static.New(site)}

	uc := usecase.NewRunUsecase(store, auth, newDiscoverer(), runConfig(), governor.NoSleep{}, zap.NewNop()).
		WithClock(func() time.Time { return clock })
	res, err := uc.Execute(context.Background(), request(1, "바이오"), usecase.RunHooks{})
	require.NoError(t, err)
	require.Equal(t, 1, res.AppliedCount)

	var recorded *domain.AppliedJob
	for _, j := range store.Jobs() {
		j := j
		if j.JobID == "1" {
			recorded = &j
		}
	}
	require.NotNil(t, recorded)
	assert.Equal(t, clock, recorded.AppliedAt)
}

func TestRun_PageLimitFromRequest(t *testing.T) {
	site := jobSite("서울", map[string][]int{"바이오": {1}})
	store := mock.NewStore()
	store.PutJob(domain.AppliedJob{JobID: "1", Company: "회사1", AppliedAt: now.AddDate(0, -3, 0)})
	auth := &fakeAuth{drv: static.New(site)}

	req := request(3, "바이오")
	req.MaxPages = 1
	res, err := newRun(store, auth, runConfig()).Execute(context.Background(), req, usecase.RunHooks{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SkippedCount)
	for _, v := range site.Visits() {
		assert.NotContains(t, v, "recruitPage=2", "only one result page is read")
	}

	req.MaxPages = -1
	_, err = newRun(mock.NewStore(), auth, runConfig()).Execute(context.Background(), req, usecase.RunHooks{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRun_OncePerDay(t *testing.T) {
	site := jobSite("서울", map[string][]int{"바이오": {1}})
	store := mock.NewStore()
	auth := &fakeAuth{drv: static.New(site)}
	uc := newRun(store, auth, runConfig())

	first, err := uc.Execute(context.Background(), request(5, "바이오"), usecase.RunHooks{})
	require.NoError(t, err)
	assert.False(t, first.AlreadyRanToday)
	assert.Equal(t, 1, first.AppliedCount)

	second, err := uc.Execute(context.Background(), request(5, "바이오"), usecase.RunHooks{})
	require.NoError(t, err)
	assert.True(t, second.AlreadyRanToday)
	assert.Equal(t, 1, second.AppliedCount)
	assert.Equal(t, 1, auth.calls, "authentication happens once per day")
	assert.Len(t, store.Finished, 1)
}

func TestRun_ConcurrentClaimIsNoop(t *testing.T) {
	store := mock.NewStore()
	store.BeginExecutionFn = func(ctx context.Context, entry *domain.ExecutionLog) error {
		return repository.ErrExecutionExists
	}
	auth := &fakeAuth{drv: static.New(static.NewSite())}

	res, err := newRun(store, auth, runConfig()).Execute(context.Background(), request(5, "바이오"), usecase.RunHooks{})
	require.NoError(t, err)
	assert.True(t, res.AlreadyRanToday)
	assert.Zero(t, auth.calls)
	assert.Empty(t, store.Finished)
}

func TestRun_FailedDay(t *testing.T) {
	seed := func() *mock.Store {
		store := mock.NewStore()
		store.PutExecution(domain.ExecutionLog{Date: "2026-10-18", Status: domain.ExecutionFailed, Error: "boom"})
		return store
	}
	site := jobSite("서울", map[string][]int{"바이오": {1}})

	t.Run("not retried by default", func(t *testing.T) {
		auth := &fakeAuth{drv: static.New(site)}
		res, err := newRun(seed(), auth, runConfig()).Execute(context.Background(), request(5, "바이오"), usecase.RunHooks{})
		require.NoError(t, err)
		assert.True(t, res.AlreadyRanToday)
		assert.Equal(t, domain.ExecutionFailed, res.Status)
		assert.Zero(t, auth.calls)
	})

	t.Run("retried when enabled", func(t *testing.T) {
		cfg := runConfig()
		cfg.RetryFailedDay = true
		store := seed()
		auth := &fakeAuth{drv: static.New(site)}
		res, err := newRun(store, auth, cfg).Execute(context.Background(), request(5, "바이오"), usecase.RunHooks{})
		require.NoError(t, err)
		assert.False(t, res.AlreadyRanToday)
		assert.Equal(t, domain.ExecutionCompleted, res.Status)

		entry, err := store.GetExecution(context.Background(), "2026-10-18")
		require.NoError(t, err)
		assert.Equal(t, domain.ExecutionCompleted, entry.Status)
		assert.Empty(t, entry.Error)
	})
}

func TestRun_AuthenticationFailureMarksDayFailed(t *testing.T) {
	const loginURL = siteRoot + "/zf_user/auth/login"
	site := static.NewSite().Handle(loginURL, `<html><body><p>점검 중입니다</p></body></html>`)
	store := mock.NewStore()
	ctrl := session.NewController(static.New(site), driver.DefaultStealthProfile(), session.Config{
		LoginURL:    loginURL,
		MaxAttempts: 3,
		Selectors:   session.DefaultSelectors(),
	}, governor.NoSleep{}, nil, zap.NewNop())

	res, err := newRun(store, ctrl, runConfig()).Execute(context.Background(), request(5, "바이오"), usecase.RunHooks{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	assert.Equal(t, domain.ExecutionFailed, res.Status)
	assert.Len(t, site.Visits(), 3, "exactly three login attempts")

	require.Len(t, store.Finished, 1)
	assert.Equal(t, domain.ExecutionFailed, store.Finished[0].Status)
	assert.NotEmpty(t, store.Finished[0].Error)
	assert.NotNil(t, store.Finished[0].EndTime)
}

func TestRun_DriverUnavailable(t *testing.T) {
	store := mock.NewStore()
	auth := &fakeAuth{err: fmt.Errorf("%w: no chrome", domain.ErrDriverUnavailable)}

	res, err := newRun(store, auth, runConfig()).Execute(context.Background(), request(5, "바이오"), usecase.RunHooks{})
	assert.ErrorIs(t, err, domain.ErrDriverUnavailable)
	assert.Equal(t, domain.ExecutionFailed, res.Status)
}

func TestRun_StopHaltsBeforeNextPosting(t *testing.T) {
	site := jobSite("서울", map[string][]int{"바이오": {1, 2, 3}})
	store := mock.NewStore()
	auth := &fakeAuth{drv: static.New(site)}

	var stopped bool
	hooks := usecase.RunHooks{
		RunID: "run-1",
		Observer: observerFunc(func(ev domain.ProgressEvent) {
			stopped = true
		}),
		Stopped: func() bool { return stopped },
	}

	res, err := newRun(store, auth, runConfig()).Execute(context.Background(), request(5, "바이오"), hooks)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, res.AppliedCount, "the in-flight application finishes")
	assert.Len(t, store.Jobs(), 1)
	assert.Equal(t, domain.ExecutionCompleted, res.Status)
}

func TestRun_CancelledContextStillFinalizes(t *testing.T) {
	site := jobSite("서울", map[string][]int{"바이오": {1, 2}})
	store := mock.NewStore()
	auth := &fakeAuth{drv: static.New(site)}
	ctx, cancel := context.WithCancel(context.Background())

	hooks := usecase.RunHooks{Observer: observerFunc(func(domain.ProgressEvent) { cancel() })}
	res, err := newRun(store, auth, runConfig()).Execute(ctx, request(5, "바이오"), hooks)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, res.AppliedCount)
	require.Len(t, store.Finished, 1)
	assert.Equal(t, 1, store.Finished[0].ApplicationsCount)
}

func TestRun_StoreUnavailable(t *testing.T) {
	store := mock.NewStore()
	store.BeginExecutionFn = func(ctx context.Context, entry *domain.ExecutionLog) error {
		return errors.New("connection refused")
	}
	auth := &fakeAuth{drv: static.New(static.NewSite())}

	_, err := newRun(store, auth, runConfig()).Execute(context.Background(), request(5, "바이오"), usecase.RunHooks{})
	assert.ErrorIs(t, err, domain.ErrDatabaseUnavailable)
	assert.Zero(t, auth.calls)
}

type observerFunc func(domain.ProgressEvent)

func (f observerFunc) OnApplied(_ context.Context, ev domain.ProgressEvent) { f(ev) }

func TestHistory(t *testing.T) {
	store := mock.NewStore()
	store.PutJob(domain.AppliedJob{JobID: "1", Company: "A", AppliedAt: now.AddDate(0, 0, -2)})
	store.PutJob(domain.AppliedJob{JobID: "2", Company: "A", AppliedAt: now.AddDate(0, 0, -20)})
	store.PutJob(domain.AppliedJob{JobID: "3", Company: "B", AppliedAt: now.AddDate(0, 0, -100)})
	store.PutExecution(domain.ExecutionLog{Date: "2026-10-17", Status: domain.ExecutionCompleted})
	store.PutExecution(domain.ExecutionLog{Date: "2026-06-01", Status: domain.ExecutionCompleted})

	uc := usecase.NewHistoryUsecase(store, zap.NewNop()).WithClock(func() time.Time { return now })

	h, err := uc.Execute(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, h.Days)
	require.Len(t, h.Applications, 1)
	assert.Equal(t, "1", h.Applications[0].JobID)
	require.Len(t, h.Executions, 1)
	assert.Equal(t, 3, h.Statistics.TotalApplications)
	assert.Equal(t, domain.CompanyCount{Company: "A", Count: 2}, h.Statistics.TopCompanies[0])

	def, err := uc.Execute(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, usecase.DefaultHistoryDays, def.Days)
	assert.Len(t, def.Applications, 2)
}

func TestCleanup(t *testing.T) {
	store := mock.NewStore()
	store.PutJob(domain.AppliedJob{JobID: "old", AppliedAt: now.AddDate(0, 0, -120)})
	store.PutJob(domain.AppliedJob{JobID: "new", AppliedAt: now.AddDate(0, 0, -10)})
	store.PutExecution(domain.ExecutionLog{Date: "2026-05-01"})
	store.PutExecution(domain.ExecutionLog{Date: "2026-10-01"})

	uc := usecase.NewHistoryUsecase(store, zap.NewNop()).WithClock(func() time.Time { return now })

	_, err := uc.Cleanup(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	res, err := uc.Cleanup(context.Background(), 90)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Applications)
	assert.Equal(t, int64(1), res.Executions)
	require.Len(t, store.Jobs(), 1)
	assert.Equal(t, "new", store.Jobs()[0].JobID)
}

func TestSettings(t *testing.T) {
	store := mock.NewStore()
	defaults := domain.Settings{Keywords: []string{"bio"}, Location: "서울", MaxApplications: 100, MaxPages: 5}
	uc := usecase.NewSettingsUsecase(store, defaults, zap.NewNop())

	got, err := uc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, defaults, *got)

	require.NoError(t, uc.Save(context.Background(), domain.Settings{Keywords: []string{"바이오", " 제약 "}, MaxApplications: 20}))
	got, err = uc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"바이오", "제약"}, got.Keywords)
	assert.Equal(t, "서울", got.Location, "unsupplied values keep their default")
	assert.Equal(t, 20, got.MaxApplications)

	raw, ok, _ := store.GetSetting(context.Background(), domain.SettingLastKeywords)
	assert.True(t, ok)
	assert.Equal(t, "바이오,제약", raw)

	assert.ErrorIs(t, uc.Save(context.Background(), domain.Settings{MaxApplications: -1}), domain.ErrInvalidInput)
}
