// Package pipeline applies to a single posting and records the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/YonghoLee79/saramjobhunter/internal/domain"
	"github.com/YonghoLee79/saramjobhunter/internal/driver"
	"github.com/YonghoLee79/saramjobhunter/internal/governor"
	"github.com/YonghoLee79/saramjobhunter/internal/metrics"
	"github.com/YonghoLee79/saramjobhunter/internal/repository"
)

var (
	// ErrApplyControlNotFound means the posting page has apply text but no usable control.
	ErrApplyControlNotFound = errors.New("apply control not found")
	// ErrPostingClosed means the posting page offers no way to apply.
	ErrPostingClosed = errors.New("posting appears closed")
	// ErrSubmitControlNotFound means the application form had no submit control.
	ErrSubmitControlNotFound = errors.New("submit control not found")
	// ErrSubmissionRejected means the site answered the submission with a failure signal.
	ErrSubmissionRejected = errors.New("submission rejected")
	// ErrUnconfirmed means no success signal was seen and strict confirmation is on.
	ErrUnconfirmed = errors.New("submission not confirmed")
)

// Selectors are the candidate lookups used on posting pages, tried in order.
type Selectors struct {
	Company []driver.Selector `yaml:"company"`
	Title   []driver.Selector `yaml:"title"`
	Apply   []driver.Selector `yaml:"apply"`
	Resume  []driver.Selector `yaml:"resume"`
	Submit  []driver.Selector `yaml:"submit"`
}

// DefaultSelectors are the Saramin posting page lookups.
func DefaultSelectors() Selectors {
	return Selectors{
		Company: driver.ParseSelectors([]string{
			".company_nm a", ".company_nm", ".company-name", ".corp_name a", ".corp_name",
			".company_info .name", ".wrap_jv_header .company", ".jv_header .company",
		}),
		Title: driver.ParseSelectors([]string{
			".job_tit", ".job-tit", "h1.job_title", ".wrap_jv_header .tit_job", ".jv_header .tit_job", "h1.title", "h1",
		}),
		Apply: driver.ParseSelectors([]string{
			"button.btn_apply", "a.btn_apply", ".btn-apply", "button[onclick*='apply']", "a[href*='apply']",
			".apply-btn", ".job_apply button", ".apply_area button",
			"xpath://button[contains(text(), '지원하기')]", "xpath://a[contains(text(), '지원하기')]",
			"xpath://button[contains(text(), '즉시지원')]", "xpath://a[contains(text(), '즉시지원')]",
			"text:지원하기", "text:즉시지원",
		}),
		Resume: driver.ParseSelectors([]string{
			"input[type='radio'][name*='resume']", "input[type='radio'][name*='cv']",
			"input[type='radio'][class*='resume']", ".resume-select input[type='radio']", ".cv-select input[type='radio']",
		}),
		Submit: driver.ParseSelectors([]string{
			"button[class*='submit']", "button[class*='apply']", "input[type='submit']",
			"xpath://button[contains(text(), '지원하기')]", "xpath://button[contains(text(), '제출하기')]",
			"xpath://button[contains(text(), '지원완료')]", "xpath://input[@type='submit' and contains(@value, '지원')]",
			"text:제출하기", "text:지원완료",
			".btn_submit", ".btn_apply", ".submit-btn", ".apply-btn",
		}),
	}
}

// Config controls the per-posting flow.
type Config struct {
	Selectors Selectors
	// CooldownDays is the company-level lookback window.
	CooldownDays int
	// StrictConfirmation fails submissions that produced no explicit success signal.
	StrictConfirmation bool
	// SuccessPhrases confirm a submission when they appear in the page after
	// submit more often than on the form itself, or in a changed URL.
	SuccessPhrases []string
	// DialogSuccessPhrases confirm a submission when present in an alert.
	DialogSuccessPhrases []string
	// URLSuccessMarkers confirm a submission when the URL changed to contain one.
	URLSuccessMarkers []string
	// ApplyTextMarkers distinguish markup drift from closed postings.
	ApplyTextMarkers []string
	// TitleSiteSuffix marks document titles of the form "<title> | <site>".
	TitleSiteSuffix string
	LoginMarkers    []string
	ElementWait     time.Duration
	StepDelay       governor.Range
}

// DefaultConfig returns the Saramin defaults.
func DefaultConfig() Config {
	return Config{
		Selectors:            DefaultSelectors(),
		CooldownDays:         30,
		SuccessPhrases:       []string{"지원이 완료", "지원완료", "apply_complete"},
		DialogSuccessPhrases: []string{"완료", "성공"},
		URLSuccessMarkers:    []string{"complete"},
		ApplyTextMarkers:     []string{"지원하기", "즉시지원"},
		TitleSiteSuffix:      "사람인",
		LoginMarkers:         []string{"login"},
		ElementWait:          10 * time.Second,
		StepDelay:            governor.Range{Min: 2 * time.Second, Max: 3 * time.Second},
	}
}

// ProgressObserver receives an event after every recorded application.
type ProgressObserver interface {
	OnApplied(ctx context.Context, ev domain.ProgressEvent)
}

// Pipeline applies to postings for one run. It is not safe for concurrent use
// because it drives a single browser session.
type Pipeline struct {
	store    repository.ApplicationRepository
	cfg      Config
	sleeper  governor.Sleeper
	observer ProgressObserver
	logger   *zap.Logger
	now      func() time.Time
	runID    string

	mu      sync.Mutex
	applied int
}

// New creates a pipeline. observer may be nil.
func New(
	store repository.ApplicationRepository,
	cfg Config,
	sleeper governor.Sleeper,
	observer ProgressObserver,
	runID string,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		store:    store,
		cfg:      cfg,
		sleeper:  sleeper,
		observer: observer,
		logger:   logger,
		now:      time.Now,
		runID:    runID,
	}
}

// WithClock overrides the time source.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Applied returns the number of applications recorded by this pipeline.
func (p *Pipeline) Applied() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applied
}

// Apply runs the full flow for one posting. A failed outcome carries the reason
// as the error; applied and skipped outcomes return a nil error.
func (p *Pipeline) Apply(ctx context.Context, sess driver.Session, ref domain.PostingRef, keyword string) (domain.Outcome, error) {
	outcome, err := p.apply(ctx, sess, ref, keyword)
	metrics.ApplicationsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (p *Pipeline) apply(ctx context.Context, sess driver.Session, ref domain.PostingRef, keyword string) (domain.Outcome, error) {
	log := p.logger.With(zap.String("job_id", ref.ID), zap.String("url", ref.URL), zap.String("keyword", keyword))

	jobID := ref.ID
	if jobID == "" {
		jobID = domain.ExtractJobID(ref.URL)
	}

	exists, err := p.store.Exists(ctx, jobID)
	if err != nil {
		log.Error("Dedup lookup failed", zap.Error(err))
		return domain.OutcomeFailed, fmt.Errorf("dedup lookup: %w", err)
	}
	if exists {
		log.Info("Already applied, skipping")
		return domain.OutcomeSkipped, nil
	}

	if err := sess.Navigate(ctx, ref.URL); err != nil {
		log.Warn("Failed to open posting", zap.Error(err))
		return domain.OutcomeFailed, err
	}
	if err := sess.WaitReady(ctx); err != nil {
		log.Warn("Posting did not load", zap.Error(err))
		return domain.OutcomeFailed, err
	}
	if err := governor.Pause(ctx, p.sleeper, p.cfg.StepDelay); err != nil {
		return domain.OutcomeFailed, err
	}

	company := p.extractText(ctx, sess, p.cfg.Selectors.Company)
	title := p.extractText(ctx, sess, p.cfg.Selectors.Title)
	if title == domain.UnknownValue {
		title = p.titleFromDocument(ctx, sess)
	}
	log = log.With(zap.String("company", company), zap.String("title", title))

	if company != domain.UnknownValue && p.cfg.CooldownDays > 0 {
		since := p.now().AddDate(0, 0, -p.cfg.CooldownDays)
		recent, err := p.store.CompanyAppliedSince(ctx, company, since)
		if err != nil {
			log.Error("Company cooldown lookup failed", zap.Error(err))
			return domain.OutcomeFailed, fmt.Errorf("cooldown lookup: %w", err)
		}
		if recent {
			log.Info("Company applied to recently, skipping", zap.Int("cooldown_days", p.cfg.CooldownDays))
			return domain.OutcomeSkipped, nil
		}
	}

	postingURL, _ := sess.CurrentURL(ctx)
	apply, _, found, err := driver.Locate(ctx, sess, p.cfg.Selectors.Apply, p.cfg.ElementWait)
	if err != nil {
		log.Warn("Apply control lookup failed", zap.Error(err))
		return domain.OutcomeFailed, err
	}
	if !found {
		reason := p.missingApplyReason(ctx, sess)
		log.Warn("Apply control unavailable", zap.Error(reason), zap.String("current_url", postingURL))
		return domain.OutcomeFailed, reason
	}
	if err := apply.Click(ctx); err != nil {
		log.Warn("Apply click failed", zap.Error(err))
		return domain.OutcomeFailed, fmt.Errorf("click apply: %w", err)
	}
	if err := governor.Pause(ctx, p.sleeper, p.cfg.StepDelay); err != nil {
		return domain.OutcomeFailed, err
	}

	status, err := p.submit(ctx, sess, log)
	if err != nil {
		log.Warn("Application not submitted", zap.Error(err))
		return domain.OutcomeFailed, err
	}

	return p.record(ctx, log, domain.AppliedJob{
		JobID:     jobID,
		URL:       ref.URL,
		Company:   company,
		Title:     title,
		Keyword:   keyword,
		Status:    status,
		AppliedAt: p.now(),
	})
}

// submit picks a resume, clicks submit and classifies the response.
func (p *Pipeline) submit(ctx context.Context, sess driver.Session, log *zap.Logger) (domain.ApplicationStatus, error) {
	// A confirming dialog right after the apply click means a one-click application.
	if confirmed, err := p.readDialog(ctx, sess); err != nil || confirmed {
		return domain.ApplicationApplied, err
	}

	formURL, err := sess.CurrentURL(ctx)
	if err != nil {
		return "", err
	}

	resume, matched, ok, err := driver.Locate(ctx, sess, p.cfg.Selectors.Resume, 0)
	if err != nil {
		return "", err
	}
	if ok {
		if err := resume.Click(ctx); err != nil {
			return "", fmt.Errorf("select resume: %w", err)
		}
		log.Debug("Resume selected", zap.String("selector", matched.String()))
	} else {
		log.Debug("No resume selector present, assuming default resume")
	}

	submit, _, ok, err := driver.Locate(ctx, sess, p.cfg.Selectors.Submit, p.cfg.ElementWait)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w at %s", ErrSubmitControlNotFound, formURL)
	}
	// Form labels such as a "지원완료" button must not count as confirmation.
	formSource, err := sess.PageSource(ctx)
	if err != nil {
		return "", err
	}
	if err := submit.Click(ctx); err != nil {
		return "", fmt.Errorf("click submit: %w", err)
	}
	if err := governor.Pause(ctx, p.sleeper, p.cfg.StepDelay); err != nil {
		return "", err
	}

	if confirmed, err := p.readDialog(ctx, sess); err != nil || confirmed {
		return domain.ApplicationApplied, err
	}

	current, err := sess.CurrentURL(ctx)
	if err != nil {
		return "", err
	}
	if containsAny(current, p.cfg.LoginMarkers) {
		return "", fmt.Errorf("%w: redirected to login", ErrSubmissionRejected)
	}
	moved := current != formURL
	if moved && (containsAny(current, p.cfg.URLSuccessMarkers) || containsAny(current, p.cfg.SuccessPhrases)) {
		return domain.ApplicationApplied, nil
	}
	source, err := sess.PageSource(ctx)
	if err != nil {
		return "", err
	}
	if appeared(formSource, source, p.cfg.SuccessPhrases) {
		return domain.ApplicationApplied, nil
	}

	if p.cfg.StrictConfirmation {
		return "", ErrUnconfirmed
	}
	log.Info("No explicit success signal, recording as unknown")
	return domain.ApplicationUnknown, nil
}

// readDialog accepts an open dialog. It reports true for a confirming
// message and an error for any other message.
func (p *Pipeline) readDialog(ctx context.Context, sess driver.Session) (bool, error) {
	text, open, err := sess.PendingDialog(ctx)
	if err != nil || !open {
		return false, err
	}
	if err := sess.AcceptDialog(ctx); err != nil {
		return false, err
	}
	if containsAny(text, p.cfg.DialogSuccessPhrases) {
		return true, nil
	}
	return false, fmt.Errorf("%w: %s", ErrSubmissionRejected, text)
}

func (p *Pipeline) record(ctx context.Context, log *zap.Logger, job domain.AppliedJob) (domain.Outcome, error) {
	err := p.store.Insert(ctx, &job)
	if errors.Is(err, repository.ErrDuplicateApplication) {
		log.Info("Application recorded concurrently, skipping")
		return domain.OutcomeSkipped, nil
	}
	if err != nil {
		log.Error("Failed to record application", zap.Error(err))
		return domain.OutcomeFailed, fmt.Errorf("record application: %w", err)
	}

	p.mu.Lock()
	p.applied++
	count := p.applied
	p.mu.Unlock()

	log.Info("Application submitted", zap.String("status", string(job.Status)), zap.Int("running_count", count))
	if p.observer != nil {
		p.observer.OnApplied(ctx, domain.ProgressEvent{
			RunID:        p.runID,
			JobID:        job.JobID,
			URL:          job.URL,
			Company:      job.Company,
			Title:        job.Title,
			Keyword:      job.Keyword,
			RunningCount: count,
			At:           job.AppliedAt,
		})
	}
	return domain.OutcomeApplied, nil
}

func (p *Pipeline) extractText(ctx context.Context, sess driver.Session, sels []driver.Selector) string {
	for _, sel := range sels {
		el, ok, err := sess.Find(ctx, sel)
		if err != nil || !ok {
			continue
		}
		text, err := el.Text(ctx)
		if err != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			return text
		}
	}
	return domain.UnknownValue
}

// titleFromDocument reads "<title> | 사람인" style document titles.
func (p *Pipeline) titleFromDocument(ctx context.Context, sess driver.Session) string {
	doc, err := sess.Title(ctx)
	if err != nil || p.cfg.TitleSiteSuffix == "" || !strings.Contains(doc, p.cfg.TitleSiteSuffix) {
		return domain.UnknownValue
	}
	if head := strings.TrimSpace(strings.Split(doc, "|")[0]); head != "" {
		return head
	}
	return domain.UnknownValue
}

func (p *Pipeline) missingApplyReason(ctx context.Context, sess driver.Session) error {
	source, err := sess.PageSource(ctx)
	if err == nil && containsAny(source, p.cfg.ApplyTextMarkers) {
		return ErrApplyControlNotFound
	}
	return ErrPostingClosed
}

// appeared reports whether a phrase occurs in after more often than in before.
func appeared(before, after string, phrases []string) bool {
	before, after = strings.ToLower(before), strings.ToLower(after)
	for _, n := range phrases {
		n = strings.ToLower(n)
		if n != "" && strings.Count(after, n) > strings.Count(before, n) {
			return true
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(strings.ToLower(s), strings.ToLower(n)) {
			return true
		}
	}
	return false
}
