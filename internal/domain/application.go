package domain

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"regexp"
	"time"
)

// ApplicationStatus represents the recorded state of a submitted application.
type ApplicationStatus string

const (
	ApplicationApplied  ApplicationStatus = "applied"
	ApplicationRejected ApplicationStatus = "rejected"
	// ApplicationUnknown marks a submission that produced no explicit success signal.
	ApplicationUnknown ApplicationStatus = "unknown"
)

// Outcome is the result of running the application pipeline on one posting.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// UnknownValue is recorded when a company name or title could not be extracted.
const UnknownValue = "unknown"

// PostingRef points at one job listing discovered during a search.
type PostingRef struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

// NewPostingRef builds a reference and derives its stable identifier.
func NewPostingRef(rawURL string) PostingRef {
	return PostingRef{URL: rawURL, ID: ExtractJobID(rawURL)}
}

// AppliedJob is one row of the applied-job ledger.
type AppliedJob struct {
	JobID     string            `json:"job_id" db:"job_id"`
	URL       string            `json:"url" db:"url"`
	Company   string            `json:"company" db:"company"`
	Title     string            `json:"title" db:"title"`
	Keyword   string            `json:"keyword" db:"keyword"`
	Status    ApplicationStatus `json:"status" db:"status"`
	AppliedAt time.Time         `json:"applied_at" db:"applied_at"`
}

// CompanyCount is one entry of the "most applied companies" statistic.
type CompanyCount struct {
	Company string `json:"company" db:"company"`
	Count   int    `json:"count" db:"count"`
}

// Statistics summarises the applied-job ledger.
type Statistics struct {
	TotalApplications int            `json:"total_applications"`
	WeekApplications  int            `json:"week_applications"`
	MonthApplications int            `json:"month_applications"`
	TopCompanies      []CompanyCount `json:"top_companies"`
}

// ProgressEvent is emitted after every confirmed application.
type ProgressEvent struct {
	RunID        string    `json:"run_id,omitempty"`
	JobID        string    `json:"job_id"`
	URL          string    `json:"url"`
	Company      string    `json:"company"`
	Title        string    `json:"title"`
	Keyword      string    `json:"keyword"`
	RunningCount int       `json:"running_count"`
	At           time.Time `json:"at"`
}

var numericSegment = regexp.MustCompile(`/(\d+)(?:/|$)`)

// ExtractJobID derives a stable identifier from a posting URL. A rec_idx query
// parameter wins, then the first all-digit path segment, then an MD5 prefix of
// the whole URL.
func ExtractJobID(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if idx := u.Query().Get("rec_idx"); idx != "" && isDigits(idx) {
			return idx
		}
		if m := numericSegment.FindStringSubmatch(u.Path); m != nil {
			return m[1]
		}
	}
	sum := md5.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:16]
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
