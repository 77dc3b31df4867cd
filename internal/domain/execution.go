package domain

import "time"

// ExecutionStatus represents the lifecycle state of a daily run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// IsTerminal returns true if the status represents a final state.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// DateLayout is the calendar-date key format of the execution log.
const DateLayout = "2006-01-02"

// ExecutionLog is the per-day run record. At most one exists per date.
type ExecutionLog struct {
	Date              string          `json:"date"`
	ApplicationsCount int             `json:"applications_count"`
	Keywords          []string        `json:"keywords"`
	Status            ExecutionStatus `json:"status"`
	StartTime         time.Time       `json:"start_time"`
	EndTime           *time.Time      `json:"end_time,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// Credentials are the site login for one account.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RunRequest is the input of one orchestrated run.
type RunRequest struct {
	Credentials     Credentials
	Keywords        []string
	Location        string
	JobType         string
	MaxApplications int
	// MaxPages bounds result pages per keyword; zero uses the configured limit.
	MaxPages int
}

// RunResult is returned by the orchestrator.
type RunResult struct {
	Date            string          `json:"date"`
	AppliedCount    int             `json:"applied_count"`
	SkippedCount    int             `json:"skipped_count"`
	FailedCount     int             `json:"failed_count"`
	Keywords        []string        `json:"keywords"`
	Status          ExecutionStatus `json:"status"`
	AlreadyRanToday bool            `json:"already_ran_today"`
	Cancelled       bool            `json:"cancelled"`
}

// History is the read model behind the history view.
type History struct {
	Days         int            `json:"days"`
	Applications []AppliedJob   `json:"applications"`
	Executions   []ExecutionLog `json:"executions"`
	Statistics   *Statistics    `json:"statistics"`
}
