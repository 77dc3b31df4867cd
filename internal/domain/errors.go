package domain

import "errors"

var (
	// ErrDriverUnavailable is returned when no browser session can be acquired.
	ErrDriverUnavailable = errors.New("automation driver unavailable")

	// ErrAuthenticationFailed is returned when every login attempt failed.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrManualLoginTimeout is returned when the operator did not finish a manual login in time.
	ErrManualLoginTimeout = errors.New("manual login timed out")

	// ErrRunBusy is returned when a run is started while another one is active.
	ErrRunBusy = errors.New("a run is already in progress")

	// ErrInvalidInput is returned when start parameters are missing or out of range.
	ErrInvalidInput = errors.New("invalid run parameters")

	// ErrNotAwaitingManualLogin is returned when a manual-login resume arrives with nothing waiting.
	ErrNotAwaitingManualLogin = errors.New("no manual login is pending")

	// ErrDatabaseUnavailable is returned when the store is unreachable.
	ErrDatabaseUnavailable = errors.New("database is currently unavailable")
)
