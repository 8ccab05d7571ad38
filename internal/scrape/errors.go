package scrape

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the failure taxonomy. Restricted and unavailable
// cases are statuses, not errors.
var (
	// ErrSessionUnavailable means the browser session could not be
	// established or was lost; the worker restarts the session.
	ErrSessionUnavailable = errors.New("browser session unavailable")
	// ErrSessionStuck means the browser froze mid-operation; the worker
	// restarts the session and retries the current date.
	ErrSessionStuck = errors.New("browser session stuck")
	// ErrNavigationTimeout means a page did not settle within its timeout.
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrDownloadTimeout means a document request exceeded its deadline.
	ErrDownloadTimeout = errors.New("download timeout")
	// ErrDownloadFailed means a document could not be fetched after all
	// attempts; the document is marked missing, the case continues.
	ErrDownloadFailed = errors.New("download failed")
	// ErrMalformedPage means a case page loaded but lacked the expected
	// structure; the case is marked with the error status, the day
	// continues.
	ErrMalformedPage = errors.New("malformed page")
)

// StuckError wraps ErrSessionStuck with the case the session froze on, so
// the worker can resume the exact case after a restart.
type StuckError struct {
	CaseNumber string
	Err        error
}

// Stuck wraps err as a session-stuck failure at the given case.
func Stuck(caseNumber string, err error) error {
	return &StuckError{CaseNumber: caseNumber, Err: err}
}

func (e *StuckError) Error() string {
	if e.CaseNumber == "" {
		return fmt.Sprintf("session stuck: %v", e.Err)
	}
	return fmt.Sprintf("session stuck at case %s: %v", e.CaseNumber, e.Err)
}

func (e *StuckError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrSessionStuck) match any StuckError.
func (e *StuckError) Is(target error) bool {
	return target == ErrSessionStuck
}

// SessionFault reports whether err indicates the browser session itself is
// unusable, as opposed to a contained per-case failure.
func SessionFault(err error) bool {
	return errors.Is(err, ErrSessionStuck) ||
		errors.Is(err, ErrSessionUnavailable)
}
