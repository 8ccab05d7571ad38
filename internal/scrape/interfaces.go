package scrape

import (
	"context"
	"time"

	"github.com/opencourt/sfcivil/internal/civil"
)

// Court drives the target site through the browser session. Implementations
// own navigation and field extraction; the scrape loops own classification,
// ordering, and persistence.
type Court interface {
	// SearchNewFilings returns the cases filed on the given date, in the
	// order the site lists them. A day with no filings returns an empty
	// slice and no error.
	SearchNewFilings(ctx context.Context, date civil.Date) ([]CaseRef, error)
	// OpenCase navigates to a case detail page and extracts its content.
	OpenCase(ctx context.Context, ref CaseRef) (CasePage, error)
}

// Ledger is the on-disk resume state for summaries, records, and documents.
type Ledger interface {
	ReadDaySummary(date civil.Date) (DaySummary, bool, error)
	WriteDaySummary(summary DaySummary) error
	ReadCaseRecord(date civil.Date, caseNumber string) (CaseRecord, bool, error)
	WriteCaseRecord(date civil.Date, record CaseRecord) error
	// CaseStatus returns the persisted status for a case when a valid
	// record exists.
	CaseStatus(date civil.Date, caseNumber string) (CaseStatus, bool)
	// DayComplete reports whether the date can be skipped entirely.
	DayComplete(date civil.Date) bool
	// DocumentPath returns the target path for a case document.
	DocumentPath(date civil.Date, caseNumber, filename string) string
}

// Downloader fetches a case's documents with bounded concurrency and
// returns the refs with Downloaded/Missing flags set. Individual document
// failures are recorded, not returned; the error is reserved for
// cancellation.
type Downloader interface {
	Download(ctx context.Context, docs []DocumentRef) ([]DocumentRef, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }
