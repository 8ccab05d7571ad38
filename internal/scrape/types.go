// Package scrape defines the core types shared across subsystems and the
// per-day and per-case scrape loops built on them.
package scrape

import (
	"time"

	"github.com/opencourt/sfcivil/internal/civil"
)

// CaseStatus is the terminal classification persisted for a case.
type CaseStatus string

// Case status values persisted in the ledger.
const (
	CaseStatusNormal      CaseStatus = "normal"
	CaseStatusRestricted  CaseStatus = "restricted"
	CaseStatusUnavailable CaseStatus = "unavailable"
	CaseStatusError       CaseStatus = "error"
)

// Terminal reports whether the status marks the case as accounted for.
func (s CaseStatus) Terminal() bool {
	switch s {
	case CaseStatusNormal, CaseStatusRestricted, CaseStatusUnavailable, CaseStatusError:
		return true
	}
	return false
}

// DayStatus is the lifecycle state of one filing date.
type DayStatus string

// Day status values persisted in day_summary.json.
const (
	DayStatusPending    DayStatus = "pending"
	DayStatusInProgress DayStatus = "in_progress"
	DayStatusComplete   DayStatus = "complete"
	DayStatusFailed     DayStatus = "failed"
)

// CaseRef identifies a case as enumerated from the new-filings search.
type CaseRef struct {
	CaseNumber string `json:"case_number"`
	Title      string `json:"title,omitempty"`
	Link       string `json:"link,omitempty"`
}

// DaySummary is the resume checkpoint for one filing date. It is rewritten
// after every case so a crash loses at most one case of progress.
type DaySummary struct {
	Date         civil.Date            `json:"date"`
	TotalCases   int                   `json:"total_cases"`
	ScrapedCases int                   `json:"scraped_cases"`
	CaseStatuses map[string]CaseStatus `json:"case_statuses"`
	Status       DayStatus             `json:"status"`
	Cases        []CaseRef             `json:"cases,omitempty"`
	UpdatedAt    time.Time             `json:"last_updated"`
}

// Complete reports whether every enumerated case is accounted for.
func (s DaySummary) Complete() bool {
	return s.Status == DayStatusComplete ||
		(s.TotalCases > 0 && s.ScrapedCases == s.TotalCases)
}

// ActionEntry is one row of a case's register of actions.
type ActionEntry struct {
	Date        string `json:"date"`
	Proceedings string `json:"proceedings"`
	Fee         string `json:"fee,omitempty"`
	DocID       string `json:"doc_id,omitempty"`
	DocFilename string `json:"doc_filename,omitempty"`
	DocURL      string `json:"doc_url,omitempty"`
}

// DocumentRef is one downloadable document attached to a case. Completion
// is evidenced by the file at TargetPath, not by this record alone.
type DocumentRef struct {
	DocID      string `json:"doc_id"`
	CaseNumber string `json:"case_number"`
	URL        string `json:"url"`
	TargetPath string `json:"target_path"`
	Downloaded bool   `json:"downloaded"`
	Missing    bool   `json:"missing,omitempty"`
}

// CaseRecord is the per-case ledger entry, written atomically. A valid
// record on disk is the signal that the case is done.
type CaseRecord struct {
	CaseNumber        string        `json:"case_number"`
	FilingDate        civil.Date    `json:"filing_date"`
	Parties           []string      `json:"parties,omitempty"`
	RegisterOfActions []ActionEntry `json:"register_of_actions"`
	Documents         []DocumentRef `json:"documents"`
	Status            CaseStatus    `json:"status"`
	Reason            string        `json:"reason,omitempty"`
	ScrapedAt         time.Time     `json:"scraped_at"`
}

// Valid reports whether the record is complete enough to count the case
// as done on resume.
func (r CaseRecord) Valid() bool {
	return r.CaseNumber != "" && r.Status.Terminal()
}

// CasePage is the extracted content of one case detail page. Field
// extraction itself happens behind the Court interface; the scrape loop
// only classifies and persists.
type CasePage struct {
	Content string
	Parties []string
	Actions []ActionEntry
}

// WorkerAssignment binds one worker process to its slice of the date
// range. Immutable for the worker's lifetime; DebugPort and ProfileDir are
// unique per worker so browser sessions never collide.
type WorkerAssignment struct {
	WorkerID   int
	Range      civil.DateRange
	DebugPort  int
	ProfileDir string
	DataDir    string
}
