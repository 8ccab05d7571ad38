// Package ledger persists the on-disk resume state: per-day summaries,
// per-case records, and the document tree. Every JSON write goes through a
// temp-file-then-rename step so a crash or cancellation can never leave a
// file that parses as half of a checkpoint.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/opencourt/sfcivil/internal/civil"
	"github.com/opencourt/sfcivil/internal/scrape"
)

const (
	daySummaryFile = "day_summary.json"
	caseRecordFile = "register_of_actions.json"
)

// Store is a ledger rooted at a data directory, laid out as
// data/<date>/day_summary.json and data/<date>/<case>/register_of_actions.json.
type Store struct {
	root   string
	logger *zap.Logger
}

// New creates a ledger rooted at dir, creating it if needed.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("ledger root is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create ledger root %s: %w", dir, err)
	}
	return &Store{root: dir, logger: logger}, nil
}

// DayDir returns the directory holding one date's output.
func (s *Store) DayDir(date civil.Date) string {
	return filepath.Join(s.root, date.String())
}

// CaseDir returns the directory holding one case's record and documents.
func (s *Store) CaseDir(date civil.Date, caseNumber string) string {
	return filepath.Join(s.DayDir(date), caseNumber)
}

// DocumentPath returns the target path for a case document.
func (s *Store) DocumentPath(date civil.Date, caseNumber, filename string) string {
	return filepath.Join(s.CaseDir(date, caseNumber), filename)
}

// ReadDaySummary loads the summary for a date. The boolean is false when no
// summary exists; a malformed summary reads as absent so the day is redone.
func (s *Store) ReadDaySummary(date civil.Date) (scrape.DaySummary, bool, error) {
	path := filepath.Join(s.DayDir(date), daySummaryFile)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return scrape.DaySummary{}, false, nil
	}
	if err != nil {
		return scrape.DaySummary{}, false, fmt.Errorf("read day summary %s: %w", path, err)
	}
	var summary scrape.DaySummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		s.logger.Warn("discarding malformed day summary",
			zap.String("path", path), zap.Error(err))
		return scrape.DaySummary{}, false, nil
	}
	return summary, true, nil
}

// WriteDaySummary persists the summary atomically.
func (s *Store) WriteDaySummary(summary scrape.DaySummary) error {
	dir := s.DayDir(summary.Date)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create day dir %s: %w", dir, err)
	}
	return writeJSON(filepath.Join(dir, daySummaryFile), summary)
}

// ReadCaseRecord loads the record for a case. Malformed records read as
// absent so the case is redone.
func (s *Store) ReadCaseRecord(date civil.Date, caseNumber string) (scrape.CaseRecord, bool, error) {
	path := filepath.Join(s.CaseDir(date, caseNumber), caseRecordFile)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return scrape.CaseRecord{}, false, nil
	}
	if err != nil {
		return scrape.CaseRecord{}, false, fmt.Errorf("read case record %s: %w", path, err)
	}
	var record scrape.CaseRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		s.logger.Warn("discarding malformed case record",
			zap.String("path", path), zap.Error(err))
		return scrape.CaseRecord{}, false, nil
	}
	return record, true, nil
}

// WriteCaseRecord persists the record atomically under its case directory.
func (s *Store) WriteCaseRecord(date civil.Date, record scrape.CaseRecord) error {
	dir := s.CaseDir(date, record.CaseNumber)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create case dir %s: %w", dir, err)
	}
	return writeJSON(filepath.Join(dir, caseRecordFile), record)
}

// CaseStatus returns the persisted status when a valid record exists.
func (s *Store) CaseStatus(date civil.Date, caseNumber string) (scrape.CaseStatus, bool) {
	record, ok, err := s.ReadCaseRecord(date, caseNumber)
	if err != nil || !ok || !record.Valid() {
		return "", false
	}
	return record.Status, true
}

// DayComplete reports whether the date's summary marks it done and the
// date can be skipped without any navigation.
func (s *Store) DayComplete(date civil.Date) bool {
	summary, ok, err := s.ReadDaySummary(date)
	if err != nil || !ok {
		return false
	}
	return summary.Complete()
}

// DocumentPresent reports whether a document exists at path with at least
// minBytes of content.
func DocumentPresent(path string, minBytes int64) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() >= minBytes
}

// writeJSON marshals v and renames it into place so readers never observe
// a partial file.
func writeJSON(path string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s into place: %w", path, err)
	}
	return nil
}
