package scrape

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/opencourt/sfcivil/internal/civil"
	"github.com/opencourt/sfcivil/internal/metrics"
)

// CaseScraper fetches one case's detail page, classifies it, persists its
// record, and dispatches document downloads.
type CaseScraper struct {
	court     Court
	ledger    Ledger
	downloads Downloader
	classify  Classifier
	clock     Clock
	logger    *zap.Logger
}

// NewCaseScraper constructs a CaseScraper.
func NewCaseScraper(
	court Court,
	ledger Ledger,
	downloads Downloader,
	classify Classifier,
	clock Clock,
	logger *zap.Logger,
) *CaseScraper {
	return &CaseScraper{
		court:     court,
		ledger:    ledger,
		downloads: downloads,
		classify:  classify,
		clock:     clock,
		logger:    logger,
	}
}

// Scrape processes one case and returns its terminal status. Session
// faults propagate to the caller; any other failure is contained as the
// error status so one bad case never blocks the rest of the day.
func (s *CaseScraper) Scrape(ctx context.Context, date civil.Date, ref CaseRef) (CaseStatus, error) {
	page, err := s.court.OpenCase(ctx, ref)
	if err != nil {
		if SessionFault(err) {
			return "", fmt.Errorf("open case %s: %w", ref.CaseNumber, err)
		}
		return s.recordError(date, ref, err)
	}

	status, marker := s.classify.Classify(page.Content)
	record := CaseRecord{
		CaseNumber: ref.CaseNumber,
		FilingDate: date,
		Parties:    parties(page, ref),
		Status:     status,
		ScrapedAt:  s.clock.Now(),
	}

	if status != CaseStatusNormal {
		record.Reason = marker
		if err := s.ledger.WriteCaseRecord(date, record); err != nil {
			return "", fmt.Errorf("write %s record for %s: %w", status, ref.CaseNumber, err)
		}
		metrics.CasesScraped.WithLabelValues(string(status)).Inc()
		s.logger.Info("case classified",
			zap.String("case", ref.CaseNumber),
			zap.String("status", string(status)),
			zap.String("marker", marker),
		)
		return status, nil
	}

	record.RegisterOfActions = page.Actions
	record.Documents = s.documentRefs(date, ref.CaseNumber, page.Actions)

	// Persist the register before any download so a crash mid-download
	// resumes with the document list intact.
	if err := s.ledger.WriteCaseRecord(date, record); err != nil {
		return "", fmt.Errorf("write case record for %s: %w", ref.CaseNumber, err)
	}

	if len(record.Documents) > 0 {
		done, err := s.downloads.Download(ctx, record.Documents)
		if err != nil {
			return "", fmt.Errorf("download documents for %s: %w", ref.CaseNumber, err)
		}
		record.Documents = done
		if err := s.ledger.WriteCaseRecord(date, record); err != nil {
			return "", fmt.Errorf("finalize case record for %s: %w", ref.CaseNumber, err)
		}
	}

	metrics.CasesScraped.WithLabelValues(string(CaseStatusNormal)).Inc()
	s.logger.Info("case scraped",
		zap.String("case", ref.CaseNumber),
		zap.Int("actions", len(record.RegisterOfActions)),
		zap.Int("documents", len(record.Documents)),
	)
	return CaseStatusNormal, nil
}

// recordError persists a distinguishable error record, so the day can
// complete and a human can audit what was skipped.
func (s *CaseScraper) recordError(date civil.Date, ref CaseRef, cause error) (CaseStatus, error) {
	s.logger.Warn("case failed",
		zap.String("case", ref.CaseNumber),
		zap.Error(cause),
	)
	record := CaseRecord{
		CaseNumber: ref.CaseNumber,
		FilingDate: date,
		Parties:    parties(CasePage{}, ref),
		Status:     CaseStatusError,
		Reason:     errorReason(cause),
		ScrapedAt:  s.clock.Now(),
	}
	if err := s.ledger.WriteCaseRecord(date, record); err != nil {
		return "", fmt.Errorf("write error record for %s: %w", ref.CaseNumber, err)
	}
	metrics.CasesScraped.WithLabelValues(string(CaseStatusError)).Inc()
	return CaseStatusError, nil
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedPage):
		return "malformed page"
	case errors.Is(err, ErrNavigationTimeout):
		return "navigation timeout"
	default:
		return err.Error()
	}
}

// documentRefs builds download tasks from register rows that carry a
// document link.
func (s *CaseScraper) documentRefs(date civil.Date, caseNumber string, actions []ActionEntry) []DocumentRef {
	var docs []DocumentRef
	for _, action := range actions {
		if action.DocURL == "" || action.DocFilename == "" {
			continue
		}
		docs = append(docs, DocumentRef{
			DocID:      action.DocID,
			CaseNumber: caseNumber,
			URL:        action.DocURL,
			TargetPath: s.ledger.DocumentPath(date, caseNumber, action.DocFilename),
		})
	}
	return docs
}

// parties prefers parties extracted from the page and falls back to
// splitting the search-result title, which the site renders as
// "PLAINTIFF VS. DEFENDANT".
func parties(page CasePage, ref CaseRef) []string {
	if len(page.Parties) > 0 {
		return page.Parties
	}
	title := strings.TrimSpace(ref.Title)
	if title == "" {
		return nil
	}
	for _, sep := range []string{" VS. ", " VS ", " vs. ", " vs "} {
		if parts := strings.Split(title, sep); len(parts) > 1 {
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return parts
		}
	}
	return []string{title}
}
