package scrape

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opencourt/sfcivil/internal/civil"
)

// DayScraper drives one filing date through its state machine:
// NotStarted -> Listed -> per-case loop -> Complete. All of its decisions
// about what still needs doing come from the ledger, so a restart at any
// point resumes instead of redoing.
type DayScraper struct {
	court  Court
	ledger Ledger
	cases  *CaseScraper
	clock  Clock
	logger *zap.Logger

	// Pause is an optional delay between cases, to stay polite to the
	// site. Skipped cases pay no pause.
	Pause time.Duration
}

// NewDayScraper constructs a DayScraper.
func NewDayScraper(court Court, ledger Ledger, cases *CaseScraper, clock Clock, logger *zap.Logger) *DayScraper {
	return &DayScraper{
		court:  court,
		ledger: ledger,
		cases:  cases,
		clock:  clock,
		logger: logger,
	}
}

// Scrape processes one date. A date the ledger already marks complete is
// a no-op with zero navigations. Session faults propagate after the
// summary is persisted; every other per-case failure is contained.
func (d *DayScraper) Scrape(ctx context.Context, date civil.Date) error {
	if d.ledger.DayComplete(date) {
		d.logger.Info("day already complete, skipping", zap.Stringer("date", date))
		return nil
	}

	summary, refs, err := d.list(ctx, date)
	if err != nil {
		return err
	}

	if summary.TotalCases == 0 {
		d.logger.Info("no filings for date", zap.Stringer("date", date))
		return d.finish(&summary)
	}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("day %s canceled: %w", date, err)
		}
		if ref.CaseNumber == "" {
			continue
		}

		// Resume support: a case with a valid record on disk is done,
		// whoever wrote it and whenever.
		if status, done := d.ledger.CaseStatus(date, ref.CaseNumber); done {
			if _, counted := summary.CaseStatuses[ref.CaseNumber]; !counted {
				d.logger.Debug("case already recorded, skipping",
					zap.String("case", ref.CaseNumber))
			}
			d.account(&summary, ref.CaseNumber, status)
			continue
		}

		status, err := d.cases.Scrape(ctx, date, ref)
		if err != nil {
			// The session is unusable. Persist progress before handing
			// control to the watchdog so the retry resumes here.
			if perr := d.persist(&summary); perr != nil {
				d.logger.Error("persist summary during session fault",
					zap.Stringer("date", date), zap.Error(perr))
			}
			return fmt.Errorf("day %s: %w", date, err)
		}

		d.account(&summary, ref.CaseNumber, status)
		if err := d.persist(&summary); err != nil {
			return err
		}
		if d.Pause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(d.Pause):
			}
		}
	}

	return d.finish(&summary)
}

// MarkFailed records that the date was abandoned after bounded retries,
// so the gap is auditable from the ledger alone.
func (d *DayScraper) MarkFailed(date civil.Date) error {
	summary, ok, err := d.ledger.ReadDaySummary(date)
	if err != nil {
		return err
	}
	if !ok {
		summary = newSummary(date, 0, nil)
	}
	summary.Status = DayStatusFailed
	summary.UpdatedAt = d.clock.Now()
	if err := d.ledger.WriteDaySummary(summary); err != nil {
		return fmt.Errorf("mark day %s failed: %w", date, err)
	}
	return nil
}

// list establishes the day's case list, reusing a previously persisted
// enumeration when one exists so resuming a partially scraped day does
// not repeat the search.
func (d *DayScraper) list(ctx context.Context, date civil.Date) (DaySummary, []CaseRef, error) {
	summary, ok, err := d.ledger.ReadDaySummary(date)
	if err != nil {
		return DaySummary{}, nil, err
	}
	if ok && summary.TotalCases > 0 && len(summary.Cases) == summary.TotalCases {
		d.logger.Info("resuming day from persisted case list",
			zap.Stringer("date", date),
			zap.Int("total_cases", summary.TotalCases),
			zap.Int("scraped_cases", summary.ScrapedCases),
		)
		if summary.CaseStatuses == nil {
			summary.CaseStatuses = make(map[string]CaseStatus)
		}
		return summary, summary.Cases, nil
	}

	refs, err := d.court.SearchNewFilings(ctx, date)
	if err != nil {
		return DaySummary{}, nil, fmt.Errorf("search filings for %s: %w", date, err)
	}

	summary = newSummary(date, len(refs), refs)
	// The enumeration is the checkpoint: persist it before touching any
	// case so a crash one second from now already knows total_cases.
	if err := d.persist(&summary); err != nil {
		return DaySummary{}, nil, err
	}
	d.logger.Info("day listed",
		zap.Stringer("date", date),
		zap.Int("total_cases", len(refs)),
	)
	return summary, refs, nil
}

func newSummary(date civil.Date, total int, refs []CaseRef) DaySummary {
	return DaySummary{
		Date:         date,
		TotalCases:   total,
		CaseStatuses: make(map[string]CaseStatus),
		Status:       DayStatusInProgress,
		Cases:        refs,
	}
}

func (d *DayScraper) account(summary *DaySummary, caseNumber string, status CaseStatus) {
	summary.CaseStatuses[caseNumber] = status
	summary.ScrapedCases = len(summary.CaseStatuses)
}

func (d *DayScraper) persist(summary *DaySummary) error {
	summary.UpdatedAt = d.clock.Now()
	if err := d.ledger.WriteDaySummary(*summary); err != nil {
		return fmt.Errorf("persist summary for %s: %w", summary.Date, err)
	}
	return nil
}

func (d *DayScraper) finish(summary *DaySummary) error {
	if summary.ScrapedCases >= summary.TotalCases {
		summary.Status = DayStatusComplete
	}
	if err := d.persist(summary); err != nil {
		return err
	}
	d.logger.Info("day finished",
		zap.Stringer("date", summary.Date),
		zap.Int("scraped_cases", summary.ScrapedCases),
		zap.Int("total_cases", summary.TotalCases),
		zap.String("status", string(summary.Status)),
	)
	return nil
}
