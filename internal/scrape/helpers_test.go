package scrape

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/opencourt/sfcivil/internal/civil"
)

// fakeCourt serves canned search results and case pages, and counts
// navigations so idempotence tests can assert zero browser work.
type fakeCourt struct {
	mu          sync.Mutex
	filings     map[string][]CaseRef
	pages       map[string]CasePage
	openErrs    map[string][]error // consumed per call, then pages
	searches    int
	opens       int
	searchErr   error
	searchCalls []string
}

func newFakeCourt() *fakeCourt {
	return &fakeCourt{
		filings:  make(map[string][]CaseRef),
		pages:    make(map[string]CasePage),
		openErrs: make(map[string][]error),
	}
}

func (c *fakeCourt) SearchNewFilings(_ context.Context, date civil.Date) ([]CaseRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searches++
	c.searchCalls = append(c.searchCalls, date.String())
	if c.searchErr != nil {
		return nil, c.searchErr
	}
	return c.filings[date.String()], nil
}

func (c *fakeCourt) OpenCase(_ context.Context, ref CaseRef) (CasePage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	if errs := c.openErrs[ref.CaseNumber]; len(errs) > 0 {
		err := errs[0]
		c.openErrs[ref.CaseNumber] = errs[1:]
		return CasePage{}, err
	}
	page, ok := c.pages[ref.CaseNumber]
	if !ok {
		return CasePage{}, fmt.Errorf("no page for case %s: %w", ref.CaseNumber, ErrMalformedPage)
	}
	return page, nil
}

func (c *fakeCourt) counts() (searches, opens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searches, c.opens
}

// memLedger is an in-memory scrape.Ledger.
type memLedger struct {
	mu        sync.Mutex
	summaries map[string]DaySummary
	records   map[string]CaseRecord
	writeErr  error
}

func newMemLedger() *memLedger {
	return &memLedger{
		summaries: make(map[string]DaySummary),
		records:   make(map[string]CaseRecord),
	}
}

func recordKey(date civil.Date, caseNumber string) string {
	return date.String() + "/" + caseNumber
}

func (l *memLedger) ReadDaySummary(date civil.Date) (DaySummary, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.summaries[date.String()]
	return s, ok, nil
}

func (l *memLedger) WriteDaySummary(summary DaySummary) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	clone := summary
	clone.CaseStatuses = make(map[string]CaseStatus, len(summary.CaseStatuses))
	for k, v := range summary.CaseStatuses {
		clone.CaseStatuses[k] = v
	}
	l.summaries[summary.Date.String()] = clone
	return nil
}

func (l *memLedger) ReadCaseRecord(date civil.Date, caseNumber string) (CaseRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[recordKey(date, caseNumber)]
	return r, ok, nil
}

func (l *memLedger) WriteCaseRecord(date civil.Date, record CaseRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.records[recordKey(date, record.CaseNumber)] = record
	return nil
}

func (l *memLedger) CaseStatus(date civil.Date, caseNumber string) (CaseStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[recordKey(date, caseNumber)]
	if !ok || !r.Valid() {
		return "", false
	}
	return r.Status, true
}

func (l *memLedger) DayComplete(date civil.Date) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.summaries[date.String()]
	return ok && s.Complete()
}

func (l *memLedger) DocumentPath(date civil.Date, caseNumber, filename string) string {
	return filepath.Join("data", date.String(), caseNumber, filename)
}

func (l *memLedger) summary(date civil.Date) (DaySummary, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.summaries[date.String()]
	return s, ok
}

func (l *memLedger) record(date civil.Date, caseNumber string) (CaseRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[recordKey(date, caseNumber)]
	return r, ok
}

// fakeDownloader marks every document downloaded except those listed in
// fail, which it marks missing.
type fakeDownloader struct {
	mu      sync.Mutex
	fail    map[string]bool
	batches [][]DocumentRef
	err     error
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{fail: make(map[string]bool)}
}

func (d *fakeDownloader) Download(_ context.Context, docs []DocumentRef) ([]DocumentRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	out := make([]DocumentRef, len(docs))
	copy(out, docs)
	for i := range out {
		if d.fail[out[i].DocID] {
			out[i].Missing = true
		} else {
			out[i].Downloaded = true
		}
	}
	d.batches = append(d.batches, out)
	return out, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func testClassifier() Classifier {
	return NewClassifier(
		[]string{"Per CCP 1161.2", "Case Is Not Available For Viewing"},
		[]string{"No Case Information Found"},
	)
}
