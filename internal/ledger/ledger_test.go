package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opencourt/sfcivil/internal/civil"
	"github.com/opencourt/sfcivil/internal/scrape"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return store
}

func date(t *testing.T, s string) civil.Date {
	t.Helper()
	d, err := civil.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestNewRequiresRoot(t *testing.T) {
	t.Parallel()

	_, err := New("  ", zap.NewNop())
	require.Error(t, err)
}

func TestDaySummaryRoundTrip(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	d := date(t, "2015-01-05")

	_, ok, err := store.ReadDaySummary(d)
	require.NoError(t, err)
	require.False(t, ok)

	summary := scrape.DaySummary{
		Date:         d,
		TotalCases:   3,
		ScrapedCases: 1,
		CaseStatuses: map[string]scrape.CaseStatus{"CGC15001": scrape.CaseStatusNormal},
		Status:       scrape.DayStatusInProgress,
		UpdatedAt:    time.Unix(100, 0).UTC(),
	}
	require.NoError(t, store.WriteDaySummary(summary))

	got, ok, err := store.ReadDaySummary(d)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, summary.TotalCases, got.TotalCases)
	require.Equal(t, summary.CaseStatuses, got.CaseStatuses)
	require.True(t, summary.Date.Equal(got.Date))
	require.False(t, store.DayComplete(d))
}

func TestDayCompleteWhenAllCasesScraped(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	d := date(t, "2015-01-06")

	require.NoError(t, store.WriteDaySummary(scrape.DaySummary{
		Date:         d,
		TotalCases:   2,
		ScrapedCases: 2,
		Status:       scrape.DayStatusComplete,
	}))
	require.True(t, store.DayComplete(d))
}

func TestCaseRecordRoundTripAndStatus(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	d := date(t, "2015-01-05")

	record := scrape.CaseRecord{
		CaseNumber: "CGC15276378",
		FilingDate: d,
		Parties:    []string{"SMITH", "JONES"},
		RegisterOfActions: ActionEntries()[:1],
		Status:            scrape.CaseStatusNormal,
	}
	require.NoError(t, store.WriteCaseRecord(d, record))

	got, ok, err := store.ReadCaseRecord(d, "CGC15276378")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record.CaseNumber, got.CaseNumber)

	status, done := store.CaseStatus(d, "CGC15276378")
	require.True(t, done)
	require.Equal(t, scrape.CaseStatusNormal, status)

	_, done = store.CaseStatus(d, "CGC15999999")
	require.False(t, done)
}

// ActionEntries returns sample register rows for tests.
func ActionEntries() []scrape.ActionEntry {
	return []scrape.ActionEntry{
		{Date: "JAN-05-2015", Proceedings: "COMPLAINT FILED", Fee: "435.00"},
		{Date: "JAN-07-2015", Proceedings: "SUMMONS ISSUED"},
	}
}

func TestMalformedRecordReadsAsAbsent(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	d := date(t, "2015-01-05")

	dir := store.CaseDir(d, "CGC15000001")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "register_of_actions.json"), []byte("{trunc"), 0o600))

	_, ok, err := store.ReadCaseRecord(d, "CGC15000001")
	require.NoError(t, err)
	require.False(t, ok)

	_, done := store.CaseStatus(d, "CGC15000001")
	require.False(t, done)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	d := date(t, "2015-01-08")
	require.NoError(t, store.WriteDaySummary(scrape.DaySummary{Date: d, Status: scrape.DayStatusPending}))

	entries, err := os.ReadDir(store.DayDir(d))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "day_summary.json", entries[0].Name())
}

func TestDocumentPresent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "doc.pdf")
	require.False(t, DocumentPresent(path, 10))

	require.NoError(t, os.WriteFile(path, []byte("tiny"), 0o600))
	require.False(t, DocumentPresent(path, 10))

	require.NoError(t, os.WriteFile(path, []byte("large enough body"), 0o600))
	require.True(t, DocumentPresent(path, 10))
}
