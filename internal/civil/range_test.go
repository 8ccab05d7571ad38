package civil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustRange(t *testing.T, start, end string) DateRange {
	t.Helper()
	s, err := ParseDate(start)
	require.NoError(t, err)
	e, err := ParseDate(end)
	require.NoError(t, err)
	r, err := NewRange(s, e)
	require.NoError(t, err)
	return r
}

func TestNewRangeRejectsInvertedBounds(t *testing.T) {
	t.Parallel()

	s, err := ParseDate("2015-01-10")
	require.NoError(t, err)
	e, err := ParseDate("2015-01-01")
	require.NoError(t, err)

	_, err = NewRange(s, e)
	require.Error(t, err)
}

func TestPartitionCoversRangeExactly(t *testing.T) {
	t.Parallel()

	ranges := []DateRange{
		mustRange(t, "2015-01-01", "2015-01-01"),
		mustRange(t, "2015-01-01", "2015-01-10"),
		mustRange(t, "2015-01-01", "2015-03-17"),
		mustRange(t, "2019-12-20", "2020-01-05"),
	}

	for _, r := range ranges {
		for n := 1; n <= 10; n++ {
			parts := r.Partition(n)
			require.NotEmpty(t, parts)

			// Contiguity and order: each part starts the day after the
			// previous part ends, the first starts at Start, the last
			// ends at End.
			require.True(t, parts[0].Start.Equal(r.Start))
			require.True(t, parts[len(parts)-1].End.Equal(r.End))
			for i := 1; i < len(parts); i++ {
				require.True(t, parts[i-1].End.AddDays(1).Equal(parts[i].Start),
					"range %s split %d: gap or overlap between part %d and %d", r, n, i-1, i)
			}

			// Union covers every day exactly once.
			total := 0
			for _, p := range parts {
				require.False(t, p.Start.After(p.End))
				total += p.Days()
			}
			require.Equal(t, r.Days(), total)

			// Ceil-division balance: earliest parts carry the leftover.
			base := r.Days() / n
			for i, p := range parts {
				if i < r.Days()%n {
					require.Equal(t, base+1, p.Days())
				} else {
					require.Equal(t, base, p.Days())
				}
			}
		}
	}
}

func TestPartitionExampleTwoWorkers(t *testing.T) {
	t.Parallel()

	r := mustRange(t, "2015-01-01", "2015-01-03")
	parts := r.Partition(2)

	require.Len(t, parts, 2)
	require.Equal(t, "2015-01-01..2015-01-02", parts[0].String())
	require.Equal(t, "2015-01-03..2015-01-03", parts[1].String())
}

func TestPartitionMoreWorkersThanDays(t *testing.T) {
	t.Parallel()

	r := mustRange(t, "2015-01-01", "2015-01-03")
	parts := r.Partition(5)

	require.Len(t, parts, 3)
	for _, p := range parts {
		require.Equal(t, 1, p.Days())
	}
}

func TestCourtDaysSkipWeekendsAndHolidays(t *testing.T) {
	t.Parallel()

	// 2020-01-01 is a Wednesday and New Year's Day; Jan 4/5 are a weekend.
	r := mustRange(t, "2020-01-01", "2020-01-07")
	days := r.CourtDays()

	var got []string
	for _, d := range days {
		got = append(got, d.String())
	}
	require.Equal(t, []string{"2020-01-02", "2020-01-03", "2020-01-06", "2020-01-07"}, got)
}

func TestIsCourtDayThanksgiving(t *testing.T) {
	t.Parallel()

	// Thanksgiving 2015 fell on November 26.
	require.False(t, IsCourtDay(NewDate(2015, time.November, 26)))
	require.True(t, IsCourtDay(NewDate(2015, time.November, 25)))
	require.False(t, IsCourtDay(NewDate(2015, time.July, 4))) // Saturday anyway
	require.False(t, IsCourtDay(NewDate(2016, time.July, 4)))
}

func TestDateJSONRoundTrip(t *testing.T) {
	t.Parallel()

	d, err := ParseDate("2015-06-09")
	require.NoError(t, err)

	raw, err := d.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"2015-06-09"`, string(raw))

	var back Date
	require.NoError(t, back.UnmarshalJSON(raw))
	require.True(t, d.Equal(back))
}
