package civil

import (
	"fmt"
	"time"
)

// DateRange is an inclusive, ordered span of calendar days.
type DateRange struct {
	Start Date
	End   Date
}

// NewRange validates that start <= end and returns the range.
func NewRange(start, end Date) (DateRange, error) {
	if start.After(end) {
		return DateRange{}, fmt.Errorf("range start %s is after end %s", start, end)
	}
	return DateRange{Start: start, End: end}, nil
}

// Days returns the number of calendar days in the range, inclusive.
func (r DateRange) Days() int {
	n := 0
	for d := r.Start; !d.After(r.End); d = d.AddDays(1) {
		n++
	}
	return n
}

// Dates returns every calendar day in the range, in order.
func (r DateRange) Dates() []Date {
	var out []Date
	for d := r.Start; !d.After(r.End); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

// String renders the range as "start..end".
func (r DateRange) String() string {
	return r.Start.String() + ".." + r.End.String()
}

// Partition splits the range into at most n contiguous, non-overlapping
// sub-ranges that together cover the range exactly once, in calendar order.
// Day counts are balanced by ceiling division: when days do not divide
// evenly, the leftover days go to the earliest sub-ranges. When the range
// holds fewer days than n, fewer than n sub-ranges are returned.
func (r DateRange) Partition(n int) []DateRange {
	if n < 1 {
		n = 1
	}
	total := r.Days()
	base, extra := total/n, total%n

	var parts []DateRange
	cursor := r.Start
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		if size == 0 {
			continue
		}
		end := cursor.AddDays(size - 1)
		parts = append(parts, DateRange{Start: cursor, End: end})
		cursor = end.AddDays(1)
	}
	return parts
}

// CourtDays returns the days in the range on which the court accepts new
// filings: weekdays that are not federal holidays.
func (r DateRange) CourtDays() []Date {
	var out []Date
	for d := r.Start; !d.After(r.End); d = d.AddDays(1) {
		if IsCourtDay(d) {
			out = append(out, d)
		}
	}
	return out
}

// IsCourtDay reports whether the court is open on the given date.
func IsCourtDay(d Date) bool {
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !isFederalHoliday(d)
}

// isFederalHoliday covers the holidays the court is always closed for:
// New Year's Day, Independence Day, Christmas, and Thanksgiving.
func isFederalHoliday(d Date) bool {
	month, day := d.t.Month(), d.t.Day()
	switch {
	case month == time.January && day == 1:
		return true
	case month == time.July && day == 4:
		return true
	case month == time.December && day == 25:
		return true
	case month == time.November:
		return day == thanksgivingDay(d.Year())
	}
	return false
}

// thanksgivingDay returns the day-of-month of the fourth Thursday of
// November for the given year.
func thanksgivingDay(year int) int {
	first := time.Date(year, time.November, 1, 0, 0, 0, 0, time.UTC)
	daysUntilThursday := (int(time.Thursday) - int(first.Weekday()) + 7) % 7
	return 1 + daysUntilThursday + 21
}
