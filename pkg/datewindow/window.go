// Package datewindow splits calendar ranges into sub-ranges no wider than
// the query-span ceiling the shop admin API enforces (3 calendar months per
// request). All day boundaries are computed in the API's local time zone.
package datewindow

import (
	"fmt"
	"time"
)

// APIZone is the fixed offset the upstream API uses for day boundaries.
// No DST, so calendar arithmetic is stable year-round.
var APIZone = time.FixedZone("KST", 9*60*60)

// DefaultCeilingMonths is the widest span the upstream accepts per query.
const DefaultCeilingMonths = 3

// Window is one [Start, End] date range, both bounds inclusive and
// day-granular (midnight in the window's location).
type Window struct {
	Start time.Time
	End   time.Time
}

// String formats the window as "2006-01-02..2006-01-02".
func (w Window) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"))
}

// truncate drops the time-of-day component in loc.
func truncate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Split covers [from, to] with an ordered, gap-free, non-overlapping
// sequence of windows. Each window ends ceilingMonths calendar months after
// the previous window's end, minus one day (normalized per time.AddDate),
// clipped to to. If from is after to the bounds are swapped.
func Split(from, to time.Time, ceilingMonths int, loc *time.Location) []Window {
	if ceilingMonths < 1 {
		ceilingMonths = DefaultCeilingMonths
	}
	if loc == nil {
		loc = APIZone
	}

	from = truncate(from, loc)
	to = truncate(to, loc)
	if from.After(to) {
		from, to = to, from
	}

	var windows []Window
	start := from
	end := from.AddDate(0, ceilingMonths, 0).AddDate(0, 0, -1)
	for end.Before(to) {
		windows = append(windows, Window{Start: start, End: end})
		start = end.AddDate(0, 0, 1)
		end = end.AddDate(0, ceilingMonths, 0).AddDate(0, 0, -1)
	}
	return append(windows, Window{Start: start, End: to})
}

// Period selects the reporting range for a customer lookup.
type Period string

const (
	// Period3Months reports over one ceiling-wide window ending today.
	Period3Months Period = "3months"

	// Period1Year reports over four consecutive 3-month windows ending today.
	Period1Year Period = "1year"
)

// Valid reports whether p is a known reporting period.
func (p Period) Valid() bool {
	return p == Period3Months || p == Period1Year
}

// ReportingWindows maps a reporting period to its windows, ending at now's
// date in loc. Each window spans exactly 3 calendar months (start = end
// minus 3 months plus one day), so every window independently respects the
// upstream ceiling.
func ReportingWindows(period Period, now time.Time, loc *time.Location) ([]Window, error) {
	if loc == nil {
		loc = APIZone
	}

	count := 0
	switch period {
	case Period3Months:
		count = 1
	case Period1Year:
		count = 4
	default:
		return nil, fmt.Errorf("unknown reporting period %q", period)
	}

	windows := make([]Window, count)
	end := truncate(now, loc)
	for i := count - 1; i >= 0; i-- {
		start := end.AddDate(0, -DefaultCeilingMonths, 0).AddDate(0, 0, 1)
		windows[i] = Window{Start: start, End: end}
		end = start.AddDate(0, 0, -1)
	}
	return windows, nil
}
