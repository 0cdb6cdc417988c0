package calendar

import "time"

// =============================================================================
// MONTH ARITHMETIC
// =============================================================================

// AddMonths adds n calendar months to t, clamping the day of month to the
// length of the target month. Time of day and location are preserved.
func AddMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	target := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(target.Year(), target.Month()); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// MonthsFloor returns the number of calendar months from start to end using
// year*12+month arithmetic. Day of month is ignored. Zero if start > end.
func MonthsFloor(start, end time.Time) int {
	if start.After(end) {
		return 0
	}
	return (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
}

// MonthsCeil is MonthsFloor plus one whenever start shifted by the floored
// month count has not passed end. Zero if start > end.
func MonthsCeil(start, end time.Time) int {
	if start.After(end) {
		return 0
	}
	months := MonthsFloor(start, end)
	if !AddMonths(start, months).After(end) {
		months++
	}
	return months
}

// MonthsCeilDates is MonthsCeil over civil dates.
func MonthsCeilDates(start, end Date) int {
	return MonthsCeil(start.Time, end.Time)
}

// EndOfPeriod returns the last moment of a period of monthCount months
// starting at start: start + monthCount months - 1 day, at
// 23:59:59.999999 in loc.
//
//	EndOfPeriod(2021-11-15, 6) == 2022-05-14T23:59:59.999999
func EndOfPeriod(start time.Time, monthCount int, loc *time.Location) time.Time {
	if loc == nil {
		loc = start.Location()
	}
	end := AddMonths(start.In(loc), monthCount).AddDate(0, 0, -1)
	return DateOf(end, loc).EndOfDay(loc)
}

// EndDateOfPeriod is EndOfPeriod for civil dates: start + months - 1 day.
func EndDateOfPeriod(start Date, monthCount int) Date {
	return start.AddMonths(monthCount).AddDays(-1)
}

// MonthStartsWithin counts the months anchor, anchor+1m, anchor+2m, ... that
// start inside p. Month starts are always derived from anchor, so a range
// opening on a clamped day (Feb 28 for an anchor on Jan 31) still finds
// Mar 31 as its next month start.
func MonthStartsWithin(anchor Date, p Period) int {
	count := 0
	for i := max(MonthsFloor(anchor.Time, p.Start.Time)-1, 0); ; i++ {
		month := anchor.AddMonths(i)
		if month.After(p.End) {
			return count
		}
		if month.AfterOrEqual(p.Start) {
			count++
		}
	}
}
