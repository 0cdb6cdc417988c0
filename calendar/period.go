package calendar

// =============================================================================
// PERIOD - Inclusive date range
// =============================================================================

// Period is an inclusive range of dates [Start, End].
//
// Examples:
//   - A product price era: 2021-01-01 - 2021-06-30
//   - A billed order item: 2021-05-01 - 2021-06-30 (2 months)
type Period struct {
	Start Date
	End   Date
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Overlaps returns true if the two inclusive ranges share at least one day.
func (p Period) Overlaps(other Period) bool {
	return p.Start.BeforeOrEqual(other.End) && other.Start.BeforeOrEqual(p.End)
}

// IsValid reports whether End is not before Start.
func (p Period) IsValid() bool {
	return !p.End.Before(p.Start)
}

// Months returns the ceiled month count of the period.
func (p Period) Months() int {
	return MonthsCeilDates(p.Start, p.End)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
