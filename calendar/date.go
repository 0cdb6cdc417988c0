/*
Package calendar provides the date arithmetic used by permit pricing.

PURPOSE:
  Permits are billed per calendar month. Every pricing algorithm needs the
  same small set of helpers: civil dates, "localdate" of an instant, month
  differences rounded down or up, and the last moment of a billed period.

KEY CONCEPTS:
  - Date: A civil date (no time of day), stored as UTC midnight
  - Period: An inclusive [Start, End] range of dates
  - MonthsFloor / MonthsCeil: Whole-month differences between instants
  - EndOfPeriod: start + N months - 1 day, at 23:59:59.999999 local time

NO AMBIENT CLOCK:
  Nothing in this package reads time.Now(). Callers pass the evaluation
  instant ("as of") and the location explicitly, so every computation can be
  reproduced in tests.

MONTH ADDITION:
  Adding months clamps the day to the last day of the target month:
    Jan 31 + 1 month = Feb 28 (not Mar 3 as time.AddDate would give)

SEE ALSO:
  - period.go: Period type
  - months.go: MonthsFloor, MonthsCeil, EndOfPeriod
*/
package calendar

import (
	"time"

	"github.com/cockroachdb/errors"
)

// =============================================================================
// DATE - Civil date without time of day
// =============================================================================

// Date is a calendar day. The zero value is the zero date.
type Date struct {
	Time time.Time
}

const layout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the local calendar date of an instant in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc != nil {
		t = t.In(loc)
	}
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return Date{}, errors.Wrapf(err, "invalid date %q", s)
	}
	return Date{Time: t}, nil
}

func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(other Date) bool        { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool         { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool         { return d.Time.Equal(other.Time) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }
func (d Date) Compare(other Date) int        { return d.Time.Compare(other.Time) }

// Arithmetic
func (d Date) AddDays(n int) Date   { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{Time: AddMonths(d.Time, n)} }

// Properties
func (d Date) Year() int         { return d.Time.Year() }
func (d Date) Month() time.Month { return d.Time.Month() }
func (d Date) Day() int          { return d.Time.Day() }
func (d Date) IsZero() bool      { return d.Time.IsZero() }
func (d Date) String() string    { return d.Time.Format(layout) }

// StartOfDay returns the first instant of the date in loc.
func (d Date) StartOfDay(loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns the last representable microsecond of the date in loc.
func (d Date) EndOfDay(loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 999999000, loc)
}

func MaxDate(a, b Date) Date {
	if a.After(b) {
		return a
	}
	return b
}

func MinDate(a, b Date) Date {
	if a.Before(b) {
		return a
	}
	return b
}

func StartOfMonth(year int, month time.Month) Date { return NewDate(year, month, 1) }

func EndOfMonth(year int, month time.Month) Date {
	return StartOfMonth(year, month).AddMonths(1).AddDays(-1)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
