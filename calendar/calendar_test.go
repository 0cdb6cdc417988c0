package calendar_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/permit-engine/calendar"
)

func helsinki(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("Europe/Helsinki")
	require.NoError(t, err)
	return loc
}

func at(loc *time.Location, year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// =============================================================================
// END OF PERIOD
// =============================================================================

func TestEndOfPeriod_SixMonths(t *testing.T) {
	loc := helsinki(t)

	got := calendar.EndOfPeriod(at(loc, 2021, time.November, 15), 6, loc)
	assert.Equal(t, time.Date(2022, time.May, 14, 23, 59, 59, 999999000, loc), got)

	got = calendar.EndOfPeriod(at(loc, 2021, time.November, 20), 6, loc)
	assert.Equal(t, time.Date(2022, time.May, 19, 23, 59, 59, 999999000, loc), got)
}

func TestEndOfPeriod_NormalizesTimeOfDay(t *testing.T) {
	loc := helsinki(t)
	start := time.Date(2021, time.January, 1, 14, 30, 0, 0, loc)

	got := calendar.EndOfPeriod(start, 12, loc)
	assert.Equal(t, time.Date(2021, time.December, 31, 23, 59, 59, 999999000, loc), got)
}

func TestEndOfPeriod_ClampsShortMonths(t *testing.T) {
	loc := helsinki(t)

	// Jan 31 + 1 month = Feb 28, minus one day
	got := calendar.EndOfPeriod(at(loc, 2021, time.January, 31), 1, loc)
	assert.Equal(t, time.Date(2021, time.February, 27, 23, 59, 59, 999999000, loc), got)
}

// =============================================================================
// MONTH DIFFERENCES
// =============================================================================

func TestMonthsFloor(t *testing.T) {
	tests := []struct {
		name       string
		start, end calendar.Date
		want       int
	}{
		{"same day", calendar.NewDate(2021, 5, 1), calendar.NewDate(2021, 5, 1), 0},
		{"ignores day", calendar.NewDate(2021, 2, 15), calendar.NewDate(2021, 3, 10), 1},
		{"across year", calendar.NewDate(2021, 11, 15), calendar.NewDate(2022, 2, 1), 3},
		{"start after end", calendar.NewDate(2021, 6, 1), calendar.NewDate(2021, 5, 1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, calendar.MonthsFloor(tt.start.Time, tt.end.Time))
		})
	}
}

func TestMonthsCeil(t *testing.T) {
	tests := []struct {
		name       string
		start, end calendar.Date
		want       int
	}{
		{"single day", calendar.NewDate(2021, 5, 1), calendar.NewDate(2021, 5, 1), 1},
		{"full month", calendar.NewDate(2021, 5, 1), calendar.NewDate(2021, 5, 31), 1},
		{"two months", calendar.NewDate(2021, 5, 1), calendar.NewDate(2021, 6, 30), 2},
		{"six months", calendar.NewDate(2021, 7, 1), calendar.NewDate(2021, 12, 31), 6},
		{"mid month period", calendar.NewDate(2021, 2, 15), calendar.NewDate(2021, 6, 14), 4},
		{"day offset reached", calendar.NewDate(2021, 2, 15), calendar.NewDate(2021, 6, 15), 5},
		{"start after end", calendar.NewDate(2021, 6, 1), calendar.NewDate(2021, 5, 1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, calendar.MonthsCeilDates(tt.start, tt.end))
		})
	}
}

func TestMonthStartsWithin(t *testing.T) {
	tests := []struct {
		name   string
		anchor calendar.Date
		period calendar.Period
		want   int
	}{
		{"first of month", calendar.NewDate(2021, 1, 1),
			calendar.Period{Start: calendar.NewDate(2021, 5, 1), End: calendar.NewDate(2021, 12, 31)}, 8},
		{"mid month", calendar.NewDate(2021, 2, 15),
			calendar.Period{Start: calendar.NewDate(2021, 6, 15), End: calendar.NewDate(2021, 12, 14)}, 6},
		{"clamped start", calendar.NewDate(2021, 1, 31),
			calendar.Period{Start: calendar.NewDate(2021, 2, 28), End: calendar.NewDate(2022, 1, 30)}, 11},
		{"clamped start, march 31st", calendar.NewDate(2021, 3, 31),
			calendar.Period{Start: calendar.NewDate(2021, 4, 30), End: calendar.NewDate(2022, 3, 30)}, 11},
		{"range before anchor", calendar.NewDate(2021, 6, 1),
			calendar.Period{Start: calendar.NewDate(2021, 1, 1), End: calendar.NewDate(2021, 5, 31)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, calendar.MonthStartsWithin(tt.anchor, tt.period))
		})
	}

	// MonthsCeil anchors on the clamped day and counts one more
	assert.Equal(t, 12, calendar.MonthsCeilDates(calendar.NewDate(2021, 2, 28), calendar.NewDate(2022, 1, 30)))
}

func TestMonthsCeil_Instants(t *testing.T) {
	loc := helsinki(t)
	start := at(loc, 2021, time.September, 15)

	assert.Equal(t, 3, calendar.MonthsCeil(start, at(loc, 2021, time.November, 15)))
	assert.Equal(t, 2, calendar.MonthsCeil(start, at(loc, 2021, time.November, 14)))
}

// =============================================================================
// DATES AND PERIODS
// =============================================================================

func TestAddMonths_ClampsDay(t *testing.T) {
	assert.Equal(t, calendar.NewDate(2021, 2, 28), calendar.NewDate(2021, 1, 31).AddMonths(1))
	assert.Equal(t, calendar.NewDate(2024, 2, 29), calendar.NewDate(2024, 1, 31).AddMonths(1))
	assert.Equal(t, calendar.NewDate(2022, 1, 31), calendar.NewDate(2021, 12, 31).AddMonths(1))
}

func TestDateOf_UsesLocation(t *testing.T) {
	loc := helsinki(t)
	// 22:30 UTC on Apr 30 is already May 1 in Helsinki
	instant := time.Date(2021, time.April, 30, 22, 30, 0, 0, time.UTC)

	assert.Equal(t, calendar.NewDate(2021, 5, 1), calendar.DateOf(instant, loc))
	assert.Equal(t, calendar.NewDate(2021, 4, 30), calendar.DateOf(instant, time.UTC))
}

func TestPeriod_ContainsAndOverlaps(t *testing.T) {
	p := calendar.Period{Start: calendar.NewDate(2021, 1, 1), End: calendar.NewDate(2021, 6, 30)}

	assert.True(t, p.Contains(calendar.NewDate(2021, 6, 30)))
	assert.False(t, p.Contains(calendar.NewDate(2021, 7, 1)))
	assert.True(t, p.Overlaps(calendar.Period{Start: calendar.NewDate(2021, 6, 30), End: calendar.NewDate(2021, 12, 31)}))
	assert.False(t, p.Overlaps(calendar.Period{Start: calendar.NewDate(2021, 7, 1), End: calendar.NewDate(2021, 12, 31)}))
	assert.Equal(t, 6, p.Months())
	assert.Equal(t, "[2021-01-01, 2021-06-30]", p.String())
}

func TestParseDate(t *testing.T) {
	d, err := calendar.ParseDate("2021-11-15")
	require.NoError(t, err)
	assert.Equal(t, calendar.NewDate(2021, 11, 15), d)

	_, err = calendar.ParseDate("15.11.2021")
	assert.Error(t, err)
}
