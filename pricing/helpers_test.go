package pricing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/permit-engine/calendar"
	"github.com/warp/permit-engine/pricing"
	"github.com/warp/permit-engine/pricing/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var helsinki = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Helsinki")
	if err != nil {
		panic(err)
	}
	return loc
}()

func date(year int, month time.Month, day int) calendar.Date {
	return calendar.NewDate(year, month, day)
}

func localTime(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, helsinki)
}

func noon(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 12, 0, 0, 0, helsinki)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func product(id string, zone pricing.Zone, start, end calendar.Date, price string) pricing.Product {
	return pricing.Product{
		ID:                           pricing.ProductID(id),
		Name:                         id,
		Zone:                         zone,
		Type:                         pricing.ProductResident,
		StartDate:                    start,
		EndDate:                      end,
		UnitPrice:                    dec(price),
		VAT:                          dec("0.24"),
		LowEmissionDiscount:          dec("0.5"),
		SecondaryVehicleIncreaseRate: dec("0.5"),
	}
}

func newEngine(products ...pricing.Product) (*pricing.Engine, *store.Memory) {
	mem := store.NewMemory()
	mem.AddProducts(products...)
	return pricing.NewEngine(mem, helsinki), mem
}

func fixedPermit(id string, zone pricing.Zone, start time.Time, months int) *pricing.Permit {
	end := calendar.EndOfPeriod(start, months, helsinki)
	return &pricing.Permit{
		ID:             pricing.PermitID(id),
		CustomerID:     "customer-1",
		VehicleID:      pricing.VehicleID("vehicle-" + id),
		Zone:           zone,
		ContractType:   pricing.ContractFixedPeriod,
		StartTime:      start,
		EndTime:        &end,
		MonthCount:     months,
		PrimaryVehicle: true,
		Status:         pricing.StatusValid,
	}
}

func openEndedPermit(id string, zone pricing.Zone, start time.Time) *pricing.Permit {
	return &pricing.Permit{
		ID:             pricing.PermitID(id),
		CustomerID:     "customer-1",
		VehicleID:      pricing.VehicleID("vehicle-" + id),
		Zone:           zone,
		ContractType:   pricing.ContractOpenEnded,
		StartTime:      start,
		MonthCount:     1,
		PrimaryVehicle: true,
		Status:         pricing.StatusValid,
	}
}

// zoneA: 20/month Jan-Jun 2021, 30/month Jul-Dec 2021.
func zoneA() []pricing.Product {
	return []pricing.Product{
		product("A-2021H1", "A", date(2021, 1, 1), date(2021, 6, 30), "20"),
		product("A-2021H2", "A", date(2021, 7, 1), date(2021, 12, 31), "30"),
	}
}

// zoneB: 30/month Jan-Jun 2021, 40/month Jul-Dec 2021.
func zoneB() []pricing.Product {
	return []pricing.Product{
		product("B-2021H1", "B", date(2021, 1, 1), date(2021, 6, 30), "30"),
		product("B-2021H2", "B", date(2021, 7, 1), date(2021, 12, 31), "40"),
	}
}
