package pricing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/permit-engine/pricing"
)

func TestPriceChanges_ToLowEmissionInNewZone(t *testing.T) {
	// GIVEN: A high-emission permit in zone A (20 then 30)
	// WHEN: Moving to zone B (30 then 40) with a low-emission vehicle (-50%)
	// THEN: -5 for May-June, -10 for July-December

	engine, _ := newEngine(append(zoneA(), zoneB()...)...)
	permit := fixedPermit("permit-1", "A", localTime(2021, time.January, 1), 12)

	changes, err := engine.PriceChanges.PriceChanges(context.Background(), permit, "B", true, noon(2021, time.April, 15))
	require.NoError(t, err)
	require.Len(t, changes, 2)

	first := changes[0]
	assert.Equal(t, pricing.ProductID("B-2021H1"), first.Product.ID)
	assertDecimal(t, "20", first.PreviousPrice)
	assertDecimal(t, "15", first.NewPrice)
	assertDecimal(t, "-5", first.PriceChange)
	assertDecimal(t, "-1.2", first.PriceChangeVAT)
	assert.Equal(t, 2, first.MonthCount)
	assert.Equal(t, date(2021, 5, 1), first.StartDate)
	assert.Equal(t, date(2021, 6, 30), first.EndDate)

	second := changes[1]
	assert.Equal(t, pricing.ProductID("B-2021H2"), second.Product.ID)
	assertDecimal(t, "30", second.PreviousPrice)
	assertDecimal(t, "20", second.NewPrice)
	assertDecimal(t, "-10", second.PriceChange)
	assertDecimal(t, "-2.4", second.PriceChangeVAT)
	assert.Equal(t, 6, second.MonthCount)
	assert.Equal(t, date(2021, 7, 1), second.StartDate)
	assert.Equal(t, date(2021, 12, 31), second.EndDate)

	assertDecimal(t, "-70", first.Total().Add(second.Total()))
}

func TestPriceChanges_ToHighEmissionInNewZone(t *testing.T) {
	// GIVEN: A low-emission permit in zone A (10 then 15 after discount)
	// WHEN: Moving to zone B with a high-emission vehicle
	// THEN: +20 for May-June, +25 for July-December

	engine, _ := newEngine(append(zoneA(), zoneB()...)...)
	permit := fixedPermit("permit-1", "A", localTime(2021, time.January, 1), 12)
	permit.LowEmission = true

	changes, err := engine.PriceChanges.PriceChanges(context.Background(), permit, "B", false, noon(2021, time.April, 15))
	require.NoError(t, err)
	require.Len(t, changes, 2)

	assertDecimal(t, "10", changes[0].PreviousPrice)
	assertDecimal(t, "30", changes[0].NewPrice)
	assertDecimal(t, "20", changes[0].PriceChange)
	assertDecimal(t, "4.8", changes[0].PriceChangeVAT)
	assert.Equal(t, 2, changes[0].MonthCount)

	assertDecimal(t, "15", changes[1].PreviousPrice)
	assertDecimal(t, "40", changes[1].NewPrice)
	assertDecimal(t, "25", changes[1].PriceChange)
	assertDecimal(t, "6", changes[1].PriceChangeVAT)
	assert.Equal(t, 6, changes[1].MonthCount)
}

func TestPriceChanges_SplitsOnProductChangeEvenWithEqualDelta(t *testing.T) {
	// GIVEN: Zone C priced 20 all year, zone D priced 30 in two products
	// WHEN: Previewing a move from C to D
	// THEN: The +10 change is reported per product, not merged

	engine, _ := newEngine(
		product("C-2021", "C", date(2021, 1, 1), date(2021, 12, 31), "20"),
		product("D-2021H1", "D", date(2021, 1, 1), date(2021, 6, 30), "30"),
		product("D-2021H2", "D", date(2021, 7, 1), date(2021, 12, 31), "30"),
	)
	permit := fixedPermit("permit-1", "C", localTime(2021, time.January, 1), 12)

	changes, err := engine.PriceChanges.PriceChanges(context.Background(), permit, "D", false, noon(2021, time.April, 15))
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, []int{2, 6}, []int{changes[0].MonthCount, changes[1].MonthCount})
	assertDecimal(t, "10", changes[0].PriceChange)
	assertDecimal(t, "10", changes[1].PriceChange)
}

func TestPriceChanges_SameZoneVehicleChangeOnly(t *testing.T) {
	engine, _ := newEngine(zoneA()...)
	permit := fixedPermit("permit-1", "A", localTime(2021, time.January, 1), 12)

	changes, err := engine.PriceChanges.PriceChanges(context.Background(), permit, "A", true, noon(2021, time.April, 15))
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assertDecimal(t, "-10", changes[0].PriceChange)
	assertDecimal(t, "-15", changes[1].PriceChange)
}

func TestPriceChanges_OpenEndedSingleEntry(t *testing.T) {
	// GIVEN: An open-ended permit started Jan 15, in its fourth month
	// WHEN: Previewing a zone change
	// THEN: One entry for the next billing month starting May 15

	engine, _ := newEngine(append(zoneA(), zoneB()...)...)
	permit := openEndedPermit("permit-1", "A", localTime(2021, time.January, 15))

	changes, err := engine.PriceChanges.PriceChanges(context.Background(), permit, "B", false, noon(2021, time.April, 20))
	require.NoError(t, err)
	require.Len(t, changes, 1)

	assertDecimal(t, "20", changes[0].PreviousPrice)
	assertDecimal(t, "30", changes[0].NewPrice)
	assertDecimal(t, "10", changes[0].PriceChange)
	assertDecimal(t, "2.4", changes[0].PriceChangeVAT)
	assert.Equal(t, 1, changes[0].MonthCount)
	assert.Equal(t, date(2021, 5, 15), changes[0].StartDate)
	assert.Equal(t, date(2021, 6, 14), changes[0].EndDate)
}

func TestPriceChanges_MissingZoneProducts(t *testing.T) {
	engine, _ := newEngine(zoneA()...)
	permit := fixedPermit("permit-1", "A", localTime(2021, time.January, 1), 12)

	_, err := engine.PriceChanges.PriceChanges(context.Background(), permit, "B", false, noon(2021, time.April, 15))
	require.Error(t, err)
	assert.ErrorIs(t, err, pricing.ErrPrice)
	assert.ErrorIs(t, err, pricing.ErrProductCatalog)

	var priceErr *pricing.PriceError
	require.ErrorAs(t, err, &priceErr)
	assert.Equal(t, pricing.Zone("B"), priceErr.Zone)
	assert.Equal(t, date(2021, 5, 1), priceErr.Date)
}

func TestPriceChanges_FixedPeriodWithoutEndTime(t *testing.T) {
	engine, _ := newEngine(append(zoneA(), zoneB()...)...)
	permit := fixedPermit("permit-1", "A", localTime(2021, time.January, 1), 12)
	permit.EndTime = nil

	_, err := engine.PriceChanges.PriceChanges(context.Background(), permit, "B", false, noon(2021, time.April, 15))
	assert.ErrorIs(t, err, pricing.ErrInvalidPermit)
}

// =============================================================================
// UNIT PRICE AND VAT
// =============================================================================

func TestModifiedUnitPrice(t *testing.T) {
	p := product("p", "A", date(2021, 1, 1), date(2021, 12, 31), "30")

	tests := []struct {
		name        string
		lowEmission bool
		secondary   bool
		want        string
	}{
		{name: "base", want: "30"},
		{name: "low emission", lowEmission: true, want: "15"},
		{name: "secondary", secondary: true, want: "45"},
		// surcharge first (30 -> 45), then discount (45 -> 22.5)
		{name: "secondary low emission", lowEmission: true, secondary: true, want: "22.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertDecimal(t, tt.want, p.ModifiedUnitPrice(tt.lowEmission, tt.secondary))
		})
	}
}

func TestSplitVAT(t *testing.T) {
	split := pricing.SplitVAT(dec("124"), dec("0.24"))
	assertDecimal(t, "100", split.Net)
	assertDecimal(t, "24", split.VAT)

	// Net is rounded, VAT takes the remainder.
	split = pricing.SplitVAT(dec("45"), dec("0.24"))
	assertDecimal(t, "36.29", split.Net)
	assertDecimal(t, "8.71", split.VAT)
	assertDecimal(t, "45", split.Net.Add(split.VAT))
}

func TestPriceChangeVAT_RoundsToFourPlaces(t *testing.T) {
	assertDecimal(t, "0.08", pricing.PriceChangeVAT(dec("0.33333"), dec("0.24")))
	assertDecimal(t, "0.2963", pricing.PriceChangeVAT(dec("1.23456"), dec("0.24")))
	assertDecimal(t, "-2.4", pricing.PriceChangeVAT(dec("-10"), dec("0.24")))
}
