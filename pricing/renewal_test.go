package pricing_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/permit-engine/calendar"
	"github.com/warp/permit-engine/pricing"
)

func paymentTotal(items []pricing.OrderItem) string {
	total := dec("0")
	for _, item := range items {
		total = total.Add(item.TotalPaymentPrice())
	}
	return total.String()
}

func TestRenewPermit_ZoneChangeChargesDifference(t *testing.T) {
	// GIVEN: A paid 2021 permit in zone A (20 then 30)
	// WHEN: It moves to zone B (30 then 40) on April 15th
	// THEN: May-June owe +10/month, July-December owe +10/month

	engine, _ := newEngine(append(zoneA(), zoneB()...)...)
	permit, order := paidYear(t, engine)
	permit.Zone = "B"

	items, err := engine.Renewals.RenewPermit(context.Background(), permit, order.Items, noon(2021, time.April, 15))
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, pricing.ProductID("B-2021H1"), items[0].ProductID)
	assertDecimal(t, "30", items[0].UnitPrice)
	assertDecimal(t, "10", items[0].PaymentUnitPrice)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, calendar.Period{Start: date(2021, 5, 1), End: date(2021, 6, 30)}, items[0].Period())

	assert.Equal(t, pricing.ProductID("B-2021H2"), items[1].ProductID)
	assertDecimal(t, "40", items[1].UnitPrice)
	assertDecimal(t, "10", items[1].PaymentUnitPrice)
	assert.Equal(t, 6, items[1].Quantity)
	assert.Equal(t, calendar.Period{Start: date(2021, 7, 1), End: date(2021, 12, 31)}, items[1].Period())

	// new total 300 - paid unused 220
	assertDecimal(t, "80", dec(paymentTotal(items)))
}

func TestRenewPermit_MisalignedPeriodsConserveTotal(t *testing.T) {
	// GIVEN: One paid item for the whole year at 10/month
	// WHEN: Moving to zone B whose products split at July
	// THEN: Two items, and the payments sum to new total minus paid total

	engine, _ := newEngine(append(zoneB(),
		product("C-2021", "C", date(2021, 1, 1), date(2021, 12, 31), "10"),
	)...)
	permit := fixedPermit("permit-1", "C", localTime(2021, time.January, 1), 12)
	order, err := engine.Orders.BuildOrder(context.Background(), []*pricing.Permit{permit})
	require.NoError(t, err)
	require.Len(t, order.Items, 1)

	permit.Zone = "B"
	asOf := noon(2021, time.April, 15)
	items, err := engine.Renewals.RenewPermit(context.Background(), permit, order.Items, asOf)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assertDecimal(t, "20", items[0].PaymentUnitPrice)
	assert.Equal(t, 2, items[0].Quantity)
	assertDecimal(t, "30", items[1].PaymentUnitPrice)
	assert.Equal(t, 6, items[1].Quantity)

	paid, err := engine.Refunds.RefundAmount(permit, order.Items, asOf)
	require.NoError(t, err)
	newTotal := dec("0")
	for _, item := range items {
		newTotal = newTotal.Add(item.TotalPrice())
	}
	assertDecimal(t, newTotal.Sub(paid).String(), dec(paymentTotal(items)))
	assertDecimal(t, "220", dec(paymentTotal(items)))
}

func TestRenewPermit_ConservationAcrossDates(t *testing.T) {
	engine, _ := newEngine(append(append(zoneA(), zoneB()...),
		product("A-2022", "A", date(2022, 1, 1), date(2022, 12, 31), "35"),
		product("B-2022", "B", date(2022, 1, 1), date(2022, 12, 31), "45"),
	)...)

	starts := []time.Time{
		localTime(2021, time.January, 1),
		localTime(2021, time.January, 31),
		localTime(2021, time.March, 31),
	}
	dates := []time.Time{
		noon(2020, time.December, 31),
		noon(2021, time.January, 1),
		noon(2021, time.February, 10),
		noon(2021, time.March, 3),
		noon(2021, time.April, 10),
		noon(2021, time.June, 30),
		noon(2021, time.July, 1),
		noon(2021, time.October, 31),
	}
	for _, start := range starts {
		for _, asOf := range dates {
			t.Run(start.Format("2006-01-02")+"/"+asOf.Format("2006-01-02"), func(t *testing.T) {
				permit := fixedPermit("permit-1", "A", start, 12)
				order, err := engine.Orders.BuildOrder(context.Background(), []*pricing.Permit{permit})
				require.NoError(t, err)
				permit.Zone = "B"
				permit.LowEmission = true

				items, err := engine.Renewals.RenewPermit(context.Background(), permit, order.Items, asOf)
				require.NoError(t, err)

				unused, err := engine.Refunds.UnusedOrderItems(permit, order.Items, asOf)
				require.NoError(t, err)
				unusedMonths := 0
				for _, u := range unused {
					unusedMonths += u.Quantity
				}

				paid, err := engine.Refunds.RefundAmount(permit, order.Items, asOf)
				require.NoError(t, err)
				newTotal := dec("0")
				months := 0
				for _, item := range items {
					newTotal = newTotal.Add(item.TotalPrice())
					months += item.Quantity
				}
				assertDecimal(t, newTotal.Sub(paid).String(), dec(paymentTotal(items)))
				assert.Equal(t, permit.MonthsLeft(asOf), months)
				assert.Equal(t, permit.MonthsLeft(asOf), unusedMonths)
			})
		}
	}
}

func TestRenewPermit_MonthEndStart(t *testing.T) {
	// GIVEN: A 12 month permit from 2021-01-31 paid 10/month in zone C
	// WHEN: It moves to zone D (15/month) on 2021-02-10, one month used
	// THEN: The 11 remaining months are charged +5 each

	engine, _ := newEngine(
		product("C-2021", "C", date(2021, 1, 1), date(2021, 12, 31), "10"),
		product("C-2022", "C", date(2022, 1, 1), date(2022, 12, 31), "10"),
		product("D-2021", "D", date(2021, 1, 1), date(2021, 12, 31), "15"),
		product("D-2022", "D", date(2022, 1, 1), date(2022, 12, 31), "15"),
	)
	permit := fixedPermit("permit-1", "C", localTime(2021, time.January, 31), 12)
	order, err := engine.Orders.BuildOrder(context.Background(), []*pricing.Permit{permit})
	require.NoError(t, err)
	assertDecimal(t, "120", order.TotalPrice())

	asOf := noon(2021, time.February, 10)
	changes, err := engine.PriceChanges.PriceChanges(context.Background(), permit, "D", false, asOf)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, 11, changes[0].MonthCount)
	assert.Equal(t, date(2021, 2, 28), changes[0].StartDate)
	assert.Equal(t, date(2022, 1, 30), changes[0].EndDate)

	permit.Zone = "D"
	items, err := engine.Renewals.RenewPermit(context.Background(), permit, order.Items, asOf)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 11, items[0].Quantity)
	assertDecimal(t, "5", items[0].PaymentUnitPrice)
	assert.Equal(t, calendar.Period{Start: date(2021, 2, 28), End: date(2022, 1, 30)}, items[0].Period())
	assertDecimal(t, "55", dec(paymentTotal(items)))
}

func TestReconcile_DisjointPeriodsAreAssertionFailures(t *testing.T) {
	permit := fixedPermit("permit-1", "A", localTime(2021, time.January, 1), 12)
	paid := []pricing.UnusedItem{{
		Item:     pricing.OrderItem{UnitPrice: dec("20")},
		Quantity: 2,
		Period:   calendar.Period{Start: date(2021, 5, 1), End: date(2021, 6, 30)},
	}}
	priced := []pricing.Allocation{{
		Product:  product("B-2021H2", "B", date(2021, 7, 1), date(2021, 12, 31), "40"),
		Quantity: 6,
		Period:   calendar.Period{Start: date(2021, 7, 1), End: date(2021, 12, 31)},
	}}

	_, err := pricing.Reconcile(permit, helsinki, paid, priced)
	require.Error(t, err)
	assert.ErrorIs(t, err, pricing.ErrReconciliationMismatch)
	assert.True(t, errors.HasAssertionFailure(err))
	assert.True(t, pricing.IsInternal(err))
	assert.False(t, pricing.IsClientError(err))

	var mismatch *pricing.ReconciliationError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, date(2021, 7, 1), mismatch.NewPeriod.Start)
}

// =============================================================================
// RENEWAL ORDER
// =============================================================================

func TestRenewalOrder_BuildsIncrementalOrder(t *testing.T) {
	engine, _ := newEngine(append(zoneA(), zoneB()...)...)
	permit, order := paidYear(t, engine)
	permit.Zone = "B"

	renewal, err := engine.Renewals.RenewalOrder(context.Background(), []pricing.RenewalInput{
		{Permit: permit, PreviousOrder: order, OrderItems: order.Items},
	}, noon(2021, time.April, 15))
	require.NoError(t, err)

	assert.Equal(t, pricing.OrderDraft, renewal.Status)
	assert.Equal(t, pricing.OrderTypeOrder, renewal.Type)
	assert.Equal(t, pricing.CustomerID("customer-1"), renewal.CustomerID)
	assert.Equal(t, []pricing.PermitID{"permit-1"}, renewal.PermitIDs)
	assert.Len(t, renewal.Items, 2)
	assertDecimal(t, "80", renewal.TotalPaymentPrice())
	assertDecimal(t, "300", renewal.TotalPrice())
}

func TestRenewalOrder_Validation(t *testing.T) {
	engine, _ := newEngine(append(zoneA(), zoneB()...)...)
	asOf := noon(2021, time.April, 15)

	input := func(t *testing.T, id string) pricing.RenewalInput {
		permit, order := paidYear(t, engine)
		permit.ID = pricing.PermitID(id)
		return pricing.RenewalInput{Permit: permit, PreviousOrder: order, OrderItems: order.Items}
	}

	t.Run("more than two permits", func(t *testing.T) {
		_, err := engine.Renewals.RenewalOrder(context.Background(),
			[]pricing.RenewalInput{input(t, "a"), input(t, "b"), input(t, "c")}, asOf)
		assert.ErrorIs(t, err, pricing.ErrOrderCreationFailed)
	})

	t.Run("no permits", func(t *testing.T) {
		_, err := engine.Renewals.RenewalOrder(context.Background(), nil, asOf)
		assert.ErrorIs(t, err, pricing.ErrOrderCreationFailed)
	})

	t.Run("mixed contract types", func(t *testing.T) {
		open := input(t, "b")
		open.Permit.ContractType = pricing.ContractOpenEnded
		_, err := engine.Renewals.RenewalOrder(context.Background(),
			[]pricing.RenewalInput{input(t, "a"), open}, asOf)
		assert.ErrorIs(t, err, pricing.ErrOrderCreationFailed)
	})

	t.Run("different customers", func(t *testing.T) {
		other := input(t, "b")
		other.Permit.CustomerID = "customer-2"
		_, err := engine.Renewals.RenewalOrder(context.Background(),
			[]pricing.RenewalInput{input(t, "a"), other}, asOf)
		assert.ErrorIs(t, err, pricing.ErrOrderCreationFailed)
	})

	t.Run("previous order not confirmed", func(t *testing.T) {
		in := input(t, "a")
		in.PreviousOrder.Status = pricing.OrderDraft
		_, err := engine.Renewals.RenewalOrder(context.Background(), []pricing.RenewalInput{in}, asOf)
		require.ErrorIs(t, err, pricing.ErrOrderCreationFailed)

		var orderErr *pricing.OrderCreationError
		require.ErrorAs(t, err, &orderErr)
		assert.Equal(t, pricing.CustomerID("customer-1"), orderErr.CustomerID)
	})

	t.Run("every period in the past", func(t *testing.T) {
		_, err := engine.Renewals.RenewalOrder(context.Background(),
			[]pricing.RenewalInput{input(t, "a")}, noon(2022, time.June, 1))
		assert.ErrorIs(t, err, pricing.ErrOrderCreationFailed)
	})
}
