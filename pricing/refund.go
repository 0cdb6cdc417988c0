package pricing

import (
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/permit-engine/calendar"
)

// =============================================================================
// REFUND CALCULATOR - Value of paid but unused months
// =============================================================================

// UnusedItem is the not-yet-consumed part of an invoiced order item.
type UnusedItem struct {
	Item     OrderItem
	Quantity int
	Period   calendar.Period
}

// Amount is what the customer paid for the unused months: the original
// invoiced unit price, never a freshly computed one.
func (u UnusedItem) Amount() decimal.Decimal {
	return u.Item.UnitPrice.Mul(decimal.NewFromInt(int64(u.Quantity)))
}

type RefundCalculator struct {
	Location *time.Location
}

// UnusedOrderItems returns the invoiced items at or after the first month
// the permit has not started using yet. The first returned item is cut to
// start at that month; later items are returned whole. Months are counted
// from the permit's start date, never from the clamped first unused day.
func (c *RefundCalculator) UnusedOrderItems(permit *Permit, items []OrderItem, asOf time.Time) ([]UnusedItem, error) {
	if !permit.IsFixedPeriod() {
		return nil, &InvalidContractTypeError{
			PermitID:  permit.ID,
			Operation: "unused order items",
			Contract:  permit.ContractType,
		}
	}

	unusedStart := calendar.DateOf(permit.NextPeriodStartTime(asOf), c.Location)

	remaining := lo.Filter(items, func(item OrderItem, _ int) bool {
		return item.EndDate.AfterOrEqual(unusedStart)
	})
	sort.SliceStable(remaining, func(i, j int) bool {
		return remaining[i].StartDate.Before(remaining[j].StartDate)
	})
	if len(remaining) == 0 {
		return []UnusedItem{}, nil
	}

	first := remaining[0]
	period := calendar.Period{Start: unusedStart, End: first.EndDate}
	unused := []UnusedItem{{
		Item:     first,
		Quantity: calendar.MonthStartsWithin(permit.StartDate(c.Location), period),
		Period:   period,
	}}
	for _, item := range remaining[1:] {
		unused = append(unused, UnusedItem{Item: item, Quantity: item.Quantity, Period: item.Period()})
	}
	return unused, nil
}

// RefundAmount sums the unused value of a permit's invoiced items.
func (c *RefundCalculator) RefundAmount(permit *Permit, items []OrderItem, asOf time.Time) (decimal.Decimal, error) {
	unused, err := c.UnusedOrderItems(permit, items, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, u := range unused {
		total = total.Add(u.Amount())
	}
	return total, nil
}
