/*
renewal.go - Renewal reconciliation

PURPOSE:
  When a paid FIXED_PERIOD permit changes zone or vehicle mid-term, the
  customer owes (or is owed) only the difference between the new price and
  what was already paid, month range by month range.

ALGORITHM:
  Two sequences, both ordered by start date:
    paid:   unused parts of invoiced order items (RefundCalculator)
    priced: allocation of the remaining range with the new attributes

  Merge-join on overlapping ranges:
    period = [max(paid.start, priced.start), min(paid.end, priced.end)]
    quantity = month starts of the permit inside period
    payment_unit_price = new_unit_price - paid.unit_price

  Advance whichever side ends first, both when they end together, until one
  side is exhausted. An empty or inverted period means the two sides do not
  describe the same range: this is an assertion failure, not a business
  error.

CONSERVATION:
  Sum(payment_unit_price * quantity) == new total - paid total over the
  remaining range. Nothing is counted twice at merge boundaries.
*/
package pricing

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/warp/permit-engine/calendar"
)

// RenewalInput is one permit taking part in a renewal, with its new zone
// and vehicle already applied.
type RenewalInput struct {
	Permit        *Permit
	PreviousOrder *Order
	OrderItems    []OrderItem // invoiced items of PreviousOrder for Permit
}

type RenewalReconciler struct {
	Allocator *PeriodAllocator
	Refunds   *RefundCalculator
}

// Reconcile merge-joins paid periods against newly priced periods and emits
// one order item per overlapping sub-period. Quantities count the permit's
// own month starts, with the permit start taken as a date in loc.
func Reconcile(permit *Permit, loc *time.Location, paid []UnusedItem, priced []Allocation) ([]OrderItem, error) {
	anchor := permit.StartDate(loc)
	var items []OrderItem
	i, j := 0, 0
	for i < len(paid) && j < len(priced) {
		old, next := paid[i], priced[j]

		periodStart := calendar.MaxDate(old.Period.Start, next.Period.Start)
		periodEnd := calendar.MinDate(old.Period.End, next.Period.End)
		if !periodStart.Before(periodEnd) {
			return nil, newReconciliationError(permit.ID, old.Period, next.Period)
		}

		period := calendar.Period{Start: periodStart, End: periodEnd}
		unitPrice := next.Product.UnitPriceFor(permit)
		items = append(items, OrderItem{
			PermitID:         permit.ID,
			ProductID:        next.Product.ID,
			UnitPrice:        unitPrice,
			PaymentUnitPrice: unitPrice.Sub(old.Item.UnitPrice),
			VAT:              next.Product.VAT,
			Quantity:         calendar.MonthStartsWithin(anchor, period),
			StartDate:        periodStart,
			EndDate:          periodEnd,
		})

		switch {
		case old.Period.End.Before(next.Period.End):
			i++
		case old.Period.End.After(next.Period.End):
			j++
		default:
			i++
			j++
		}
	}
	return items, nil
}

// RemainingRange is the part of a permit not yet used at asOf. The second
// return value is false when nothing remains.
func (r *RenewalReconciler) RemainingRange(permit *Permit, asOf time.Time) (calendar.Period, bool) {
	if permit.EndTime == nil {
		return calendar.Period{}, false
	}
	rng := calendar.Period{
		Start: calendar.DateOf(permit.NextPeriodStartTime(asOf), r.Allocator.Location),
		End:   calendar.DateOf(*permit.EndTime, r.Allocator.Location),
	}
	return rng, rng.Start.Before(rng.End)
}

// RenewPermit reconciles a single permit's invoiced items against its
// current zone and vehicle over the remaining range.
func (r *RenewalReconciler) RenewPermit(ctx context.Context, permit *Permit, items []OrderItem, asOf time.Time) ([]OrderItem, error) {
	paid, err := r.Refunds.UnusedOrderItems(permit, items, asOf)
	if err != nil {
		return nil, err
	}
	if _, ok := r.RemainingRange(permit, asOf); !ok {
		return nil, nil
	}
	priced, err := r.Allocator.AllocateRemaining(ctx, permit, asOf)
	if err != nil {
		return nil, err
	}
	return Reconcile(permit, r.Allocator.Location, paid, priced)
}

// RenewalOrder builds a draft order charging only the incremental amounts of
// all given permits of one customer.
func (r *RenewalReconciler) RenewalOrder(ctx context.Context, inputs []RenewalInput, asOf time.Time) (*Order, error) {
	permits := lo.Map(inputs, func(in RenewalInput, _ int) *Permit { return in.Permit })
	customerID, err := validatePermitSet(permits)
	if err != nil {
		return nil, err
	}

	order := &Order{
		CustomerID: customerID,
		Type:       OrderTypeFor(permits[0].ContractType),
		Status:     OrderDraft,
	}
	renewed := 0
	for _, in := range inputs {
		if in.PreviousOrder == nil || in.PreviousOrder.Status != OrderConfirmed {
			return nil, orderCreationFailed(customerID, "permit %s has no confirmed order to renew", in.Permit.ID)
		}
		if _, ok := r.RemainingRange(in.Permit, asOf); !ok {
			continue
		}
		items, err := r.RenewPermit(ctx, in.Permit, in.OrderItems, asOf)
		if err != nil {
			return nil, err
		}
		renewed++
		order.PermitIDs = append(order.PermitIDs, in.Permit.ID)
		order.Items = append(order.Items, items...)
	}
	if renewed == 0 {
		return nil, orderCreationFailed(customerID, "every permit's billing period is already in the past")
	}
	return order, nil
}
