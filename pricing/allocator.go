/*
allocator.go - Mapping a permit's billable range onto products

PURPOSE:
  Converts a permit's billable range into (product, months, period) tuples.
  Every order, refund and renewal is derived from these tuples.

ALGORITHM (FIXED_PERIOD):
  1. Load the zone's RESIDENT products intersecting [start, end]
  2. Verify they cover the range with no gap and no overlap
  3. Walk month starts start, start+1m, start+2m, ... while <= end
  4. Resolve the single product covering each month start
  5. Group consecutive months resolving to the same product

  Months are counted from the permit's own start date, not from product
  boundaries. A product switching on the 10th of a month does not split the
  month that contains it; the month belongs to the product in force on the
  day the month starts.

EXAMPLE:
  Permit 2021-02-15, 10 months (ends 2021-12-14)
  Products: P1 Jan-May, P2 Jun-Jul, P3 Aug-Dec

    month starts: 02-15 03-15 04-15 05-15 | 06-15 07-15 | 08-15 .. 11-15
    product:      P1    P1    P1    P1    | P2    P2    | P3    .. P3

    => (P1, 4, [02-15, 06-14]) (P2, 2, [06-15, 08-14]) (P3, 4, [08-15, 12-14])

OPEN_ENDED:
  One product, the one covering the permit's start date, quantity 1.
  Subscriptions are re-priced every billing cycle.
*/
package pricing

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/warp/permit-engine/calendar"
)

// PeriodAllocator maps billable ranges onto a zone's product timeline.
type PeriodAllocator struct {
	Catalog  ProductCatalog
	Location *time.Location
}

// Allocate returns the billed tuples for a permit's whole billable range.
func (a *PeriodAllocator) Allocate(ctx context.Context, permit *Permit) ([]Allocation, error) {
	rng, err := permit.BillingRange(a.Location)
	if err != nil {
		return nil, err
	}

	switch permit.ContractType {
	case ContractOpenEnded:
		product, err := GetForDate(ctx, a.Catalog, permit.Zone, rng.Start)
		if err != nil {
			return nil, err
		}
		month := calendar.Period{Start: rng.Start, End: calendar.EndDateOfPeriod(rng.Start, 1)}
		return []Allocation{{Product: product, Quantity: 1, Period: month}}, nil
	case ContractFixedPeriod:
		return a.AllocateRange(ctx, permit.Zone, rng.Start, rng.End)
	default:
		return nil, errors.Wrapf(ErrInvalidPermit, "permit %s has contract type %q", permit.ID, permit.ContractType)
	}
}

// AllocateRange groups the months of [start, end] by the product in force at
// each month start.
func (a *PeriodAllocator) AllocateRange(ctx context.Context, zone Zone, start, end calendar.Date) ([]Allocation, error) {
	return a.allocateMonths(ctx, zone, start, 0, end)
}

// AllocateRemaining allocates the months of a FIXED_PERIOD permit that have
// not started at asOf, in the permit's current zone.
func (a *PeriodAllocator) AllocateRemaining(ctx context.Context, permit *Permit, asOf time.Time) ([]Allocation, error) {
	rng, err := permit.BillingRange(a.Location)
	if err != nil {
		return nil, err
	}
	return a.allocateMonths(ctx, permit.Zone, rng.Start, permit.MonthsUsed(asOf), rng.End)
}

// allocateMonths walks anchor+first months, anchor+first+1 months, ... up to
// end. Month starts are always computed from anchor.
func (a *PeriodAllocator) allocateMonths(ctx context.Context, zone Zone, anchor calendar.Date, first int, end calendar.Date) ([]Allocation, error) {
	start := anchor.AddMonths(first)
	if end.Before(start) {
		return nil, errors.Wrapf(ErrInvalidPeriod, "allocate %s", calendar.Period{Start: start, End: end})
	}

	products, err := ForDateRange(ctx, a.Catalog, zone, start, end)
	if err != nil {
		return nil, err
	}
	if err := verifyCoverage(zone, products, start, end); err != nil {
		return nil, err
	}

	var out []Allocation
	for i := first; ; i++ {
		monthStart := anchor.AddMonths(i)
		if monthStart.After(end) {
			break
		}
		product, err := uniqueProductOn(zone, products, monthStart)
		if err != nil {
			return nil, err
		}

		if n := len(out); n > 0 {
			if out[n-1].Product.ID == product.ID {
				out[n-1].Quantity++
				continue
			}
			out[n-1].Period.End = monthStart.AddDays(-1)
		}
		out = append(out, Allocation{
			Product:  product,
			Quantity: 1,
			Period:   calendar.Period{Start: monthStart},
		})
	}
	out[len(out)-1].Period.End = end

	return out, nil
}
