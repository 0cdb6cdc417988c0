package pricing

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/warp/permit-engine/calendar"
)

// =============================================================================
// PRICE CHANGE CALCULATOR - Preview of a zone or vehicle change
// =============================================================================

// PriceChange is the monthly price difference over a run of months.
type PriceChange struct {
	Product        Product // product of the new zone
	PreviousPrice  decimal.Decimal
	NewPrice       decimal.Decimal
	PriceChange    decimal.Decimal
	PriceChangeVAT decimal.Decimal
	MonthCount     int
	StartDate      calendar.Date
	EndDate        calendar.Date
}

// Total is the whole difference for the run.
func (pc PriceChange) Total() decimal.Decimal {
	return pc.PriceChange.Mul(decimal.NewFromInt(int64(pc.MonthCount)))
}

type PriceChangeCalculator struct {
	Catalog  ProductCatalog
	Location *time.Location
}

// PriceChanges compares the permit's current pricing with the pricing it
// would have in newZone with a vehicle of the given emission class, over the
// months the permit has not started yet.
//
// OPEN_ENDED permits get exactly one entry, for the next billing month.
// FIXED_PERIOD permits are walked month by month until their end; a month
// joins the previous entry only when the new product and the exact price
// change are both unchanged.
func (c *PriceChangeCalculator) PriceChanges(ctx context.Context, permit *Permit, newZone Zone, newLowEmission bool, asOf time.Time) ([]PriceChange, error) {
	start := calendar.DateOf(permit.NextPeriodStartTime(asOf), c.Location)

	if permit.IsOpenEnded() {
		change, err := c.monthChange(ctx, permit, newZone, newLowEmission, start)
		if err != nil {
			return nil, err
		}
		change.EndDate = calendar.EndDateOfPeriod(change.StartDate, 1)
		return []PriceChange{change}, nil
	}

	if permit.EndTime == nil {
		return nil, errors.Wrapf(ErrInvalidPermit, "fixed period permit %s has no end time", permit.ID)
	}
	end := calendar.DateOf(*permit.EndTime, c.Location)
	anchor := permit.StartDate(c.Location)

	changes := []PriceChange{}
	for i := permit.MonthsUsed(asOf); ; i++ {
		month := anchor.AddMonths(i)
		if month.After(end) {
			break
		}
		monthEnd := calendar.MinDate(anchor.AddMonths(i+1).AddDays(-1), end)
		change, err := c.monthChange(ctx, permit, newZone, newLowEmission, month)
		if err != nil {
			return nil, err
		}
		if n := len(changes); n > 0 {
			last := &changes[n-1]
			if last.Product.ID == change.Product.ID && last.PriceChange.Equal(change.PriceChange) {
				last.MonthCount++
				last.EndDate = monthEnd
				continue
			}
		}
		change.EndDate = monthEnd
		changes = append(changes, change)
	}
	return changes, nil
}

func (c *PriceChangeCalculator) monthChange(ctx context.Context, permit *Permit, newZone Zone, newLowEmission bool, month calendar.Date) (PriceChange, error) {
	previous, err := GetForDate(ctx, c.Catalog, permit.Zone, month)
	if err != nil {
		return PriceChange{}, &PriceError{Zone: permit.Zone, Date: month, Err: err}
	}
	next, err := GetForDate(ctx, c.Catalog, newZone, month)
	if err != nil {
		return PriceChange{}, &PriceError{Zone: newZone, Date: month, Err: err}
	}

	previousPrice := previous.ModifiedUnitPrice(permit.LowEmission, permit.IsSecondary())
	newPrice := next.ModifiedUnitPrice(newLowEmission, permit.IsSecondary())
	delta := newPrice.Sub(previousPrice)

	return PriceChange{
		Product:        next,
		PreviousPrice:  previousPrice,
		NewPrice:       newPrice,
		PriceChange:    delta,
		PriceChangeVAT: PriceChangeVAT(delta, next.VAT),
		MonthCount:     1,
		StartDate:      month,
	}, nil
}
