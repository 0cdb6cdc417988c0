/*
catalog.go - Product catalog and order item contracts

PURPOSE:
  Defines the interfaces between the pricing engine and whatever holds
  products and invoiced order items. The engine never queries storage
  directly; it asks a ProductCatalog for product timelines and receives
  order items from an OrderItemSource.

KEY INTERFACES:
  ProductCatalog:  Products of a zone intersecting a date range
  OrderItemSource: Previously invoiced items of a permit

RESIDENT PRODUCTS:
  GetForDate and ForDateRange only consider RESIDENT products. For one zone
  these form a timeline that must be gapless and non-overlapping over any
  range the engine prices. Violations are data errors and are reported as
  ProductCatalogError, never silently resolved.

IMPLEMENTATIONS:
  - pricing/store/memory.go: In-memory, for tests and previews
  - store/sqlite/sqlite.go:  SQLite
*/
package pricing

import (
	"context"
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/warp/permit-engine/calendar"
)

// ProductCatalog provides zone-scoped, date-ranged products.
type ProductCatalog interface {
	// ProductsForDateRange returns products of zone whose [StartDate, EndDate]
	// intersects [start, end], of any product type.
	ProductsForDateRange(ctx context.Context, zone Zone, start, end calendar.Date) ([]Product, error)
}

// OrderItemSource provides the invoiced order items currently billing a
// permit, ordered by start date: the items of the permit's latest confirmed
// order. Earlier orders are superseded by renewals and are not returned.
type OrderItemSource interface {
	OrderItemsForPermit(ctx context.Context, permitID PermitID) ([]OrderItem, error)
}

// ForDateRange returns the RESIDENT products of zone intersecting
// [start, end], ordered by start date.
func ForDateRange(ctx context.Context, catalog ProductCatalog, zone Zone, start, end calendar.Date) ([]Product, error) {
	products, err := catalog.ProductsForDateRange(ctx, zone, start, end)
	if err != nil {
		return nil, errors.Wrapf(err, "load products for zone %s %s", zone, calendar.Period{Start: start, End: end})
	}
	resident := lo.Filter(products, func(p Product, _ int) bool {
		return p.Type == ProductResident && p.Period().Overlaps(calendar.Period{Start: start, End: end})
	})
	sort.SliceStable(resident, func(i, j int) bool {
		return resident[i].StartDate.Before(resident[j].StartDate)
	})
	return resident, nil
}

// GetForDate returns the single RESIDENT product of zone covering date.
func GetForDate(ctx context.Context, catalog ProductCatalog, zone Zone, date calendar.Date) (Product, error) {
	products, err := ForDateRange(ctx, catalog, zone, date, date)
	if err != nil {
		return Product{}, err
	}
	return uniqueProductOn(zone, products, date)
}

// uniqueProductOn picks the one product covering date out of an already
// loaded timeline.
func uniqueProductOn(zone Zone, products []Product, date calendar.Date) (Product, error) {
	matches := lo.Filter(products, func(p Product, _ int) bool { return p.Covers(date) })
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return Product{}, &ProductCatalogError{Zone: zone, Date: date, Reason: "no product covers this date"}
	default:
		return Product{}, &ProductCatalogError{
			Zone:    zone,
			Date:    date,
			Matches: len(matches),
			Reason:  fmt.Sprintf("%d products cover this date", len(matches)),
		}
	}
}

// verifyCoverage checks that an ordered timeline covers [start, end]
// end-to-end with neither gaps nor overlaps.
func verifyCoverage(zone Zone, products []Product, start, end calendar.Date) error {
	if len(products) == 0 {
		return &ProductCatalogError{Zone: zone, Date: start, Reason: "no products for the requested range"}
	}
	if first := products[0]; first.StartDate.After(start) {
		return &ProductCatalogError{Zone: zone, Date: start, Reason: "products start after " + start.String()}
	}
	for i := 1; i < len(products); i++ {
		prev, next := products[i-1], products[i]
		switch {
		case next.StartDate.BeforeOrEqual(prev.EndDate):
			return &ProductCatalogError{
				Zone:    zone,
				Date:    next.StartDate,
				Matches: 2,
				Reason:  fmt.Sprintf("products %s and %s overlap", prev.ID, next.ID),
			}
		case !next.StartDate.Equal(prev.EndDate.AddDays(1)):
			return &ProductCatalogError{
				Zone:   zone,
				Date:   prev.EndDate.AddDays(1),
				Reason: fmt.Sprintf("gap between products %s and %s", prev.ID, next.ID),
			}
		}
	}
	if last := products[len(products)-1]; last.EndDate.Before(end) {
		return &ProductCatalogError{Zone: zone, Date: last.EndDate.AddDays(1), Reason: "products end before " + end.String()}
	}
	return nil
}
