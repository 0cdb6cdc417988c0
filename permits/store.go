/*
store.go - Persistence contract for the permit workflows

PURPOSE:
  Defines what the workflow services need from storage: products, permits,
  orders with their items, and refunds. The pricing engine itself only sees
  the narrower pricing.ProductCatalog and pricing.OrderItemSource views.

ATOMICITY:
  Every workflow that writes more than one row runs inside WithTx. Ending a
  permit and creating its refund, or confirming an order and validating its
  permits, either fully happen or not at all.

REFUNDS:
  At most one refund exists per order. A second SaveRefund for the same
  order fails with ErrRefundExists.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
*/
package permits

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/warp/permit-engine/pricing"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrRefundExists = errors.New("refund already exists for order")
)

// Store persists everything the services read and write.
type Store interface {
	pricing.ProductCatalog
	pricing.OrderItemSource

	SaveProducts(ctx context.Context, products []pricing.Product) error
	ProductsByZone(ctx context.Context, zone pricing.Zone) ([]pricing.Product, error)

	// SavePermit inserts or replaces a permit.
	SavePermit(ctx context.Context, permit *pricing.Permit) error
	GetPermit(ctx context.Context, id pricing.PermitID) (*pricing.Permit, error)
	// PermitsByCustomer returns the customer's permits in any of the given
	// statuses, primary permit first. No statuses means all.
	PermitsByCustomer(ctx context.Context, customerID pricing.CustomerID, statuses ...pricing.Status) ([]*pricing.Permit, error)
	// PermitsEndedBy returns VALID permits whose end time is at or before
	// asOf.
	PermitsEndedBy(ctx context.Context, asOf time.Time) ([]*pricing.Permit, error)

	// SaveOrder inserts an order together with its items.
	SaveOrder(ctx context.Context, order *pricing.Order) error
	GetOrder(ctx context.Context, id pricing.OrderID) (*pricing.Order, error)
	UpdateOrderStatus(ctx context.Context, id pricing.OrderID, status pricing.OrderStatus) error
	// DraftRenewals returns the ids of unpaid renewal orders covering the
	// permit, oldest first.
	DraftRenewals(ctx context.Context, permitID pricing.PermitID) ([]pricing.OrderID, error)

	SaveRefund(ctx context.Context, refund pricing.Refund) error
	RefundExists(ctx context.Context, orderID pricing.OrderID) (bool, error)
	RefundsByOrder(ctx context.Context, orderID pricing.OrderID) ([]pricing.Refund, error)

	// Reset deletes all data. Demo scenarios start from it.
	Reset(ctx context.Context) error

	// WithTx runs fn against a view of the store bound to one transaction.
	// The transaction commits when fn returns nil.
	WithTx(ctx context.Context, fn func(Store) error) error
}
