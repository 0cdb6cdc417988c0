/*
Package pricing provides the permit pricing and order-reconciliation engine.

PURPOSE:
  Maps a permit's active date range onto time-bounded price products,
  computes refunds for unused months, previews price changes when a permit
  changes zone or vehicle, and reconciles renewal orders against what the
  customer already paid.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product: A zone-scoped, date-bounded unit price
  - Allocation: A (product, quantity in months, period) tuple
  - OrderItem: A priced, invoiced month range
  - Order / Refund: What the persistence layer stores

DESIGN PRINCIPLES:
  1. Pure: no I/O beyond the ProductCatalog interface, no ambient clock
  2. Precision: all money is decimal.Decimal
  3. Whole months: quantities are always integer months
  4. No partial results: any error aborts the whole computation

SEE ALSO:
  - allocator.go: PeriodAllocator
  - refund.go: RefundCalculator
  - pricechange.go: PriceChangeCalculator
  - renewal.go: RenewalReconciler
*/
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/permit-engine/calendar"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type Zone string
type PermitID string
type CustomerID string
type VehicleID string
type ProductID string
type OrderID string
type OrderItemID string
type RefundID string

// =============================================================================
// CONTRACT AND PRODUCT TYPES
// =============================================================================

type ContractType string

const (
	ContractOpenEnded   ContractType = "OPEN_ENDED"
	ContractFixedPeriod ContractType = "FIXED_PERIOD"
)

func (c ContractType) IsValid() bool {
	return c == ContractOpenEnded || c == ContractFixedPeriod
}

type ProductType string

const (
	ProductResident ProductType = "RESIDENT"
	ProductCompany  ProductType = "COMPANY"
)

// MaxMonthCount is the longest FIXED_PERIOD contract that can be sold.
const MaxMonthCount = 12

// =============================================================================
// PRODUCT - Unit price in force for a zone during a date range
// =============================================================================

type Product struct {
	ID        ProductID
	Name      string
	Zone      Zone
	Type      ProductType
	StartDate calendar.Date
	EndDate   calendar.Date // inclusive

	UnitPrice                    decimal.Decimal
	VAT                          decimal.Decimal // e.g. 0.24
	LowEmissionDiscount          decimal.Decimal // e.g. 0.5
	SecondaryVehicleIncreaseRate decimal.Decimal // e.g. 0.5
}

func (p Product) Period() calendar.Period {
	return calendar.Period{Start: p.StartDate, End: p.EndDate}
}

func (p Product) Covers(d calendar.Date) bool { return p.Period().Contains(d) }

// =============================================================================
// ALLOCATION - Output of the PeriodAllocator
// =============================================================================

// Allocation is a run of consecutive billed months mapped to one product.
type Allocation struct {
	Product  Product
	Quantity int
	Period   calendar.Period
}

// =============================================================================
// ORDERS
// =============================================================================

type OrderType string

const (
	OrderTypeOrder        OrderType = "ORDER"
	OrderTypeSubscription OrderType = "SUBSCRIPTION"
)

// OrderTypeFor maps a contract type to the kind of order that bills it.
func OrderTypeFor(c ContractType) OrderType {
	if c == ContractOpenEnded {
		return OrderTypeSubscription
	}
	return OrderTypeOrder
}

type OrderStatus string

const (
	OrderDraft     OrderStatus = "DRAFT"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// OrderItem is a priced month range. Once its order is confirmed it is
// immutable. PaymentUnitPrice differs from UnitPrice when only the
// incremental amount of a renewal was charged.
type OrderItem struct {
	ID               OrderItemID
	OrderID          OrderID
	PermitID         PermitID
	ProductID        ProductID
	UnitPrice        decimal.Decimal
	PaymentUnitPrice decimal.Decimal
	VAT              decimal.Decimal
	Quantity         int
	StartDate        calendar.Date
	EndDate          calendar.Date
}

func (i OrderItem) Period() calendar.Period {
	return calendar.Period{Start: i.StartDate, End: i.EndDate}
}

func (i OrderItem) TotalPrice() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i OrderItem) TotalPaymentPrice() decimal.Decimal {
	return i.PaymentUnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID         OrderID
	CustomerID CustomerID
	Type       OrderType
	Status     OrderStatus
	PermitIDs  []PermitID
	Items      []OrderItem
	CreatedAt  time.Time

	// PreviousOrderID is the confirmed order a renewal was reconciled
	// against. Empty for first orders.
	PreviousOrderID OrderID
}

// IsRenewal reports whether the order charges a difference against a
// previously paid order.
func (o *Order) IsRenewal() bool { return o.PreviousOrderID != "" }

func (o *Order) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.TotalPrice())
	}
	return total
}

func (o *Order) TotalPaymentPrice() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.TotalPaymentPrice())
	}
	return total
}

// Confirm marks a draft order as paid.
func (o *Order) Confirm() error {
	if o.Status != OrderDraft {
		return orderCreationFailed(o.CustomerID, "order %s is %s, only draft orders can be confirmed", o.ID, o.Status)
	}
	o.Status = OrderConfirmed
	return nil
}

func (o *Order) Cancel() error {
	if o.Status == OrderCancelled {
		return orderCreationFailed(o.CustomerID, "order %s is already cancelled", o.ID)
	}
	o.Status = OrderCancelled
	return nil
}

// =============================================================================
// REFUND
// =============================================================================

type RefundStatus string

const (
	RefundPending  RefundStatus = "PENDING"
	RefundAccepted RefundStatus = "ACCEPTED"
	RefundRejected RefundStatus = "REJECTED"
)

// Refund is created at most once per order.
type Refund struct {
	ID          RefundID
	OrderID     OrderID
	Amount      decimal.Decimal
	IBAN        string
	Status      RefundStatus
	Description string
	CreatedAt   time.Time
}
