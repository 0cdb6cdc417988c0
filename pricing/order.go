package pricing

import (
	"context"
	"time"

	"github.com/samber/lo"
)

// MaxPermitsPerCustomer is the number of vehicles a customer may hold
// concurrent permits for: one primary and one secondary.
const MaxPermitsPerCustomer = 2

// =============================================================================
// ORDER BUILDER
// =============================================================================

type OrderBuilder struct {
	Allocator *PeriodAllocator
}

// BuildOrder prices the permits of one customer into a draft order. Each
// allocation becomes one order item paid in full.
func (b *OrderBuilder) BuildOrder(ctx context.Context, permits []*Permit) (*Order, error) {
	customerID, err := validatePermitSet(permits)
	if err != nil {
		return nil, err
	}

	order := &Order{
		CustomerID: customerID,
		Type:       OrderTypeFor(permits[0].ContractType),
		Status:     OrderDraft,
	}
	for _, permit := range permits {
		allocations, err := b.Allocator.Allocate(ctx, permit)
		if err != nil {
			return nil, err
		}
		for _, a := range allocations {
			unitPrice := a.Product.UnitPriceFor(permit)
			order.Items = append(order.Items, OrderItem{
				PermitID:         permit.ID,
				ProductID:        a.Product.ID,
				UnitPrice:        unitPrice,
				PaymentUnitPrice: unitPrice,
				VAT:              a.Product.VAT,
				Quantity:         a.Quantity,
				StartDate:        a.Period.Start,
				EndDate:          a.Period.End,
			})
		}
		order.PermitIDs = append(order.PermitIDs, permit.ID)
	}
	return order, nil
}

// validatePermitSet checks that permits can be billed together and returns
// their customer.
func validatePermitSet(permits []*Permit) (CustomerID, error) {
	if len(permits) == 0 {
		return "", orderCreationFailed("", "no permits given")
	}
	customerID := permits[0].CustomerID
	if len(permits) > MaxPermitsPerCustomer {
		return "", orderCreationFailed(customerID, "at most %d permits can be ordered together, got %d",
			MaxPermitsPerCustomer, len(permits))
	}
	if lo.ContainsBy(permits, func(p *Permit) bool { return p.CustomerID != customerID }) {
		return "", orderCreationFailed(customerID, "permits belong to different customers")
	}
	contracts := lo.Uniq(lo.Map(permits, func(p *Permit, _ int) ContractType { return p.ContractType }))
	if len(contracts) > 1 {
		return "", orderCreationFailed(customerID, "permits have different contract types %v", contracts)
	}
	return customerID, nil
}

// =============================================================================
// ENGINE - All calculators over one catalog and location
// =============================================================================

type Engine struct {
	Allocator    *PeriodAllocator
	Refunds      *RefundCalculator
	PriceChanges *PriceChangeCalculator
	Renewals     *RenewalReconciler
	Orders       *OrderBuilder
}

func NewEngine(catalog ProductCatalog, loc *time.Location) *Engine {
	allocator := &PeriodAllocator{Catalog: catalog, Location: loc}
	refunds := &RefundCalculator{Location: loc}
	return &Engine{
		Allocator:    allocator,
		Refunds:      refunds,
		PriceChanges: &PriceChangeCalculator{Catalog: catalog, Location: loc},
		Renewals:     &RenewalReconciler{Allocator: allocator, Refunds: refunds},
		Orders:       &OrderBuilder{Allocator: allocator},
	}
}
