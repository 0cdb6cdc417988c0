/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the pricing model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Responses wrapping several DTOs

MONEY:
  All amounts are decimal strings ("12.5"), never floats.

VALIDATION:
  Request types carry validator/v10 struct tags; handlers run them before
  calling the services. Business rules stay in the services.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/catalog.go: ProductJSON, accepted by the import endpoint
*/
package api

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/permit-engine/permits"
	"github.com/warp/permit-engine/pricing"
)

// =============================================================================
// REQUESTS
// =============================================================================

// AsOf lets clients evaluate a request at another instant than now.
type AsOf struct {
	AsOf *time.Time `json:"as_of,omitempty"`
}

type CreatePermitRequest struct {
	AsOf
	CustomerID   string     `json:"customer_id" validate:"required"`
	VehicleID    string     `json:"vehicle_id" validate:"required"`
	LowEmission  bool       `json:"low_emission"`
	Zone         string     `json:"zone" validate:"required"`
	ContractType string     `json:"contract_type" validate:"required,oneof=OPEN_ENDED FIXED_PERIOD"`
	MonthCount   int        `json:"month_count" validate:"omitempty,min=1,max=12"`
	StartTime    *time.Time `json:"start_time,omitempty"`
}

// UpdatePermitRequest edits a draft permit. Only the given fields change.
type UpdatePermitRequest struct {
	AsOf
	Zone         *string    `json:"zone,omitempty" validate:"omitempty,min=1"`
	VehicleID    *string    `json:"vehicle_id,omitempty" validate:"omitempty,min=1"`
	LowEmission  *bool      `json:"low_emission,omitempty"`
	ContractType *string    `json:"contract_type,omitempty" validate:"omitempty,oneof=OPEN_ENDED FIXED_PERIOD"`
	MonthCount   *int       `json:"month_count,omitempty" validate:"omitempty,min=1,max=12"`
	StartTime    *time.Time `json:"start_time,omitempty"`
}

type CreateOrderRequest struct {
	CustomerID string   `json:"customer_id" validate:"required"`
	PermitIDs  []string `json:"permit_ids" validate:"required,min=1,max=2,dive,required"`
}

type PriceChangeRequest struct {
	AsOf
	Zone        string `json:"zone" validate:"required"`
	LowEmission bool   `json:"low_emission"`
}

type ZoneChangeRequest struct {
	AsOf
	Zone        string `json:"zone" validate:"required"`
	LowEmission bool   `json:"low_emission"`
	IBAN        string `json:"iban,omitempty" validate:"omitempty,alphanum,min=15,max=34"`
}

type EndPermitRequest struct {
	AsOf
	EndType string `json:"end_type" validate:"required,oneof=IMMEDIATELY AFTER_CURRENT_PERIOD"`
	IBAN    string `json:"iban,omitempty" validate:"omitempty,alphanum,min=15,max=34"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type ProductDTO struct {
	ID                           string          `json:"id"`
	Name                         string          `json:"name"`
	Zone                         string          `json:"zone"`
	Type                         string          `json:"type"`
	StartDate                    string          `json:"start_date"`
	EndDate                      string          `json:"end_date"`
	UnitPrice                    decimal.Decimal `json:"unit_price"`
	VAT                          decimal.Decimal `json:"vat"`
	LowEmissionDiscount          decimal.Decimal `json:"low_emission_discount"`
	SecondaryVehicleIncreaseRate decimal.Decimal `json:"secondary_vehicle_increase_rate"`
}

type PermitDTO struct {
	ID             string     `json:"id"`
	CustomerID     string     `json:"customer_id"`
	VehicleID      string     `json:"vehicle_id"`
	Zone           string     `json:"zone"`
	ContractType   string     `json:"contract_type"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	MonthCount     int        `json:"month_count"`
	PrimaryVehicle bool       `json:"primary_vehicle"`
	LowEmission    bool       `json:"low_emission"`
	Status         string     `json:"status"`
	OrderID        string     `json:"order_id,omitempty"`
}

type OrderItemDTO struct {
	ID               string          `json:"id"`
	PermitID         string          `json:"permit_id"`
	ProductID        string          `json:"product_id"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	PaymentUnitPrice decimal.Decimal `json:"payment_unit_price"`
	Quantity         int             `json:"quantity"`
	StartDate        string          `json:"start_date"`
	EndDate          string          `json:"end_date"`
	VAT              decimal.Decimal `json:"vat"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	PaymentNet       decimal.Decimal `json:"payment_net"`
	PaymentVAT       decimal.Decimal `json:"payment_vat"`
}

type OrderDTO struct {
	ID                string          `json:"id"`
	CustomerID        string          `json:"customer_id"`
	Type              string          `json:"type"`
	Status            string          `json:"status"`
	PermitIDs         []string        `json:"permit_ids"`
	Items             []OrderItemDTO  `json:"items"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	TotalPaymentPrice decimal.Decimal `json:"total_payment_price"`
	PreviousOrderID   string          `json:"previous_order_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

type RefundDTO struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	Amount      decimal.Decimal `json:"amount"`
	IBAN        string          `json:"iban,omitempty"`
	Status      string          `json:"status"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

type AllocationDTO struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	StartDate   string          `json:"start_date"`
	EndDate     string          `json:"end_date"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

type UnusedItemDTO struct {
	OrderItemID string          `json:"order_item_id"`
	ProductID   string          `json:"product_id"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	StartDate   string          `json:"start_date"`
	EndDate     string          `json:"end_date"`
	Amount      decimal.Decimal `json:"amount"`
}

type RefundPreviewDTO struct {
	Refundable bool            `json:"refundable"`
	Amount     decimal.Decimal `json:"amount"`
	Items      []UnusedItemDTO `json:"items"`
}

type PriceChangeDTO struct {
	ProductID      string          `json:"product_id"`
	ProductName    string          `json:"product_name"`
	PreviousPrice  decimal.Decimal `json:"previous_price"`
	NewPrice       decimal.Decimal `json:"new_price"`
	PriceChange    decimal.Decimal `json:"price_change"`
	PriceChangeVAT decimal.Decimal `json:"price_change_vat"`
	MonthCount     int             `json:"month_count"`
	StartDate      string          `json:"start_date"`
	EndDate        string          `json:"end_date"`
	Total          decimal.Decimal `json:"total"`
}

type ZoneChangeResponse struct {
	Permit PermitDTO  `json:"permit"`
	Order  *OrderDTO  `json:"order,omitempty"`
	Refund *RefundDTO `json:"refund,omitempty"`
}

type EndPermitResponse struct {
	Permit PermitDTO  `json:"permit"`
	Refund *RefundDTO `json:"refund,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toProductDTO(p pricing.Product) ProductDTO {
	return ProductDTO{
		ID:                           string(p.ID),
		Name:                         p.Name,
		Zone:                         string(p.Zone),
		Type:                         string(p.Type),
		StartDate:                    p.StartDate.String(),
		EndDate:                      p.EndDate.String(),
		UnitPrice:                    p.UnitPrice,
		VAT:                          p.VAT,
		LowEmissionDiscount:          p.LowEmissionDiscount,
		SecondaryVehicleIncreaseRate: p.SecondaryVehicleIncreaseRate,
	}
}

func toPermitDTO(p *pricing.Permit) PermitDTO {
	return PermitDTO{
		ID:             string(p.ID),
		CustomerID:     string(p.CustomerID),
		VehicleID:      string(p.VehicleID),
		Zone:           string(p.Zone),
		ContractType:   string(p.ContractType),
		StartTime:      p.StartTime,
		EndTime:        p.EndTime,
		MonthCount:     p.MonthCount,
		PrimaryVehicle: p.PrimaryVehicle,
		LowEmission:    p.LowEmission,
		Status:         string(p.Status),
		OrderID:        string(p.OrderID),
	}
}

func toOrderDTO(o *pricing.Order) *OrderDTO {
	if o == nil {
		return nil
	}
	return &OrderDTO{
		ID:         string(o.ID),
		CustomerID: string(o.CustomerID),
		Type:       string(o.Type),
		Status:     string(o.Status),
		PermitIDs:  lo.Map(o.PermitIDs, func(id pricing.PermitID, _ int) string { return string(id) }),
		Items: lo.Map(o.Items, func(item pricing.OrderItem, _ int) OrderItemDTO {
			split := pricing.SplitVAT(item.TotalPaymentPrice(), item.VAT)
			return OrderItemDTO{
				ID:               string(item.ID),
				PermitID:         string(item.PermitID),
				ProductID:        string(item.ProductID),
				UnitPrice:        item.UnitPrice,
				PaymentUnitPrice: item.PaymentUnitPrice,
				Quantity:         item.Quantity,
				StartDate:        item.StartDate.String(),
				EndDate:          item.EndDate.String(),
				VAT:              item.VAT,
				TotalPrice:       item.TotalPrice(),
				PaymentNet:       split.Net,
				PaymentVAT:       split.VAT,
			}
		}),
		TotalPrice:        o.TotalPrice(),
		TotalPaymentPrice: o.TotalPaymentPrice(),
		PreviousOrderID:   string(o.PreviousOrderID),
		CreatedAt:         o.CreatedAt,
	}
}

func toRefundDTO(r *pricing.Refund) *RefundDTO {
	if r == nil {
		return nil
	}
	return &RefundDTO{
		ID:          string(r.ID),
		OrderID:     string(r.OrderID),
		Amount:      r.Amount,
		IBAN:        r.IBAN,
		Status:      string(r.Status),
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}
}

func toAllocationDTOs(permit *pricing.Permit, allocations []pricing.Allocation) []AllocationDTO {
	return lo.Map(allocations, func(a pricing.Allocation, _ int) AllocationDTO {
		unitPrice := a.Product.UnitPriceFor(permit)
		return AllocationDTO{
			ProductID:   string(a.Product.ID),
			ProductName: a.Product.Name,
			Quantity:    a.Quantity,
			StartDate:   a.Period.Start.String(),
			EndDate:     a.Period.End.String(),
			UnitPrice:   unitPrice,
			TotalPrice:  unitPrice.Mul(decimal.NewFromInt(int64(a.Quantity))),
		}
	})
}

func toRefundPreviewDTO(p *permits.RefundPreview) RefundPreviewDTO {
	return RefundPreviewDTO{
		Refundable: p.Refundable,
		Amount:     p.Amount,
		Items: lo.Map(p.Items, func(u pricing.UnusedItem, _ int) UnusedItemDTO {
			return UnusedItemDTO{
				OrderItemID: string(u.Item.ID),
				ProductID:   string(u.Item.ProductID),
				UnitPrice:   u.Item.UnitPrice,
				Quantity:    u.Quantity,
				StartDate:   u.Period.Start.String(),
				EndDate:     u.Period.End.String(),
				Amount:      u.Amount(),
			}
		}),
	}
}

func toPriceChangeDTOs(changes []pricing.PriceChange) []PriceChangeDTO {
	return lo.Map(changes, func(c pricing.PriceChange, _ int) PriceChangeDTO {
		return PriceChangeDTO{
			ProductID:      string(c.Product.ID),
			ProductName:    c.Product.Name,
			PreviousPrice:  c.PreviousPrice,
			NewPrice:       c.NewPrice,
			PriceChange:    c.PriceChange,
			PriceChangeVAT: c.PriceChangeVAT,
			MonthCount:     c.MonthCount,
			StartDate:      c.StartDate.String(),
			EndDate:        c.EndDate.String(),
			Total:          c.Total(),
		}
	})
}
