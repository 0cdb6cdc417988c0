package pricing

import "github.com/shopspring/decimal"

// =============================================================================
// PRICE CALCULATOR
// =============================================================================

// ModifiedUnitPrice returns the unit price for a vehicle. The secondary
// vehicle surcharge is applied to the base price first and the low-emission
// discount to the surcharged price second. The order matters.
func (p Product) ModifiedUnitPrice(isLowEmission, isSecondary bool) decimal.Decimal {
	price := p.UnitPrice
	if isSecondary {
		price = price.Add(price.Mul(p.SecondaryVehicleIncreaseRate))
	}
	if isLowEmission {
		price = price.Sub(price.Mul(p.LowEmissionDiscount))
	}
	return price
}

// UnitPriceFor prices this product for the vehicle registered on a permit.
func (p Product) UnitPriceFor(permit *Permit) decimal.Decimal {
	return p.ModifiedUnitPrice(permit.LowEmission, permit.IsSecondary())
}

// VATSplit is a VAT-inclusive amount broken into net and tax parts.
type VATSplit struct {
	Gross decimal.Decimal
	Net   decimal.Decimal
	VAT   decimal.Decimal
}

// SplitVAT splits a VAT-inclusive gross amount. Net is rounded to cents and
// VAT takes the remainder so Net + VAT == Gross exactly.
func SplitVAT(gross, vatRate decimal.Decimal) VATSplit {
	net := gross.Div(decimal.NewFromInt(1).Add(vatRate)).Round(2)
	return VATSplit{Gross: gross, Net: net, VAT: gross.Sub(net)}
}

// PriceChangeVAT is the VAT share of a monthly price change, rounded to four
// decimal places.
func PriceChangeVAT(priceChange, vatRate decimal.Decimal) decimal.Decimal {
	return priceChange.Mul(vatRate).Round(4)
}
