/*
Package factory provides JSON/YAML to Go product catalogue conversion.

PURPOSE:
  Converts catalogue definitions into pricing.Product timelines. Prices
  change a few times a year; operators edit a file instead of code, and the
  factory fills in defaults and validates each product before the engine
  ever sees it.

SCHEMA (YAML shown, JSON uses the same keys):
  products:
    - id: kamppi-2021h1
      name: Kamppi resident permit
      zone: A
      start_date: 2021-01-01
      end_date: 2021-06-30
      unit_price: 30
      vat: 0.24                      # default 0.24
      low_emission_discount: 0.5     # default 0.5
      secondary_vehicle_increase_rate: 0.5   # default 0.5
      type: RESIDENT                 # default RESIDENT

VALIDATION:
  - id, zone, dates and unit_price are required
  - end_date must not be before start_date
  - rates must lie in [0, 1], unit_price must not be negative
  - RESIDENT products of one zone must not overlap (ValidateTimelines)

  Gaps between products are allowed here: a zone may simply not be priced
  for some months. The engine reports a gap only when a permit needs it.

USAGE:
  f := factory.NewCatalogFactory()
  products, err := f.ParseFile("catalog.yaml")

SEE ALSO:
  - pricing/types.go: Product definition
  - store/sqlite: products table the API imports into
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/permit-engine/calendar"
	"github.com/warp/permit-engine/pricing"
	"gopkg.in/yaml.v3"
)

// ErrInvalidCatalog is returned for any catalogue that cannot be turned into
// products.
var ErrInvalidCatalog = errors.New("invalid product catalog")

// Defaults applied when a definition omits a rate.
var (
	DefaultVAT                          = decimal.RequireFromString("0.24")
	DefaultLowEmissionDiscount          = decimal.RequireFromString("0.5")
	DefaultSecondaryVehicleIncreaseRate = decimal.RequireFromString("0.5")
)

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// CatalogJSON is the file-level representation of a catalogue.
type CatalogJSON struct {
	Products []ProductJSON `json:"products" yaml:"products" validate:"dive"`
}

// ProductJSON is one product definition.
type ProductJSON struct {
	ID                           string           `json:"id" yaml:"id" validate:"required"`
	Name                         string           `json:"name,omitempty" yaml:"name,omitempty"`
	Zone                         string           `json:"zone" yaml:"zone" validate:"required"`
	Type                         string           `json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,oneof=RESIDENT COMPANY"`
	StartDate                    string           `json:"start_date" yaml:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate                      string           `json:"end_date" yaml:"end_date" validate:"required,datetime=2006-01-02"`
	UnitPrice                    *decimal.Decimal `json:"unit_price" yaml:"unit_price" validate:"required"`
	VAT                          *decimal.Decimal `json:"vat,omitempty" yaml:"vat,omitempty"`
	LowEmissionDiscount          *decimal.Decimal `json:"low_emission_discount,omitempty" yaml:"low_emission_discount,omitempty"`
	SecondaryVehicleIncreaseRate *decimal.Decimal `json:"secondary_vehicle_increase_rate,omitempty" yaml:"secondary_vehicle_increase_rate,omitempty"`
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

// Format selects the decoder for raw catalogue bytes.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the format from a file name or content type. YAML is the
// fallback since every JSON document is also valid YAML.
func FormatFor(nameOrContentType string) Format {
	s := strings.ToLower(nameOrContentType)
	if strings.HasSuffix(s, ".json") || strings.Contains(s, "json") {
		return FormatJSON
	}
	return FormatYAML
}

// CatalogFactory converts catalogue definitions to products.
type CatalogFactory struct {
	validate *validator.Validate
}

func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{validate: validator.New()}
}

// ParseFile reads and parses a catalogue file, choosing the decoder by
// extension.
func (f *CatalogFactory) ParseFile(path string) ([]pricing.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read catalog %s", path)
	}
	return f.Parse(data, FormatFor(filepath.Ext(path)))
}

// Parse decodes raw catalogue bytes in the given format.
func (f *CatalogFactory) Parse(data []byte, format Format) ([]pricing.Product, error) {
	var cj CatalogJSON
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &cj)
	default:
		err = yaml.Unmarshal(data, &cj)
	}
	if err != nil {
		return nil, invalidCatalog(err, "decode %s catalog", format)
	}
	return f.FromJSON(cj)
}

// FromJSON converts decoded definitions to products, applying defaults and
// validating the result.
func (f *CatalogFactory) FromJSON(cj CatalogJSON) ([]pricing.Product, error) {
	if len(cj.Products) == 0 {
		return nil, errors.Wrap(ErrInvalidCatalog, "catalog has no products")
	}
	if err := f.validate.Struct(cj); err != nil {
		return nil, invalidCatalog(err, "validate catalog")
	}

	products := make([]pricing.Product, 0, len(cj.Products))
	for _, pj := range cj.Products {
		p, err := toProduct(pj)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := ValidateTimelines(products); err != nil {
		return nil, err
	}
	return products, nil
}

// ToJSON converts products back to their definition form.
func (f *CatalogFactory) ToJSON(products []pricing.Product) CatalogJSON {
	return CatalogJSON{Products: lo.Map(products, func(p pricing.Product, _ int) ProductJSON {
		return ProductJSON{
			ID:                           string(p.ID),
			Name:                         p.Name,
			Zone:                         string(p.Zone),
			Type:                         string(p.Type),
			StartDate:                    p.StartDate.String(),
			EndDate:                      p.EndDate.String(),
			UnitPrice:                    lo.ToPtr(p.UnitPrice),
			VAT:                          lo.ToPtr(p.VAT),
			LowEmissionDiscount:          lo.ToPtr(p.LowEmissionDiscount),
			SecondaryVehicleIncreaseRate: lo.ToPtr(p.SecondaryVehicleIncreaseRate),
		}
	})}
}

// ValidateTimelines rejects overlapping RESIDENT products within a zone.
func ValidateTimelines(products []pricing.Product) error {
	residents := lo.Filter(products, func(p pricing.Product, _ int) bool {
		return p.Type == pricing.ProductResident
	})
	for zone, zoneProducts := range lo.GroupBy(residents, func(p pricing.Product) pricing.Zone { return p.Zone }) {
		sort.Slice(zoneProducts, func(i, j int) bool {
			return zoneProducts[i].StartDate.Before(zoneProducts[j].StartDate)
		})
		for i := 1; i < len(zoneProducts); i++ {
			prev, next := zoneProducts[i-1], zoneProducts[i]
			if !next.StartDate.After(prev.EndDate) {
				return errors.Wrapf(ErrInvalidCatalog, "zone %s: products %s and %s overlap on %s",
					zone, prev.ID, next.ID, next.StartDate)
			}
		}
	}
	return nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func toProduct(pj ProductJSON) (pricing.Product, error) {
	start, err := calendar.ParseDate(pj.StartDate)
	if err != nil {
		return pricing.Product{}, invalidCatalog(err, "product %s start_date", pj.ID)
	}
	end, err := calendar.ParseDate(pj.EndDate)
	if err != nil {
		return pricing.Product{}, invalidCatalog(err, "product %s end_date", pj.ID)
	}
	if end.Before(start) {
		return pricing.Product{}, errors.Wrapf(ErrInvalidCatalog, "product %s ends %s before it starts %s", pj.ID, end, start)
	}

	p := pricing.Product{
		ID:                           pricing.ProductID(pj.ID),
		Name:                         lo.Ternary(pj.Name != "", pj.Name, pj.ID),
		Zone:                         pricing.Zone(pj.Zone),
		Type:                         parseProductType(pj.Type),
		StartDate:                    start,
		EndDate:                      end,
		UnitPrice:                    *pj.UnitPrice,
		VAT:                          orDefault(pj.VAT, DefaultVAT),
		LowEmissionDiscount:          orDefault(pj.LowEmissionDiscount, DefaultLowEmissionDiscount),
		SecondaryVehicleIncreaseRate: orDefault(pj.SecondaryVehicleIncreaseRate, DefaultSecondaryVehicleIncreaseRate),
	}

	if p.UnitPrice.IsNegative() {
		return pricing.Product{}, errors.Wrapf(ErrInvalidCatalog, "product %s has negative unit price %s", p.ID, p.UnitPrice)
	}
	for name, rate := range map[string]decimal.Decimal{
		"vat":                             p.VAT,
		"low_emission_discount":           p.LowEmissionDiscount,
		"secondary_vehicle_increase_rate": p.SecondaryVehicleIncreaseRate,
	} {
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return pricing.Product{}, errors.Wrapf(ErrInvalidCatalog, "product %s: %s %s not in [0, 1]", p.ID, name, rate)
		}
	}
	return p, nil
}

func parseProductType(s string) pricing.ProductType {
	if s == string(pricing.ProductCompany) {
		return pricing.ProductCompany
	}
	return pricing.ProductResident
}

// invalidCatalog matches ErrInvalidCatalog and carries the decoder's cause as
// a secondary error for %+v.
func invalidCatalog(cause error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return errors.WithSecondaryError(errors.Wrapf(ErrInvalidCatalog, "%s: %v", msg, cause), cause)
}

func orDefault(v *decimal.Decimal, def decimal.Decimal) decimal.Decimal {
	if v == nil {
		return def
	}
	return *v
}
