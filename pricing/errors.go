/*
errors.go - Error taxonomy for the pricing engine

PURPOSE:
  All error types in one place. Every failure aborts the enclosing
  computation; nothing is swallowed or partially applied.

ERROR CATEGORIES:
  1. Catalog errors     - missing, overlapping or gapped product timelines
  2. Price errors       - a zone has no resolvable price for a price change
  3. Contract errors    - FIXED_PERIOD-only operation on an OPEN_ENDED permit
  4. Order errors       - renewal/order validation failed
  5. Assertion failures - reconciliation produced an impossible date range

USAGE:
  Structured errors unwrap to their sentinel, so both the standard library
  and cockroachdb/errors can match them:

    if errors.Is(err, pricing.ErrProductCatalog) {
        ...
    }

  Reconciliation inconsistencies are additionally marked as assertion
  failures. They indicate broken input data and should page someone, not be
  shown to a customer:

    if errors.HasAssertionFailure(err) { ... }
*/
package pricing

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/warp/permit-engine/calendar"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrProductCatalog is returned when zero or several products cover a
	// zone on a date, or a range is not covered by contiguous products.
	ErrProductCatalog = errors.New("product catalog error")

	// ErrPrice is returned when a price change cannot be priced.
	ErrPrice = errors.New("price error")

	// ErrInvalidContractType is returned when a FIXED_PERIOD-only operation is
	// invoked on an OPEN_ENDED permit.
	ErrInvalidContractType = errors.New("invalid contract type")

	// ErrOrderCreationFailed is returned when an order or renewal is rejected.
	ErrOrderCreationFailed = errors.New("order creation failed")

	// ErrReconciliationMismatch is returned when old and new billing periods
	// do not overlap during a renewal merge.
	ErrReconciliationMismatch = errors.New("reconciliation date range mismatch")

	ErrInvalidTransition = errors.New("invalid permit status transition")
	ErrPermitUpdate      = errors.New("permit update rejected")
	ErrInvalidPermit     = errors.New("invalid permit")
	ErrRefundNotAllowed  = errors.New("refund not allowed")
	ErrInvalidPeriod     = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry zone/date/permit context
// =============================================================================

// ProductCatalogError identifies the zone and date where the catalog could
// not resolve exactly one product.
type ProductCatalogError struct {
	Zone    Zone
	Date    calendar.Date
	Matches int
	Reason  string
}

func (e *ProductCatalogError) Error() string {
	return fmt.Sprintf("product catalog: zone %s on %s: %s", e.Zone, e.Date, e.Reason)
}

func (e *ProductCatalogError) Unwrap() error { return ErrProductCatalog }

// PriceError wraps the failure that prevented pricing a zone on a date.
type PriceError struct {
	Zone Zone
	Date calendar.Date
	Err  error
}

func (e *PriceError) Error() string {
	return fmt.Sprintf("price: zone %s on %s: %v", e.Zone, e.Date, e.Err)
}

func (e *PriceError) Unwrap() error { return e.Err }

func (e *PriceError) Is(target error) bool { return target == ErrPrice }

type InvalidContractTypeError struct {
	PermitID  PermitID
	Operation string
	Contract  ContractType
}

func (e *InvalidContractTypeError) Error() string {
	return fmt.Sprintf("%s requires a %s permit, permit %s is %s",
		e.Operation, ContractFixedPeriod, e.PermitID, e.Contract)
}

func (e *InvalidContractTypeError) Unwrap() error { return ErrInvalidContractType }

type OrderCreationError struct {
	CustomerID CustomerID
	Reason     string
}

func (e *OrderCreationError) Error() string {
	return fmt.Sprintf("order creation failed for customer %s: %s", e.CustomerID, e.Reason)
}

func (e *OrderCreationError) Unwrap() error { return ErrOrderCreationFailed }

// ReconciliationError reports the two periods whose merge produced an empty
// or inverted range.
type ReconciliationError struct {
	PermitID  PermitID
	OldPeriod calendar.Period
	NewPeriod calendar.Period
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("permit %s: paid period %s and new period %s do not overlap",
		e.PermitID, e.OldPeriod, e.NewPeriod)
}

func (e *ReconciliationError) Unwrap() error { return ErrReconciliationMismatch }

func newReconciliationError(permitID PermitID, paid, priced calendar.Period) error {
	return errors.WithAssertionFailure(&ReconciliationError{
		PermitID:  permitID,
		OldPeriod: paid,
		NewPeriod: priced,
	})
}

func orderCreationFailed(customerID CustomerID, format string, args ...any) error {
	return &OrderCreationError{CustomerID: customerID, Reason: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the request itself and
// can be shown to the customer.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidContractType) ||
		errors.Is(err, ErrOrderCreationFailed) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrPermitUpdate) ||
		errors.Is(err, ErrRefundNotAllowed) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidPermit)
}

// IsInternal returns true for data-integrity failures that should alert
// operators rather than be displayed.
func IsInternal(err error) bool {
	return errors.HasAssertionFailure(err) || errors.Is(err, ErrReconciliationMismatch)
}
