package pricing

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/warp/permit-engine/calendar"
)

// =============================================================================
// PERMIT STATUS - Explicit state machine
// =============================================================================

type Status string

const (
	StatusDraft  Status = "DRAFT"
	StatusValid  Status = "VALID"
	StatusClosed Status = "CLOSED"
)

// transitions lists every allowed status change. Anything not listed is
// rejected with ErrInvalidTransition.
var transitions = map[Status][]Status{
	StatusDraft: {StatusValid, StatusClosed},
	StatusValid: {StatusClosed},
}

func (s Status) CanTransitionTo(to Status) bool {
	return lo.Contains(transitions[s], to)
}

// ActiveStatuses are the statuses of permits that are currently billable.
func ActiveStatuses() []Status { return []Status{StatusValid} }

// OpenStatuses are the statuses of permits that have not been closed.
func OpenStatuses() []Status { return []Status{StatusDraft, StatusValid} }

func (s Status) IsActive() bool { return lo.Contains(ActiveStatuses(), s) }
func (s Status) IsOpen() bool   { return lo.Contains(OpenStatuses(), s) }

// =============================================================================
// PERMIT
// =============================================================================

// Permit is a snapshot of a customer's right to park one vehicle in a zone.
type Permit struct {
	ID             PermitID
	CustomerID     CustomerID
	VehicleID      VehicleID
	Zone           Zone
	ContractType   ContractType
	StartTime      time.Time
	EndTime        *time.Time // nil while open-ended
	MonthCount     int        // FIXED_PERIOD only
	PrimaryVehicle bool
	LowEmission    bool
	Status         Status
	OrderID        OrderID // latest order billing this permit
}

func (p *Permit) IsOpenEnded() bool   { return p.ContractType == ContractOpenEnded }
func (p *Permit) IsFixedPeriod() bool { return p.ContractType == ContractFixedPeriod }
func (p *Permit) IsSecondary() bool   { return !p.PrimaryVehicle }

// MonthsUsed returns the number of started months between StartTime and
// asOf, capped at MonthCount for FIXED_PERIOD permits.
func (p *Permit) MonthsUsed(asOf time.Time) int {
	asOf = asOf.In(p.StartTime.Location())
	if p.StartTime.After(asOf) {
		return 0
	}
	used := calendar.MonthsCeil(p.StartTime, asOf)
	if p.IsFixedPeriod() {
		return min(used, p.MonthCount)
	}
	return used
}

// MonthsLeft returns the prepaid months not yet started. Zero for
// OPEN_ENDED permits.
func (p *Permit) MonthsLeft(asOf time.Time) int {
	if !p.IsFixedPeriod() {
		return 0
	}
	return p.MonthCount - p.MonthsUsed(asOf)
}

// StartDate is the local date every month of the permit is anchored on.
func (p *Permit) StartDate(loc *time.Location) calendar.Date {
	return calendar.DateOf(p.StartTime, loc)
}

// NextPeriodStartTime is the first instant of the first month not yet used.
func (p *Permit) NextPeriodStartTime(asOf time.Time) time.Time {
	return calendar.AddMonths(p.StartTime, p.MonthsUsed(asOf))
}

// CurrentPeriodEndTime is the last instant of the month in use at asOf.
func (p *Permit) CurrentPeriodEndTime(asOf time.Time, loc *time.Location) time.Time {
	return calendar.EndOfPeriod(p.StartTime, p.MonthsUsed(asOf), loc)
}

// BillingRange returns the local dates of the permit's billable range.
func (p *Permit) BillingRange(loc *time.Location) (calendar.Period, error) {
	start := p.StartDate(loc)
	if p.EndTime == nil {
		if p.IsFixedPeriod() {
			return calendar.Period{}, errors.Wrapf(ErrInvalidPermit, "fixed period permit %s has no end time", p.ID)
		}
		return calendar.Period{Start: start, End: calendar.EndDateOfPeriod(start, 1)}, nil
	}
	return calendar.Period{Start: start, End: calendar.DateOf(*p.EndTime, loc)}, nil
}

// CanBeRefunded reports whether unused months of this permit may be paid
// back: the permit is VALID and FIXED_PERIOD, its order is CONFIRMED and
// the order has no refund yet.
func (p *Permit) CanBeRefunded(order *Order, hasRefund bool) bool {
	if p.Status != StatusValid || !p.IsFixedPeriod() {
		return false
	}
	if order == nil || order.Status != OrderConfirmed {
		return false
	}
	return !hasRefund
}

// Transition moves the permit to another status.
func (p *Permit) Transition(to Status) error {
	if !p.Status.CanTransitionTo(to) {
		return errors.Wrapf(ErrInvalidTransition, "permit %s from %s to %s", p.ID, p.Status, to)
	}
	p.Status = to
	return nil
}

// =============================================================================
// ENDING A PERMIT
// =============================================================================

type EndType string

const (
	EndImmediately        EndType = "IMMEDIATELY"
	EndAfterCurrentPeriod EndType = "AFTER_CURRENT_PERIOD"
)

// End closes the permit. IMMEDIATELY ends it at asOf, AFTER_CURRENT_PERIOD
// at the end of the month in use.
func (p *Permit) End(endType EndType, asOf time.Time, loc *time.Location) error {
	var end time.Time
	switch endType {
	case EndImmediately:
		end = asOf
	case EndAfterCurrentPeriod:
		end = p.CurrentPeriodEndTime(asOf, loc)
		if end.Before(asOf) {
			end = asOf
		}
	default:
		return errors.Wrapf(ErrPermitUpdate, "unknown end type %q", endType)
	}
	if err := p.Transition(StatusClosed); err != nil {
		return err
	}
	p.EndTime = &end
	return nil
}
