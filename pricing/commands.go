package pricing

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/warp/permit-engine/calendar"
)

// =============================================================================
// UPDATE COMMANDS - One typed command per mutation intent
// =============================================================================

// Command is a single permit mutation. The set of implementations is closed:
// SetZone, SetVehicle, SetContractType and SetStartTime.
type Command interface {
	command()
}

type SetZone struct {
	Zone Zone
}

type SetVehicle struct {
	VehicleID   VehicleID
	LowEmission bool
}

type SetContractType struct {
	ContractType ContractType
	MonthCount   int
}

type SetStartTime struct {
	StartTime time.Time
}

func (SetZone) command()         {}
func (SetVehicle) command()      {}
func (SetContractType) command() {}
func (SetStartTime) command()    {}

// UpdateContext carries what a command needs besides the permit itself.
type UpdateContext struct {
	// Primary is the customer's primary permit when the updated permit is
	// the secondary one. Nil otherwise.
	Primary  *Permit
	AsOf     time.Time
	Location *time.Location
}

// ApplyUpdate validates cmd against the permit and applies it. The permit is
// left untouched when validation fails.
func ApplyUpdate(p *Permit, cmd Command, uc UpdateContext) error {
	switch c := cmd.(type) {
	case SetZone:
		return applySetZone(p, c)
	case SetVehicle:
		return applySetVehicle(p, c)
	case SetContractType:
		return applySetContractType(p, c, uc)
	case SetStartTime:
		return applySetStartTime(p, c, uc)
	default:
		return errors.Wrapf(ErrPermitUpdate, "unsupported command %T", cmd)
	}
}

func applySetZone(p *Permit, c SetZone) error {
	if !p.Status.IsOpen() {
		return rejectUpdate(p, "zone of a %s permit cannot change", p.Status)
	}
	if c.Zone == "" {
		return rejectUpdate(p, "zone is required")
	}
	p.Zone = c.Zone
	return nil
}

func applySetVehicle(p *Permit, c SetVehicle) error {
	if !p.Status.IsOpen() {
		return rejectUpdate(p, "vehicle of a %s permit cannot change", p.Status)
	}
	if c.VehicleID == "" {
		return rejectUpdate(p, "vehicle is required")
	}
	p.VehicleID = c.VehicleID
	p.LowEmission = c.LowEmission
	return nil
}

func applySetContractType(p *Permit, c SetContractType, uc UpdateContext) error {
	if p.Status != StatusDraft {
		return rejectUpdate(p, "contract type can only change while draft")
	}
	if !c.ContractType.IsValid() {
		return rejectUpdate(p, "unknown contract type %q", c.ContractType)
	}

	monthCount := c.MonthCount
	if c.ContractType == ContractOpenEnded {
		monthCount = 1
	} else if monthCount < 1 || monthCount > MaxMonthCount {
		return rejectUpdate(p, "month count must be between 1 and %d, got %d", MaxMonthCount, monthCount)
	}

	if p.IsSecondary() && uc.Primary != nil {
		if c.ContractType != uc.Primary.ContractType {
			return rejectUpdate(p, "secondary permit must be %s like the primary permit", uc.Primary.ContractType)
		}
		if c.ContractType == ContractFixedPeriod {
			if left := uc.Primary.MonthsLeft(uc.AsOf); monthCount > left {
				return rejectUpdate(p, "secondary permit cannot exceed the primary permit's %d months left", left)
			}
		}
	}

	p.ContractType = c.ContractType
	p.MonthCount = monthCount
	p.EndTime = endTimeFor(p, uc.Location)
	return nil
}

func applySetStartTime(p *Permit, c SetStartTime, uc UpdateContext) error {
	if p.Status != StatusDraft {
		return rejectUpdate(p, "start time can only change while draft")
	}
	today := calendar.DateOf(uc.AsOf, uc.Location).StartOfDay(uc.Location)
	if c.StartTime.Before(today) {
		return rejectUpdate(p, "start time %s is in the past", c.StartTime.Format(time.RFC3339))
	}
	p.StartTime = c.StartTime
	p.EndTime = endTimeFor(p, uc.Location)
	return nil
}

func endTimeFor(p *Permit, loc *time.Location) *time.Time {
	if !p.IsFixedPeriod() {
		return nil
	}
	end := calendar.EndOfPeriod(p.StartTime, p.MonthCount, loc)
	return &end
}

func rejectUpdate(p *Permit, format string, args ...any) error {
	return errors.Wrapf(ErrPermitUpdate, "permit %s: %s", p.ID, fmt.Sprintf(format, args...))
}
