package pricing_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/permit-engine/pricing"
)

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to pricing.Status
		allowed  bool
	}{
		{pricing.StatusDraft, pricing.StatusValid, true},
		{pricing.StatusDraft, pricing.StatusClosed, true},
		{pricing.StatusValid, pricing.StatusClosed, true},
		{pricing.StatusValid, pricing.StatusDraft, false},
		{pricing.StatusClosed, pricing.StatusValid, false},
		{pricing.StatusClosed, pricing.StatusDraft, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			permit := &pricing.Permit{ID: "p", Status: tt.from}
			err := permit.Transition(tt.to)
			if tt.allowed {
				require.NoError(t, err)
				assert.Equal(t, tt.to, permit.Status)
			} else {
				assert.ErrorIs(t, err, pricing.ErrInvalidTransition)
				assert.Equal(t, tt.from, permit.Status)
			}
		})
	}

	assert.True(t, pricing.StatusValid.IsActive())
	assert.False(t, pricing.StatusDraft.IsActive())
	assert.True(t, pricing.StatusDraft.IsOpen())
	assert.False(t, pricing.StatusClosed.IsOpen())
}

func TestPermitErrors_MatchSentinelAndRecordStack(t *testing.T) {
	// GIVEN: A closed permit and a fixed period permit without an end time
	// WHEN: Reopening the first and computing the billing range of the second
	// THEN: Each error matches its sentinel, keeps the permit in its message
	// and records where it was raised

	closed := &pricing.Permit{ID: "p", Status: pricing.StatusClosed}
	err := closed.Transition(pricing.StatusValid)
	require.ErrorIs(t, err, pricing.ErrInvalidTransition)
	assert.True(t, errors.Is(err, pricing.ErrInvalidTransition))
	assert.Contains(t, err.Error(), "permit p from CLOSED to VALID")
	assert.NotNil(t, errors.GetReportableStackTrace(err))
	assert.True(t, pricing.IsClientError(err))

	noEnd := fixedPermit("q", "A", localTime(2021, time.January, 1), 12)
	noEnd.EndTime = nil
	_, err = noEnd.BillingRange(helsinki)
	require.ErrorIs(t, err, pricing.ErrInvalidPermit)
	assert.Contains(t, err.Error(), "permit q has no end time")
	assert.NotNil(t, errors.GetReportableStackTrace(err))
}

func TestPermit_End(t *testing.T) {
	asOf := noon(2021, time.April, 15)

	t.Run("immediately", func(t *testing.T) {
		permit := fixedPermit("p", "A", localTime(2021, time.January, 1), 12)
		require.NoError(t, permit.End(pricing.EndImmediately, asOf, helsinki))
		assert.Equal(t, pricing.StatusClosed, permit.Status)
		assert.True(t, asOf.Equal(*permit.EndTime))
	})

	t.Run("after current period", func(t *testing.T) {
		permit := fixedPermit("p", "A", localTime(2021, time.January, 1), 12)
		require.NoError(t, permit.End(pricing.EndAfterCurrentPeriod, asOf, helsinki))
		assert.True(t, time.Date(2021, time.April, 30, 23, 59, 59, 999999000, helsinki).Equal(*permit.EndTime))
	})

	t.Run("already closed", func(t *testing.T) {
		permit := fixedPermit("p", "A", localTime(2021, time.January, 1), 12)
		permit.Status = pricing.StatusClosed
		assert.ErrorIs(t, permit.End(pricing.EndImmediately, asOf, helsinki), pricing.ErrInvalidTransition)
	})

	t.Run("unknown end type", func(t *testing.T) {
		permit := fixedPermit("p", "A", localTime(2021, time.January, 1), 12)
		assert.ErrorIs(t, permit.End("LATER", asOf, helsinki), pricing.ErrPermitUpdate)
		assert.Equal(t, pricing.StatusValid, permit.Status)
	})
}

// =============================================================================
// UPDATE COMMANDS
// =============================================================================

func draftPermit() *pricing.Permit {
	permit := fixedPermit("draft", "A", localTime(2021, time.May, 1), 3)
	permit.Status = pricing.StatusDraft
	return permit
}

func TestApplyUpdate_SetZoneAndVehicle(t *testing.T) {
	permit := fixedPermit("p", "A", localTime(2021, time.January, 1), 12)
	uc := pricing.UpdateContext{AsOf: noon(2021, time.April, 15), Location: helsinki}

	require.NoError(t, pricing.ApplyUpdate(permit, pricing.SetZone{Zone: "B"}, uc))
	assert.Equal(t, pricing.Zone("B"), permit.Zone)

	require.NoError(t, pricing.ApplyUpdate(permit, pricing.SetVehicle{VehicleID: "ABC-123", LowEmission: true}, uc))
	assert.Equal(t, pricing.VehicleID("ABC-123"), permit.VehicleID)
	assert.True(t, permit.LowEmission)

	assert.ErrorIs(t, pricing.ApplyUpdate(permit, pricing.SetZone{}, uc), pricing.ErrPermitUpdate)

	permit.Status = pricing.StatusClosed
	assert.ErrorIs(t, pricing.ApplyUpdate(permit, pricing.SetZone{Zone: "C"}, uc), pricing.ErrPermitUpdate)
	assert.Equal(t, pricing.Zone("B"), permit.Zone)
}

func TestApplyUpdate_SetContractType(t *testing.T) {
	uc := pricing.UpdateContext{AsOf: noon(2021, time.April, 15), Location: helsinki}

	t.Run("fixed period recomputes end time", func(t *testing.T) {
		permit := draftPermit()
		require.NoError(t, pricing.ApplyUpdate(permit, pricing.SetContractType{
			ContractType: pricing.ContractFixedPeriod, MonthCount: 6,
		}, uc))
		assert.Equal(t, 6, permit.MonthCount)
		require.NotNil(t, permit.EndTime)
		assert.True(t, time.Date(2021, time.October, 31, 23, 59, 59, 999999000, helsinki).Equal(*permit.EndTime))
	})

	t.Run("open ended forces one month and clears end", func(t *testing.T) {
		permit := draftPermit()
		require.NoError(t, pricing.ApplyUpdate(permit, pricing.SetContractType{
			ContractType: pricing.ContractOpenEnded, MonthCount: 6,
		}, uc))
		assert.Equal(t, 1, permit.MonthCount)
		assert.Nil(t, permit.EndTime)
	})

	t.Run("month count out of range", func(t *testing.T) {
		for _, months := range []int{0, 13} {
			err := pricing.ApplyUpdate(draftPermit(), pricing.SetContractType{
				ContractType: pricing.ContractFixedPeriod, MonthCount: months,
			}, uc)
			assert.ErrorIs(t, err, pricing.ErrPermitUpdate)
		}
	})

	t.Run("only while draft", func(t *testing.T) {
		permit := fixedPermit("p", "A", localTime(2021, time.January, 1), 12)
		err := pricing.ApplyUpdate(permit, pricing.SetContractType{
			ContractType: pricing.ContractFixedPeriod, MonthCount: 6,
		}, uc)
		assert.ErrorIs(t, err, pricing.ErrPermitUpdate)
		assert.Equal(t, 12, permit.MonthCount)
	})

	t.Run("secondary bounded by primary", func(t *testing.T) {
		primary := fixedPermit("primary", "A", localTime(2021, time.January, 1), 12)
		secondary := draftPermit()
		secondary.PrimaryVehicle = false
		withPrimary := uc
		withPrimary.Primary = primary

		// primary has May-December left
		err := pricing.ApplyUpdate(secondary, pricing.SetContractType{
			ContractType: pricing.ContractFixedPeriod, MonthCount: 9,
		}, withPrimary)
		assert.ErrorIs(t, err, pricing.ErrPermitUpdate)

		require.NoError(t, pricing.ApplyUpdate(secondary, pricing.SetContractType{
			ContractType: pricing.ContractFixedPeriod, MonthCount: 8,
		}, withPrimary))

		err = pricing.ApplyUpdate(draftPermit(), pricing.SetContractType{
			ContractType: pricing.ContractOpenEnded,
		}, pricing.UpdateContext{Primary: primary, AsOf: uc.AsOf, Location: helsinki})
		require.NoError(t, err, "primary permits are not bound by another primary")

		secondary = draftPermit()
		secondary.PrimaryVehicle = false
		err = pricing.ApplyUpdate(secondary, pricing.SetContractType{
			ContractType: pricing.ContractOpenEnded,
		}, withPrimary)
		assert.ErrorIs(t, err, pricing.ErrPermitUpdate)
	})
}

func TestApplyUpdate_SetStartTime(t *testing.T) {
	uc := pricing.UpdateContext{AsOf: noon(2021, time.April, 15), Location: helsinki}

	permit := draftPermit()
	require.NoError(t, pricing.ApplyUpdate(permit, pricing.SetStartTime{StartTime: localTime(2021, time.April, 15)}, uc))
	assert.True(t, time.Date(2021, time.July, 14, 23, 59, 59, 999999000, helsinki).Equal(*permit.EndTime))

	err := pricing.ApplyUpdate(permit, pricing.SetStartTime{StartTime: localTime(2021, time.April, 14)}, uc)
	assert.ErrorIs(t, err, pricing.ErrPermitUpdate)
}

// =============================================================================
// ORDER BUILDER
// =============================================================================

func TestBuildOrder_PrimaryAndSecondary(t *testing.T) {
	engine, _ := newEngine(zoneA()...)
	primary := fixedPermit("primary", "A", localTime(2021, time.January, 1), 12)
	secondary := fixedPermit("secondary", "A", localTime(2021, time.January, 1), 6)
	secondary.PrimaryVehicle = false
	secondary.LowEmission = true

	order, err := engine.Orders.BuildOrder(context.Background(), []*pricing.Permit{primary, secondary})
	require.NoError(t, err)

	assert.Equal(t, pricing.OrderDraft, order.Status)
	assert.Equal(t, pricing.OrderTypeOrder, order.Type)
	assert.Equal(t, []pricing.PermitID{"primary", "secondary"}, order.PermitIDs)
	require.Len(t, order.Items, 3)

	// secondary: 20 * 1.5 = 30, then * 0.5 = 15
	last := order.Items[2]
	assert.Equal(t, pricing.PermitID("secondary"), last.PermitID)
	assertDecimal(t, "15", last.UnitPrice)
	assertDecimal(t, "15", last.PaymentUnitPrice)
	assert.Equal(t, 6, last.Quantity)

	// 20*6 + 30*6 + 15*6
	assertDecimal(t, "390", order.TotalPrice())
	assertDecimal(t, "390", order.TotalPaymentPrice())
}

func TestBuildOrder_OpenEndedIsSubscription(t *testing.T) {
	engine, _ := newEngine(zoneA()...)
	order, err := engine.Orders.BuildOrder(context.Background(),
		[]*pricing.Permit{openEndedPermit("p", "A", localTime(2021, time.March, 1))})
	require.NoError(t, err)
	assert.Equal(t, pricing.OrderTypeSubscription, order.Type)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 1, order.Items[0].Quantity)
}

func TestBuildOrder_CatalogErrorAborts(t *testing.T) {
	engine, _ := newEngine(zoneA()...)
	_, err := engine.Orders.BuildOrder(context.Background(),
		[]*pricing.Permit{fixedPermit("p", "A", localTime(2021, time.October, 1), 6)})
	assert.ErrorIs(t, err, pricing.ErrProductCatalog)
}

func TestOrder_ConfirmAndCancel(t *testing.T) {
	order := &pricing.Order{Status: pricing.OrderDraft}
	require.NoError(t, order.Confirm())
	assert.Equal(t, pricing.OrderConfirmed, order.Status)
	assert.Error(t, order.Confirm())

	require.NoError(t, order.Cancel())
	assert.Equal(t, pricing.OrderCancelled, order.Status)
	assert.Error(t, order.Cancel())
}
