package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/permit-engine/api"
	"github.com/warp/permit-engine/factory"
	"github.com/warp/permit-engine/permits"
	"github.com/warp/permit-engine/pricing"
	"github.com/warp/permit-engine/store/sqlite"
	"go.uber.org/zap/zaptest"
)

func TestExpiryScheduler_ClosesEndedPermits(t *testing.T) {
	// GIVEN: A paid one month permit for January 2021
	// WHEN: The scheduler runs in February
	// THEN: The permit is closed

	store, err := sqlite.New(":memory:", sqlite.WithLocation(helsinki))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := zaptest.NewLogger(t)
	svc := permits.NewService(store, helsinki, log)
	ctx := context.Background()

	products, err := factory.NewCatalogFactory().Parse([]byte(catalogYAML), factory.FormatYAML)
	require.NoError(t, err)
	require.NoError(t, svc.ImportProducts(ctx, products))

	permit, err := svc.CreatePermit(ctx, permits.NewPermit{
		CustomerID:   "customer-1",
		VehicleID:    "ABC-123",
		Zone:         "A",
		ContractType: pricing.ContractFixedPeriod,
		MonthCount:   1,
		StartTime:    time.Date(2021, time.January, 1, 0, 0, 0, 0, helsinki),
	}, time.Date(2020, time.December, 20, 12, 0, 0, 0, helsinki))
	require.NoError(t, err)
	order, err := svc.CreateOrder(ctx, "customer-1", []pricing.PermitID{permit.ID})
	require.NoError(t, err)
	_, err = svc.ConfirmOrder(ctx, order.ID)
	require.NoError(t, err)

	scheduler := api.NewExpiryScheduler(svc, log)

	scheduler.Now = func() time.Time { return time.Date(2021, time.January, 20, 12, 0, 0, 0, helsinki) }
	assert.Empty(t, scheduler.RunNow(ctx))

	scheduler.Now = func() time.Time { return time.Date(2021, time.February, 1, 12, 0, 0, 0, helsinki) }
	assert.Equal(t, []pricing.PermitID{permit.ID}, scheduler.RunNow(ctx))

	got, err := svc.GetPermit(ctx, permit.ID)
	require.NoError(t, err)
	assert.Equal(t, pricing.StatusClosed, got.Status)
}

func TestExpiryScheduler_StartStop(t *testing.T) {
	store, err := sqlite.New(":memory:", sqlite.WithLocation(helsinki))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := zaptest.NewLogger(t)
	scheduler := api.NewExpiryScheduler(permits.NewService(store, helsinki, log), log)
	scheduler.CheckInterval = 10 * time.Millisecond

	scheduler.Start()
	scheduler.Start()
	time.Sleep(30 * time.Millisecond)
	scheduler.Stop()
	scheduler.Stop()

	disabled := api.NewExpiryScheduler(permits.NewService(store, helsinki, log), log)
	disabled.Enabled = false
	disabled.Start()
	disabled.Stop()
}
