/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos and manual testing of the customer portal. Each scenario
	imports a two-year catalogue and creates customers with paid permits
	that show one workflow.

AVAILABLE SCENARIOS:

	single-permit:  One paid 12 month permit in zone A
	two-vehicles:   Primary and secondary permit paid in one order
	open-ended:     Monthly subscription permit
	zone-change:    Paid zone B permit moved to the cheaper zone C
	ended-permit:   Paid permit ended today with a refund

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Import the demo catalogue for this year and the next
 3. Create permits starting on the first day of the current month
 4. Order and confirm them
 5. Optionally run a workflow on them (zone change, end)

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "zone-change"}

NOTE:

	Scenarios reset the database. The routes only exist when the server
	runs with server.demo_scenarios enabled.

SEE ALSO:
  - handlers.go: Handler options
  - factory/catalog.go: Catalogue format
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/warp/permit-engine/factory"
	"github.com/warp/permit-engine/permits"
	"github.com/warp/permit-engine/pricing"
)

// ErrUnknownScenario is returned for a scenario id that is not listed.
var ErrUnknownScenario = errors.New("unknown scenario")

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-permit",
		Name:        "Single Permit",
		Description: "One paid 12 month resident permit in zone A",
	},
	{
		ID:          "two-vehicles",
		Name:        "Two Vehicles",
		Description: "Primary permit and a 6 month secondary permit at the increased rate",
	},
	{
		ID:          "open-ended",
		Name:        "Open-Ended Subscription",
		Description: "Monthly subscription permit, billed one month at a time",
	},
	{
		ID:          "zone-change",
		Name:        "Zone Change",
		Description: "Paid zone B permit moved to zone C, the difference is refunded",
	},
	{
		ID:          "ended-permit",
		Name:        "Ended Permit",
		Description: "Paid permit ended today, unused months are refunded",
	},
}

// demoCatalog prices zone A higher in the second year, B and C stay flat.
const demoCatalog = `
products:
  - {id: A-%[1]d, name: Zone A %[1]d, zone: A, start_date: %[1]d-01-01, end_date: %[1]d-12-31, unit_price: 30}
  - {id: A-%[2]d, name: Zone A %[2]d, zone: A, start_date: %[2]d-01-01, end_date: %[2]d-12-31, unit_price: 36}
  - {id: B-%[1]d, name: Zone B %[1]d, zone: B, start_date: %[1]d-01-01, end_date: %[1]d-12-31, unit_price: 45}
  - {id: B-%[2]d, name: Zone B %[2]d, zone: B, start_date: %[2]d-01-01, end_date: %[2]d-12-31, unit_price: 45}
  - {id: C-%[1]d, name: Zone C %[1]d, zone: C, start_date: %[1]d-01-01, end_date: %[1]d-12-31, unit_price: 15}
  - {id: C-%[2]d, name: Zone C %[2]d, zone: C, start_date: %[2]d-01-01, end_date: %[2]d-12-31, unit_price: 15}
`

const demoIBAN = "FI2112345600000785"

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	scenario, ok := lo.Find(scenarios, func(s ScenarioDTO) bool { return s.ID == current })
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, scenario)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !lo.ContainsBy(scenarios, func(s ScenarioDTO) bool { return s.ID == req.ScenarioID }) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", errors.Wrap(ErrUnknownScenario, req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.currentScenario = ""
	customers, err := h.loadScenario(r.Context(), req.ScenarioID, h.now())
	if err != nil {
		h.writeServiceError(w, "Failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "loaded",
		"scenario":  req.ScenarioID,
		"customers": customers,
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadScenario rebuilds the database for one scenario and returns the
// customers it created.
func (h *Handler) loadScenario(ctx context.Context, id string, now time.Time) ([]pricing.CustomerID, error) {
	if err := h.Service.Reset(ctx); err != nil {
		return nil, err
	}

	now = now.In(h.Service.Location())
	products, err := h.Catalog.Parse([]byte(fmt.Sprintf(demoCatalog, now.Year(), now.Year()+1)), factory.FormatYAML)
	if err != nil {
		return nil, err
	}
	if err := h.Service.ImportProducts(ctx, products); err != nil {
		return nil, err
	}

	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	fixed := func(customer pricing.CustomerID, vehicle pricing.VehicleID, zone pricing.Zone, months int) permits.NewPermit {
		return permits.NewPermit{
			CustomerID:   customer,
			VehicleID:    vehicle,
			Zone:         zone,
			ContractType: pricing.ContractFixedPeriod,
			MonthCount:   months,
			StartTime:    start,
		}
	}

	switch id {
	case "single-permit":
		_, err = h.paidPermits(ctx, start, fixed("customer-alice", "ALI-001", "A", 12))
		return []pricing.CustomerID{"customer-alice"}, err

	case "two-vehicles":
		primary := fixed("customer-bob", "BOB-001", "A", 12)
		secondary := fixed("customer-bob", "BOB-002", "A", 6)
		_, err = h.paidPermits(ctx, start, primary, secondary)
		return []pricing.CustomerID{"customer-bob"}, err

	case "open-ended":
		_, err = h.paidPermits(ctx, start, permits.NewPermit{
			CustomerID:   "customer-carol",
			VehicleID:    "CAR-001",
			LowEmission:  true,
			Zone:         "B",
			ContractType: pricing.ContractOpenEnded,
			StartTime:    start,
		})
		return []pricing.CustomerID{"customer-carol"}, err

	case "zone-change":
		created, err := h.paidPermits(ctx, start, fixed("customer-dave", "DAV-001", "B", 12))
		if err != nil {
			return nil, err
		}
		_, err = h.Service.ChangeZone(ctx, permits.ZoneChange{
			PermitID: created[0].ID,
			Zone:     "C",
			IBAN:     demoIBAN,
		}, now)
		return []pricing.CustomerID{"customer-dave"}, err

	case "ended-permit":
		created, err := h.paidPermits(ctx, start, fixed("customer-erin", "ERI-001", "A", 12))
		if err != nil {
			return nil, err
		}
		_, err = h.Service.EndPermit(ctx, permits.EndPermitRequest{
			PermitID: created[0].ID,
			EndType:  pricing.EndImmediately,
			IBAN:     demoIBAN,
		}, now)
		return []pricing.CustomerID{"customer-erin"}, err
	}
	return nil, errors.Wrap(ErrUnknownScenario, id)
}

// paidPermits creates the permits as of their start, orders them together
// and confirms the order.
func (h *Handler) paidPermits(ctx context.Context, asOf time.Time, in ...permits.NewPermit) ([]*pricing.Permit, error) {
	created := make([]*pricing.Permit, 0, len(in))
	for _, np := range in {
		permit, err := h.Service.CreatePermit(ctx, np, asOf)
		if err != nil {
			return nil, err
		}
		created = append(created, permit)
	}

	ids := lo.Map(created, func(p *pricing.Permit, _ int) pricing.PermitID { return p.ID })
	order, err := h.Service.CreateOrder(ctx, in[0].CustomerID, ids)
	if err != nil {
		return nil, err
	}
	if _, err := h.Service.ConfirmOrder(ctx, order.ID); err != nil {
		return nil, err
	}
	h.Metrics.OrderCreated(order)
	return created, nil
}
