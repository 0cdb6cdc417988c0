/*
handlers.go - HTTP API handlers for the permit engine

PURPOSE:
  Exposes permit pricing and the order workflows via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to permits.Service.

ENDPOINTS:
  Products:
    GET    /api/products?zone=          Product timeline of a zone
    POST   /api/products/import         Import a JSON or YAML catalogue

  Permits:
    POST   /api/permits                 Apply for a permit (DRAFT)
    GET    /api/permits/{id}            Get permit
    PATCH  /api/permits/{id}            Edit a draft permit
    GET    /api/permits/{id}/products   Allocation of the billing range
    GET    /api/permits/{id}/refund     Refund preview (?as_of=)
    POST   /api/permits/{id}/price-change  Price change preview
    POST   /api/permits/{id}/zone-change   Change zone or vehicle class
    POST   /api/permits/{id}/end        End a permit

  Orders:
    POST   /api/orders                  Order draft permits
    GET    /api/orders/{id}             Get order with items
    POST   /api/orders/{id}/confirm     Record payment
    GET    /api/orders/{id}/refunds     Refunds of an order

  Scenarios (only with WithScenarios):
    GET    /api/scenarios               List demo scenarios
    GET    /api/scenarios/current       Loaded scenario
    POST   /api/scenarios/load          Reset and load a scenario

REQUEST FLOW:
  1. Decode and validate the request (validator/v10)
  2. Call the service
  3. Serialize the response

ERROR HANDLING:
  Errors are returned as JSON {error, details} with the HTTP status taken
  from the error taxonomy (see statusFor):
  - 400: Malformed or invalid input, invalid catalogue
  - 404: Permit or order not found
  - 409: Conflicting state (transition, refund already exists, permit limit)
  - 422: Business rule rejected the request
  - 500: Internal errors and data inconsistencies

SECURITY NOTE:
  No authentication or authorization. Authentication is handled upstream.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/warp/permit-engine/factory"
	"github.com/warp/permit-engine/permits"
	"github.com/warp/permit-engine/pricing"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies, catalogue imports included.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *permits.Service
	Catalog *factory.CatalogFactory
	Metrics *Metrics

	validate  *validator.Validate
	log       *zap.Logger
	now       func() time.Time
	ping      func(context.Context) error
	scenarios bool

	mu              sync.Mutex
	currentScenario string
}

type HandlerOption func(*Handler)

// WithNow overrides the clock used when a request carries no as_of.
func WithNow(now func() time.Time) HandlerOption {
	return func(h *Handler) { h.now = now }
}

// WithHealthCheck adds a dependency check to GET /api/health.
func WithHealthCheck(ping func(context.Context) error) HandlerOption {
	return func(h *Handler) { h.ping = ping }
}

// WithScenarios enables the demo scenario routes, which reset the database.
func WithScenarios(enabled bool) HandlerOption {
	return func(h *Handler) { h.scenarios = enabled }
}

// NewHandler creates a new handler around the workflow service.
func NewHandler(service *permits.Service, log *zap.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		Service:  service,
		Catalog:  factory.NewCatalogFactory(),
		Metrics:  NewMetrics(),
		validate: validator.New(),
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns a zone's product timeline.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	zone := r.URL.Query().Get("zone")
	if zone == "" {
		writeError(w, http.StatusBadRequest, "zone query parameter is required", nil)
		return
	}
	products, err := h.Service.Products(r.Context(), pricing.Zone(zone))
	if err != nil {
		h.writeServiceError(w, "Failed to list products", err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(products, func(p pricing.Product, _ int) ProductDTO { return toProductDTO(p) }))
}

// ImportProducts parses a catalogue in the body and stores its products.
// The Content-Type selects JSON or YAML.
func (h *Handler) ImportProducts(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read catalog", err)
		return
	}
	products, err := h.Catalog.Parse(data, factory.FormatFor(r.Header.Get("Content-Type")))
	if err != nil {
		h.writeServiceError(w, "Invalid catalog", err)
		return
	}
	if err := h.Service.ImportProducts(r.Context(), products); err != nil {
		h.writeServiceError(w, "Failed to import catalog", err)
		return
	}
	writeJSON(w, http.StatusCreated, lo.Map(products, func(p pricing.Product, _ int) ProductDTO { return toProductDTO(p) }))
}

// =============================================================================
// PERMIT HANDLERS
// =============================================================================

// CreatePermit applies for a new DRAFT permit.
func (h *Handler) CreatePermit(w http.ResponseWriter, r *http.Request) {
	var req CreatePermitRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := permits.NewPermit{
		CustomerID:   pricing.CustomerID(req.CustomerID),
		VehicleID:    pricing.VehicleID(req.VehicleID),
		LowEmission:  req.LowEmission,
		Zone:         pricing.Zone(req.Zone),
		ContractType: pricing.ContractType(req.ContractType),
		MonthCount:   req.MonthCount,
	}
	if req.StartTime != nil {
		in.StartTime = *req.StartTime
	}

	permit, err := h.Service.CreatePermit(r.Context(), in, h.asOf(req.AsOf.AsOf))
	if err != nil {
		h.writeServiceError(w, "Failed to create permit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPermitDTO(permit))
}

func (h *Handler) GetPermit(w http.ResponseWriter, r *http.Request) {
	permit, err := h.Service.GetPermit(r.Context(), permitID(r))
	if err != nil {
		h.writeServiceError(w, "Failed to get permit", err)
		return
	}
	writeJSON(w, http.StatusOK, toPermitDTO(permit))
}

// UpdatePermit applies every given field to a draft permit, one command
// per field, in a fixed order and as one update.
func (h *Handler) UpdatePermit(w http.ResponseWriter, r *http.Request) {
	var req UpdatePermitRequest
	if !h.decode(w, r, &req) {
		return
	}

	id := permitID(r)
	permit, err := h.Service.GetPermit(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to get permit", err)
		return
	}

	var cmds []pricing.Command
	if req.Zone != nil {
		cmds = append(cmds, pricing.SetZone{Zone: pricing.Zone(*req.Zone)})
	}
	if req.VehicleID != nil || req.LowEmission != nil {
		cmds = append(cmds, pricing.SetVehicle{
			VehicleID:   pricing.VehicleID(lo.FromPtrOr(req.VehicleID, string(permit.VehicleID))),
			LowEmission: lo.FromPtrOr(req.LowEmission, permit.LowEmission),
		})
	}
	if req.StartTime != nil {
		cmds = append(cmds, pricing.SetStartTime{StartTime: *req.StartTime})
	}
	if req.ContractType != nil || req.MonthCount != nil {
		cmds = append(cmds, pricing.SetContractType{
			ContractType: pricing.ContractType(lo.FromPtrOr(req.ContractType, string(permit.ContractType))),
			MonthCount:   lo.FromPtrOr(req.MonthCount, permit.MonthCount),
		})
	}
	if len(cmds) == 0 {
		writeError(w, http.StatusBadRequest, "Nothing to update", nil)
		return
	}

	if permit, err = h.Service.UpdatePermit(r.Context(), id, h.asOf(req.AsOf.AsOf), cmds...); err != nil {
		h.writeServiceError(w, "Failed to update permit", err)
		return
	}
	writeJSON(w, http.StatusOK, toPermitDTO(permit))
}

// GetPermitProducts returns how the permit's billing range maps onto
// products.
func (h *Handler) GetPermitProducts(w http.ResponseWriter, r *http.Request) {
	id := permitID(r)
	permit, err := h.Service.GetPermit(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to get permit", err)
		return
	}
	allocations, err := h.Service.PermitProducts(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to allocate products", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTOs(permit, allocations))
}

// GetRefund previews the refund for ending the permit at ?as_of=.
func (h *Handler) GetRefund(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.queryAsOf(w, r)
	if !ok {
		return
	}
	preview, err := h.Service.PreviewRefund(r.Context(), permitID(r), asOf)
	if err != nil {
		h.writeServiceError(w, "Failed to compute refund", err)
		return
	}
	writeJSON(w, http.StatusOK, toRefundPreviewDTO(preview))
}

func (h *Handler) PreviewPriceChange(w http.ResponseWriter, r *http.Request) {
	var req PriceChangeRequest
	if !h.decode(w, r, &req) {
		return
	}
	changes, err := h.Service.PreviewPriceChange(r.Context(), permitID(r), pricing.Zone(req.Zone), req.LowEmission, h.asOf(req.AsOf.AsOf))
	if err != nil {
		h.writeServiceError(w, "Failed to compute price change", err)
		return
	}
	writeJSON(w, http.StatusOK, toPriceChangeDTOs(changes))
}

func (h *Handler) ChangeZone(w http.ResponseWriter, r *http.Request) {
	var req ZoneChangeRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.Service.ChangeZone(r.Context(), permits.ZoneChange{
		PermitID:    permitID(r),
		Zone:        pricing.Zone(req.Zone),
		LowEmission: req.LowEmission,
		IBAN:        req.IBAN,
	}, h.asOf(req.AsOf.AsOf))
	if err != nil {
		h.writeServiceError(w, "Failed to change zone", err)
		return
	}
	if result.Order != nil {
		h.Metrics.OrderCreated(result.Order)
	}
	if result.Refund != nil {
		h.Metrics.RefundCreated(result.Refund)
	}
	writeJSON(w, http.StatusOK, ZoneChangeResponse{
		Permit: toPermitDTO(result.Permit),
		Order:  toOrderDTO(result.Order),
		Refund: toRefundDTO(result.Refund),
	})
}

func (h *Handler) EndPermit(w http.ResponseWriter, r *http.Request) {
	var req EndPermitRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.Service.EndPermit(r.Context(), permits.EndPermitRequest{
		PermitID: permitID(r),
		EndType:  pricing.EndType(req.EndType),
		IBAN:     req.IBAN,
	}, h.asOf(req.AsOf.AsOf))
	if err != nil {
		h.writeServiceError(w, "Failed to end permit", err)
		return
	}
	if result.Refund != nil {
		h.Metrics.RefundCreated(result.Refund)
	}
	writeJSON(w, http.StatusOK, EndPermitResponse{
		Permit: toPermitDTO(result.Permit),
		Refund: toRefundDTO(result.Refund),
	})
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	ids := lo.Map(req.PermitIDs, func(id string, _ int) pricing.PermitID { return pricing.PermitID(id) })
	order, err := h.Service.CreateOrder(r.Context(), pricing.CustomerID(req.CustomerID), ids)
	if err != nil {
		h.writeServiceError(w, "Failed to create order", err)
		return
	}
	h.Metrics.OrderCreated(order)
	writeJSON(w, http.StatusCreated, toOrderDTO(order))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Service.GetOrder(r.Context(), orderID(r))
	if err != nil {
		h.writeServiceError(w, "Failed to get order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Service.ConfirmOrder(r.Context(), orderID(r))
	if err != nil {
		h.writeServiceError(w, "Failed to confirm order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

func (h *Handler) ListOrderRefunds(w http.ResponseWriter, r *http.Request) {
	id := orderID(r)
	if _, err := h.Service.GetOrder(r.Context(), id); err != nil {
		h.writeServiceError(w, "Failed to get order", err)
		return
	}
	refunds, err := h.Service.Refunds(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to list refunds", err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(refunds, func(refund pricing.Refund, _ int) *RefundDTO { return toRefundDTO(&refund) }))
}

// Health reports whether the server and its database respond.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func permitID(r *http.Request) pricing.PermitID { return pricing.PermitID(chi.URLParam(r, "id")) }
func orderID(r *http.Request) pricing.OrderID   { return pricing.OrderID(chi.URLParam(r, "id")) }

// decode reads and validates a JSON body. It writes the 400 response itself
// and reports whether the handler may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	return true
}

func (h *Handler) asOf(t *time.Time) time.Time {
	if t != nil {
		return *t
	}
	return h.now()
}

func (h *Handler) queryAsOf(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return h.now(), true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of (use RFC 3339)", err)
		return time.Time{}, false
	}
	return t, true
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case pricing.IsInternal(err):
		return http.StatusInternalServerError
	case errors.Is(err, permits.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, factory.ErrInvalidCatalog):
		return http.StatusBadRequest
	case errors.Is(err, pricing.ErrInvalidTransition),
		errors.Is(err, pricing.ErrRefundNotAllowed),
		errors.Is(err, permits.ErrRefundExists),
		errors.Is(err, permits.ErrTooManyPermits):
		return http.StatusConflict
	case permits.IsClientError(err),
		errors.Is(err, pricing.ErrProductCatalog),
		errors.Is(err, pricing.ErrPrice):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error(message, zap.Error(err))
		if pricing.IsInternal(err) {
			// Data inconsistencies stay out of responses.
			writeError(w, status, message, nil)
			return
		}
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
