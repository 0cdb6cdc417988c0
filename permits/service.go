/*
service.go - Permit, order and refund workflows

PURPOSE:
  Runs the read-compute-write sequences around the pricing engine: creating
  permits, billing them, changing zones mid-term and ending them with a
  refund. The engine stays pure; everything stateful happens here.

TRANSACTIONS:
  Every workflow that writes runs inside Store.WithTx and builds its engine
  over the transaction-bound store, so the catalog and invoiced items it
  prices against are the ones it commits with.

ZONE CHANGE OF A FIXED_PERIOD PERMIT:
  1. Apply the new zone and emission class to the permit
  2. Reconcile the unused part of the current order against the new prices
  3. Net payment > 0: a DRAFT renewal order the customer has to pay.
     The permit switches to it on ConfirmOrder.
  4. Net payment <= 0: the renewal order is confirmed at once and, when the
     customer is owed money, a refund is created against the order the
     credit came from.

ENDING A PERMIT:
  Refund eligibility and amount are evaluated before the permit closes.
  A primary permit cannot end while a secondary permit is still open.
  Permits that simply run out are closed by ExpirePermits, without refund.

SEE ALSO:
  - store.go: Store contract
  - pricing/renewal.go: RenewalReconciler
*/
package permits

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/permit-engine/factory"
	"github.com/warp/permit-engine/pricing"
	"go.uber.org/zap"
)

// ErrTooManyPermits is returned when a customer already holds the maximum
// number of open permits.
var ErrTooManyPermits = errors.New("too many open permits")

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store Store
	loc   *time.Location
	log   *zap.Logger
	now   func() time.Time
}

type Option func(*Service)

// WithClock overrides the clock used to stamp created orders and refunds.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, loc *time.Location, log *zap.Logger, opts ...Option) *Service {
	s := &Service{store: store, loc: loc, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location is the time zone permits are billed in.
func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) engine(store Store) *pricing.Engine {
	return pricing.NewEngine(store, s.loc)
}

// =============================================================================
// PRODUCTS
// =============================================================================

// ImportProducts upserts products and rejects the import when any affected
// zone would end up with overlapping resident products.
func (s *Service) ImportProducts(ctx context.Context, products []pricing.Product) error {
	err := s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.SaveProducts(ctx, products); err != nil {
			return err
		}
		zones := lo.Uniq(lo.Map(products, func(p pricing.Product, _ int) pricing.Zone { return p.Zone }))
		for _, zone := range zones {
			existing, err := tx.ProductsByZone(ctx, zone)
			if err != nil {
				return err
			}
			if err := factory.ValidateTimelines(existing); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return s.fail("import products", err)
	}
	s.log.Info("products imported", zap.Int("count", len(products)))
	return nil
}

func (s *Service) Products(ctx context.Context, zone pricing.Zone) ([]pricing.Product, error) {
	return s.store.ProductsByZone(ctx, zone)
}

// =============================================================================
// PERMITS
// =============================================================================

// NewPermit describes a permit a customer applies for. A zero StartTime
// means asOf.
type NewPermit struct {
	CustomerID   pricing.CustomerID
	VehicleID    pricing.VehicleID
	LowEmission  bool
	Zone         pricing.Zone
	ContractType pricing.ContractType
	MonthCount   int
	StartTime    time.Time
}

// CreatePermit stores a new DRAFT permit. The customer's first open permit
// is the primary one; a second is secondary and must follow the primary's
// contract.
func (s *Service) CreatePermit(ctx context.Context, in NewPermit, asOf time.Time) (*pricing.Permit, error) {
	var permit *pricing.Permit
	err := s.store.WithTx(ctx, func(tx Store) error {
		open, err := tx.PermitsByCustomer(ctx, in.CustomerID, pricing.OpenStatuses()...)
		if err != nil {
			return err
		}
		if len(open) >= pricing.MaxPermitsPerCustomer {
			return errors.Wrapf(ErrTooManyPermits, "customer %s has %d open permits", in.CustomerID, len(open))
		}
		primary, hasPrimary := lo.Find(open, func(p *pricing.Permit) bool { return p.PrimaryVehicle })

		permit = &pricing.Permit{
			ID:             pricing.PermitID(uuid.NewString()),
			CustomerID:     in.CustomerID,
			ContractType:   in.ContractType,
			StartTime:      lo.Ternary(in.StartTime.IsZero(), asOf, in.StartTime).In(s.loc),
			PrimaryVehicle: !hasPrimary,
			Status:         pricing.StatusDraft,
		}
		uc := pricing.UpdateContext{Primary: lo.Ternary(hasPrimary, primary, nil), AsOf: asOf, Location: s.loc}
		cmds := []pricing.Command{
			pricing.SetZone{Zone: in.Zone},
			pricing.SetVehicle{VehicleID: in.VehicleID, LowEmission: in.LowEmission},
			pricing.SetStartTime{StartTime: permit.StartTime},
			pricing.SetContractType{ContractType: in.ContractType, MonthCount: in.MonthCount},
		}
		for _, cmd := range cmds {
			if err := pricing.ApplyUpdate(permit, cmd, uc); err != nil {
				return err
			}
		}
		return tx.SavePermit(ctx, permit)
	})
	if err != nil {
		return nil, s.fail("create permit", err, zap.String("customer_id", string(in.CustomerID)))
	}
	s.log.Info("permit created",
		zap.String("permit_id", string(permit.ID)),
		zap.String("customer_id", string(permit.CustomerID)),
		zap.Bool("primary", permit.PrimaryVehicle))
	return permit, nil
}

func (s *Service) GetPermit(ctx context.Context, id pricing.PermitID) (*pricing.Permit, error) {
	return s.store.GetPermit(ctx, id)
}

// UpdatePermit applies commands, in order, to a DRAFT permit. Either all of
// them apply or none. Zone and vehicle changes of a VALID permit go through
// ChangeZone so they are billed.
func (s *Service) UpdatePermit(ctx context.Context, id pricing.PermitID, asOf time.Time, cmds ...pricing.Command) (*pricing.Permit, error) {
	var permit *pricing.Permit
	err := s.store.WithTx(ctx, func(tx Store) error {
		var err error
		if permit, err = tx.GetPermit(ctx, id); err != nil {
			return err
		}
		if permit.Status != pricing.StatusDraft {
			return errors.Wrapf(pricing.ErrPermitUpdate, "permit %s is %s, only draft permits can be edited", id, permit.Status)
		}
		uc, err := s.updateContext(ctx, tx, permit, asOf)
		if err != nil {
			return err
		}
		for _, cmd := range cmds {
			if err := pricing.ApplyUpdate(permit, cmd, uc); err != nil {
				return err
			}
		}
		return tx.SavePermit(ctx, permit)
	})
	if err != nil {
		return nil, s.fail("update permit", err, zap.String("permit_id", string(id)))
	}
	return permit, nil
}

// PermitProducts previews how a permit's billing range maps onto products.
func (s *Service) PermitProducts(ctx context.Context, id pricing.PermitID) ([]pricing.Allocation, error) {
	permit, err := s.store.GetPermit(ctx, id)
	if err != nil {
		return nil, err
	}
	allocations, err := s.engine(s.store).Allocator.Allocate(ctx, permit)
	if err != nil {
		return nil, s.fail("allocate permit", err, zap.String("permit_id", string(id)))
	}
	return allocations, nil
}

func (s *Service) updateContext(ctx context.Context, store Store, permit *pricing.Permit, asOf time.Time) (pricing.UpdateContext, error) {
	uc := pricing.UpdateContext{AsOf: asOf, Location: s.loc}
	if permit.PrimaryVehicle {
		return uc, nil
	}
	open, err := store.PermitsByCustomer(ctx, permit.CustomerID, pricing.OpenStatuses()...)
	if err != nil {
		return uc, err
	}
	if primary, ok := lo.Find(open, func(p *pricing.Permit) bool { return p.PrimaryVehicle }); ok {
		uc.Primary = primary
	}
	return uc, nil
}

// =============================================================================
// ORDERS
// =============================================================================

// CreateOrder prices DRAFT permits of one customer into a DRAFT order.
func (s *Service) CreateOrder(ctx context.Context, customerID pricing.CustomerID, permitIDs []pricing.PermitID) (*pricing.Order, error) {
	var order *pricing.Order
	err := s.store.WithTx(ctx, func(tx Store) error {
		permits := make([]*pricing.Permit, 0, len(permitIDs))
		for _, id := range lo.Uniq(permitIDs) {
			permit, err := tx.GetPermit(ctx, id)
			if err != nil {
				return err
			}
			if permit.CustomerID != customerID {
				return &pricing.OrderCreationError{CustomerID: customerID, Reason: fmt.Sprintf("permit %s belongs to another customer", id)}
			}
			if permit.Status != pricing.StatusDraft {
				return &pricing.OrderCreationError{CustomerID: customerID, Reason: fmt.Sprintf("permit %s is %s, not draft", id, permit.Status)}
			}
			permits = append(permits, permit)
		}

		var err error
		if order, err = s.engine(tx).Orders.BuildOrder(ctx, permits); err != nil {
			return err
		}
		s.stamp(order)
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		for _, permit := range permits {
			permit.OrderID = order.ID
			if err := tx.SavePermit(ctx, permit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("create order", err, zap.String("customer_id", string(customerID)))
	}
	s.log.Info("order created",
		zap.String("order_id", string(order.ID)),
		zap.String("total", order.TotalPrice().String()))
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, id pricing.OrderID) (*pricing.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// ConfirmOrder records payment: the order becomes CONFIRMED, its DRAFT
// permits become VALID and every permit is billed by it from now on. A
// renewal is only accepted while its permits are still billed by the order
// it was reconciled against.
func (s *Service) ConfirmOrder(ctx context.Context, id pricing.OrderID) (*pricing.Order, error) {
	var order *pricing.Order
	err := s.store.WithTx(ctx, func(tx Store) error {
		var err error
		if order, err = tx.GetOrder(ctx, id); err != nil {
			return err
		}
		if err := order.Confirm(); err != nil {
			return err
		}
		if err := tx.UpdateOrderStatus(ctx, order.ID, order.Status); err != nil {
			return err
		}
		for _, permitID := range order.PermitIDs {
			permit, err := tx.GetPermit(ctx, permitID)
			if err != nil {
				return err
			}
			if permit.Status == pricing.StatusDraft {
				if err := permit.Transition(pricing.StatusValid); err != nil {
					return err
				}
			}
			if permit.Status != pricing.StatusValid {
				return &pricing.OrderCreationError{CustomerID: order.CustomerID, Reason: fmt.Sprintf("permit %s is %s", permit.ID, permit.Status)}
			}
			if order.IsRenewal() && permit.OrderID != order.PreviousOrderID {
				return &pricing.OrderCreationError{
					CustomerID: order.CustomerID,
					Reason: fmt.Sprintf("renewal %s was priced against order %s, permit %s is billed by %s",
						order.ID, order.PreviousOrderID, permit.ID, permit.OrderID),
				}
			}
			permit.OrderID = order.ID
			if err := tx.SavePermit(ctx, permit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("confirm order", err, zap.String("order_id", string(id)))
	}
	s.log.Info("order confirmed", zap.String("order_id", string(id)))
	return order, nil
}

// cancelDraftRenewals cancels the unpaid renewals of a permit that changes
// zone again or ends. None of them can be paid afterwards.
func (s *Service) cancelDraftRenewals(ctx context.Context, store Store, permitID pricing.PermitID) error {
	ids, err := store.DraftRenewals(ctx, permitID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		order, err := store.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if err := order.Cancel(); err != nil {
			return err
		}
		if err := store.UpdateOrderStatus(ctx, order.ID, order.Status); err != nil {
			return err
		}
		s.log.Info("draft renewal cancelled",
			zap.String("order_id", string(order.ID)),
			zap.String("permit_id", string(permitID)))
	}
	return nil
}

// stamp assigns identifiers to a freshly built order and its items.
func (s *Service) stamp(order *pricing.Order) {
	order.ID = pricing.OrderID(uuid.NewString())
	order.CreatedAt = s.now()
	for i := range order.Items {
		order.Items[i].ID = pricing.OrderItemID(uuid.NewString())
		order.Items[i].OrderID = order.ID
	}
}

// =============================================================================
// PRICE AND ZONE CHANGES
// =============================================================================

// PreviewPriceChange lists the monthly price differences the permit would
// see in newZone with a vehicle of the given emission class.
func (s *Service) PreviewPriceChange(ctx context.Context, id pricing.PermitID, newZone pricing.Zone, lowEmission bool, asOf time.Time) ([]pricing.PriceChange, error) {
	permit, err := s.store.GetPermit(ctx, id)
	if err != nil {
		return nil, err
	}
	changes, err := s.engine(s.store).PriceChanges.PriceChanges(ctx, permit, newZone, lowEmission, asOf)
	if err != nil {
		return nil, s.fail("preview price change", err, zap.String("permit_id", string(id)))
	}
	return changes, nil
}

type ZoneChange struct {
	PermitID    pricing.PermitID
	Zone        pricing.Zone
	LowEmission bool
	IBAN        string
}

// ZoneChangeResult carries what a zone change produced. Order is nil for
// OPEN_ENDED permits, Refund is nil unless money is owed back.
type ZoneChangeResult struct {
	Permit *pricing.Permit
	Order  *pricing.Order
	Refund *pricing.Refund
}

// ChangeZone moves a VALID permit to another zone or emission class and
// bills the difference for the months it has not started yet.
func (s *Service) ChangeZone(ctx context.Context, change ZoneChange, asOf time.Time) (*ZoneChangeResult, error) {
	result := &ZoneChangeResult{}
	err := s.store.WithTx(ctx, func(tx Store) error {
		permit, err := tx.GetPermit(ctx, change.PermitID)
		if err != nil {
			return err
		}
		if permit.Status != pricing.StatusValid {
			return errors.Wrapf(pricing.ErrPermitUpdate, "permit %s is %s, only valid permits change zone", permit.ID, permit.Status)
		}
		uc, err := s.updateContext(ctx, tx, permit, asOf)
		if err != nil {
			return err
		}
		if err := pricing.ApplyUpdate(permit, pricing.SetZone{Zone: change.Zone}, uc); err != nil {
			return err
		}
		if err := pricing.ApplyUpdate(permit, pricing.SetVehicle{VehicleID: permit.VehicleID, LowEmission: change.LowEmission}, uc); err != nil {
			return err
		}
		result.Permit = permit

		if permit.IsOpenEnded() {
			return tx.SavePermit(ctx, permit)
		}

		if err := s.cancelDraftRenewals(ctx, tx, permit.ID); err != nil {
			return err
		}
		previous, err := tx.GetOrder(ctx, permit.OrderID)
		if err != nil {
			return err
		}
		items, err := tx.OrderItemsForPermit(ctx, permit.ID)
		if err != nil {
			return err
		}
		order, err := s.engine(tx).Renewals.RenewalOrder(ctx, []pricing.RenewalInput{{
			Permit:        permit,
			PreviousOrder: previous,
			OrderItems:    items,
		}}, asOf)
		if err != nil {
			return err
		}
		s.stamp(order)
		order.PreviousOrderID = previous.ID
		result.Order = order

		net := order.TotalPaymentPrice()
		if !net.IsPositive() {
			if err := order.Confirm(); err != nil {
				return err
			}
			permit.OrderID = order.ID
		}
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		if net.IsNegative() {
			refund, err := s.createRefund(ctx, tx, previous.ID, net.Neg(), change.IBAN,
				fmt.Sprintf("Zone change of permit %s to %s", permit.ID, permit.Zone))
			if err != nil {
				return err
			}
			result.Refund = refund
		}
		return tx.SavePermit(ctx, permit)
	})
	if err != nil {
		return nil, s.fail("change zone", err, zap.String("permit_id", string(change.PermitID)))
	}

	fields := []zap.Field{
		zap.String("permit_id", string(change.PermitID)),
		zap.String("zone", string(change.Zone)),
	}
	if result.Order != nil {
		fields = append(fields,
			zap.String("order_id", string(result.Order.ID)),
			zap.String("payment", result.Order.TotalPaymentPrice().String()))
	}
	s.log.Info("permit zone changed", fields...)
	return result, nil
}

// =============================================================================
// ENDING AND REFUNDS
// =============================================================================

type EndPermitRequest struct {
	PermitID pricing.PermitID
	EndType  pricing.EndType
	IBAN     string
}

type EndPermitResult struct {
	Permit *pricing.Permit
	Refund *pricing.Refund
}

// RefundPreview is what ending a permit at asOf would pay back.
type RefundPreview struct {
	Refundable bool
	Amount     decimal.Decimal
	Items      []pricing.UnusedItem
}

// EndPermit closes a permit and, when it is eligible, refunds the months it
// will not use.
func (s *Service) EndPermit(ctx context.Context, req EndPermitRequest, asOf time.Time) (*EndPermitResult, error) {
	result := &EndPermitResult{}
	err := s.store.WithTx(ctx, func(tx Store) error {
		permit, err := tx.GetPermit(ctx, req.PermitID)
		if err != nil {
			return err
		}
		if permit.PrimaryVehicle {
			open, err := tx.PermitsByCustomer(ctx, permit.CustomerID, pricing.OpenStatuses()...)
			if err != nil {
				return err
			}
			if lo.ContainsBy(open, func(p *pricing.Permit) bool { return !p.PrimaryVehicle }) {
				return errors.Wrapf(pricing.ErrPermitUpdate, "end the secondary permit of customer %s first", permit.CustomerID)
			}
		}

		preview, order, err := s.refundPreview(ctx, tx, permit, asOf)
		if err != nil {
			return err
		}
		if err := permit.End(req.EndType, asOf, s.loc); err != nil {
			return err
		}
		if err := s.cancelDraftRenewals(ctx, tx, permit.ID); err != nil {
			return err
		}
		result.Permit = permit

		if preview.Refundable && preview.Amount.IsPositive() {
			refund, err := s.createRefund(ctx, tx, order.ID, preview.Amount, req.IBAN,
				fmt.Sprintf("Ending permit %s", permit.ID))
			if err != nil {
				return err
			}
			result.Refund = refund
		}
		return tx.SavePermit(ctx, permit)
	})
	if err != nil {
		return nil, s.fail("end permit", err, zap.String("permit_id", string(req.PermitID)))
	}
	s.log.Info("permit ended",
		zap.String("permit_id", string(req.PermitID)),
		zap.String("end_type", string(req.EndType)),
		zap.Bool("refunded", result.Refund != nil))
	return result, nil
}

// PreviewRefund computes the refund ending the permit at asOf would create.
func (s *Service) PreviewRefund(ctx context.Context, id pricing.PermitID, asOf time.Time) (*RefundPreview, error) {
	permit, err := s.store.GetPermit(ctx, id)
	if err != nil {
		return nil, err
	}
	preview, _, err := s.refundPreview(ctx, s.store, permit, asOf)
	if err != nil {
		return nil, s.fail("preview refund", err, zap.String("permit_id", string(id)))
	}
	return preview, nil
}

func (s *Service) Refunds(ctx context.Context, orderID pricing.OrderID) ([]pricing.Refund, error) {
	return s.store.RefundsByOrder(ctx, orderID)
}

// ExpirePermits closes every VALID permit whose end time has passed at asOf
// and returns the ids it closed. Expiry creates no refund.
func (s *Service) ExpirePermits(ctx context.Context, asOf time.Time) ([]pricing.PermitID, error) {
	var expired []pricing.PermitID
	err := s.store.WithTx(ctx, func(tx Store) error {
		ended, err := tx.PermitsEndedBy(ctx, asOf)
		if err != nil {
			return err
		}
		for _, permit := range ended {
			if err := permit.Transition(pricing.StatusClosed); err != nil {
				return err
			}
			if err := tx.SavePermit(ctx, permit); err != nil {
				return err
			}
			expired = append(expired, permit.ID)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("expire permits", err)
	}
	if len(expired) > 0 {
		s.log.Info("permits expired", zap.Int("count", len(expired)), zap.Time("as_of", asOf))
	}
	return expired, nil
}

// Reset deletes every product, permit, order and refund.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return s.fail("reset", err)
	}
	s.log.Warn("all data deleted")
	return nil
}

// refundPreview evaluates eligibility against the permit's current order.
// An ineligible permit yields a zero preview, not an error.
func (s *Service) refundPreview(ctx context.Context, store Store, permit *pricing.Permit, asOf time.Time) (*RefundPreview, *pricing.Order, error) {
	preview := &RefundPreview{Amount: decimal.Zero, Items: []pricing.UnusedItem{}}
	if permit.OrderID == "" || !permit.IsFixedPeriod() {
		return preview, nil, nil
	}
	order, err := store.GetOrder(ctx, permit.OrderID)
	if err != nil {
		return nil, nil, err
	}
	hasRefund, err := store.RefundExists(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}
	if !permit.CanBeRefunded(order, hasRefund) {
		return preview, order, nil
	}

	items, err := store.OrderItemsForPermit(ctx, permit.ID)
	if err != nil {
		return nil, nil, err
	}
	refunds := s.engine(store).Refunds
	if preview.Items, err = refunds.UnusedOrderItems(permit, items, asOf); err != nil {
		return nil, nil, err
	}
	for _, u := range preview.Items {
		preview.Amount = preview.Amount.Add(u.Amount())
	}
	preview.Refundable = true
	return preview, order, nil
}

func (s *Service) createRefund(ctx context.Context, store Store, orderID pricing.OrderID, amount decimal.Decimal, iban, description string) (*pricing.Refund, error) {
	refund := &pricing.Refund{
		ID:          pricing.RefundID(uuid.NewString()),
		OrderID:     orderID,
		Amount:      amount,
		IBAN:        iban,
		Status:      pricing.RefundPending,
		Description: description,
		CreatedAt:   s.now(),
	}
	if err := store.SaveRefund(ctx, *refund); err != nil {
		if errors.Is(err, ErrRefundExists) {
			return nil, errors.WithSecondaryError(
				errors.Wrapf(pricing.ErrRefundNotAllowed, "order %s already has a refund", orderID), err)
		}
		return nil, err
	}
	return refund, nil
}

// =============================================================================
// LOGGING
// =============================================================================

// fail logs a failed workflow at a level matching who has to act on it and
// returns err unchanged.
func (s *Service) fail(op string, err error, fields ...zap.Field) error {
	fields = append(fields, zap.String("op", op), zap.Error(err))
	switch {
	case pricing.IsInternal(err):
		s.log.Error("pricing data inconsistent", fields...)
	case IsClientError(err):
		s.log.Warn("request rejected", fields...)
	default:
		s.log.Error("workflow failed", fields...)
	}
	return err
}

// IsClientError extends pricing.IsClientError with the workflow errors a
// caller can fix.
func IsClientError(err error) bool {
	return pricing.IsClientError(err) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTooManyPermits) ||
		errors.Is(err, ErrRefundExists) ||
		errors.Is(err, factory.ErrInvalidCatalog)
}
