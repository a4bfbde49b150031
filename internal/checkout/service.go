package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/internal/availability"
	"github.com/angelmondragon/commonsportal-backend/internal/cart"
	"github.com/angelmondragon/commonsportal-backend/internal/listings"
	"github.com/angelmondragon/commonsportal-backend/internal/orders"
	"github.com/angelmondragon/commonsportal-backend/pkg/config"
	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	"github.com/angelmondragon/commonsportal-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/commonsportal-backend/pkg/errors"
	"github.com/angelmondragon/commonsportal-backend/pkg/logger"
	"github.com/angelmondragon/commonsportal-backend/pkg/metrics"
	"github.com/angelmondragon/commonsportal-backend/pkg/money"
	"github.com/angelmondragon/commonsportal-backend/pkg/outbox"
	"github.com/angelmondragon/commonsportal-backend/pkg/outbox/payloads"
)

const conflictJitterPercent = 20

// serializableRunner opens the strongest transaction the store offers and
// reports serialization failures as CONFLICT.
type serializableRunner interface {
	WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type availabilityValidator interface {
	Validate(ctx context.Context, tx *gorm.DB, listing models.Listing, requested int, opts availability.Options) error
	Now() time.Time
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service converts a buyer's cart into an order.
type Service interface {
	Checkout(ctx context.Context, buyerID, cartID uuid.UUID) (*models.Order, error)
}

type service struct {
	tx        serializableRunner
	carts     cart.Repository
	listings  listings.Repository
	orders    orders.Repository
	validator availabilityValidator
	outbox    outboxEmitter
	cfg       config.CheckoutConfig
	metrics   *metrics.CheckoutMetrics
	logg      *logger.Logger
}

// Deps groups the collaborators of the checkout service.
type Deps struct {
	Tx        serializableRunner
	Carts     cart.Repository
	Listings  listings.Repository
	Orders    orders.Repository
	Validator availabilityValidator
	Outbox    outboxEmitter
	Config    config.CheckoutConfig
	Metrics   *metrics.CheckoutMetrics
	Logger    *logger.Logger
}

// NewService builds the checkout service. Metrics may be nil.
func NewService(deps Deps) (Service, error) {
	if deps.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if deps.Carts == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if deps.Listings == nil {
		return nil, fmt.Errorf("listing repository required")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if deps.Validator == nil {
		return nil, fmt.Errorf("availability validator required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	cfg := deps.Config
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 25 * time.Millisecond
	}
	logg := deps.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		tx:        deps.Tx,
		carts:     deps.Carts,
		listings:  deps.Listings,
		orders:    deps.Orders,
		validator: deps.Validator,
		outbox:    deps.Outbox,
		cfg:       cfg,
		metrics:   deps.Metrics,
		logg:      logg,
	}, nil
}

// Checkout runs the conversion as one serializable transaction. Conflicts
// restart the whole transaction with exponential backoff until the attempt
// budget runs out, after which the caller sees CONFLICT.
func (s *service) Checkout(ctx context.Context, buyerID, cartID uuid.UUID) (*models.Order, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if cartID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id required")
	}

	started := time.Now()
	ctx = s.logg.WithFields(ctx, map[string]any{
		"buyer_id": buyerID.String(),
		"cart_id":  cartID.String(),
	})

	backoff := conflictBackoff(s.cfg)
	var (
		order   *models.Order
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			s.metrics.IncRetry()
			s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt), "retrying checkout after conflict")
		}
		var err error
		order, err = s.attempt(ctx, buyerID, cartID)
		if pkgerrors.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})

	s.metrics.ObserveDuration(time.Since(started))
	s.metrics.IncOutcome(outcomeOf(err))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "checkout interrupted")
		}
		if pkgerrors.As(err) == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checkout failed")
		}
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id": order.ID.String(),
		"items":    len(order.Items),
		"total":    order.TotalCents.String(),
		"attempts": attempt,
	}), "checkout completed")
	return order, nil
}

// attempt is one pass over the checkout steps. Nothing it writes is visible
// unless every step succeeds.
func (s *service) attempt(ctx context.Context, buyerID, cartID uuid.UUID) (*models.Order, error) {
	var order *models.Order
	err := s.tx.WithSerializableTx(ctx, func(tx *gorm.DB) error {
		carts := s.carts.WithTx(tx)

		record, err := carts.FindByID(ctx, cartID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}
		if record.BuyerID != buyerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "cart belongs to another buyer")
		}
		if len(record.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeEmptyCart, "cart contains no items")
		}

		locked, err := s.lockListings(ctx, tx, record.Items)
		if err != nil {
			return err
		}

		lines, err := s.validateLines(ctx, tx, record.Items, locked)
		if err != nil {
			return err
		}

		order, err = s.persist(ctx, tx, *record, lines)
		if err != nil {
			return err
		}

		if _, err := carts.ClearItems(ctx, record.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
		}
		return s.outbox.Emit(ctx, tx, orderCreatedEvent(*order, s.validator.Now()))
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// lockListings takes row locks on every listing in the cart. A listing
// deleted since it was added makes the whole checkout fail.
func (s *service) lockListings(ctx context.Context, tx *gorm.DB, items []models.CartItem) (map[uuid.UUID]models.Listing, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ListingID)
	}
	locked, err := s.listings.WithTx(tx).FindManyForUpdate(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock listings")
	}
	for _, item := range items {
		if _, ok := locked[item.ListingID]; !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing is no longer available").
				WithDetails(map[string]any{"listing_id": item.ListingID, "cart_item_id": item.ID})
		}
	}
	return locked, nil
}

// conflictBackoff spaces out retries after serialization conflicts. Jitter
// keeps buyers that lost the same race from retrying in lockstep.
func conflictBackoff(cfg config.CheckoutConfig) retry.Backoff {
	b := retry.NewExponential(cfg.RetryBaseDelay)
	b = retry.WithJitterPercent(conflictJitterPercent, b)
	return retry.WithMaxRetries(uint64(cfg.MaxAttempts-1), b)
}

type line struct {
	item     models.CartItem
	listing  models.Listing
	subtotal money.Cents
}

// validateLines re-checks availability for every item against the locked
// listing rows. The item itself is left out of the committed sum, and only
// other carts' items added before it count, so earlier additions win when
// carts are jointly over capacity. Order items always count in full.
//
// Counting every other cart instead would make two buyers holding the last
// unit of a listing both fail, since each sees the other's cart; with the
// FIFO rule exactly one of them gets the order (see
// TestConcurrentCheckoutsNeverOversell).
func (s *service) validateLines(ctx context.Context, tx *gorm.DB, items []models.CartItem, locked map[uuid.UUID]models.Listing) ([]line, error) {
	lines := make([]line, 0, len(items))
	for _, item := range items {
		listing := locked[item.ListingID]
		opts := availability.Options{
			ExcludeCartItemID: item.ID,
			QueuedBefore:      &availability.Position{CartItemID: item.ID, AddedAt: item.CreatedAt},
		}
		if err := s.validator.Validate(ctx, tx, listing, item.Quantity, opts); err != nil {
			return nil, err
		}
		subtotal, err := listing.PriceCents.Times(item.Quantity)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "line total out of range")
		}
		lines = append(lines, line{item: item, listing: listing, subtotal: subtotal})
	}
	return lines, nil
}

func (s *service) persist(ctx context.Context, tx *gorm.DB, record models.Cart, lines []line) (*models.Order, error) {
	repo := s.orders.WithTx(tx)

	subtotals := make([]money.Cents, 0, len(lines))
	for _, l := range lines {
		subtotals = append(subtotals, l.subtotal)
	}
	total, err := money.Add(subtotals...)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "order total out of range")
	}

	snapshots := make([]models.OrderItemSnapshot, len(lines))
	items := make([]models.OrderItem, len(lines))
	for i, l := range lines {
		snapshots[i] = models.SnapshotOf(l.listing)
		if err := repo.CreateSnapshot(ctx, &snapshots[i]); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order item snapshot")
		}
		items[i] = models.OrderItem{
			ListingID:      l.listing.ID,
			SellerID:       l.listing.OwnerID,
			SnapshotID:     snapshots[i].ID,
			Quantity:       l.item.Quantity,
			UnitPriceCents: l.listing.PriceCents,
			SubtotalCents:  l.subtotal,
			Status:         enums.OrderItemStatusPending,
		}
	}

	order := &models.Order{
		BuyerID:       record.BuyerID,
		SubtotalCents: total,
		TotalCents:    total,
		Items:         items,
	}
	if err := repo.CreateOrder(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	for i := range order.Items {
		order.Items[i].Snapshot = &snapshots[i]
	}
	return order, nil
}

func orderCreatedEvent(order models.Order, now time.Time) outbox.DomainEvent {
	data := payloads.OrderCreatedEvent{
		OrderID:    order.ID,
		BuyerID:    order.BuyerID,
		TotalCents: int64(order.TotalCents),
		Items:      make([]payloads.OrderCreatedItem, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		data.Items = append(data.Items, payloads.OrderCreatedItem{
			OrderItemID: item.ID,
			ListingID:   item.ListingID,
			SellerID:    item.SellerID,
			Quantity:    item.Quantity,
		})
	}
	return outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: order.BuyerID, Role: orders.RoleBuyer},
		OccurredAt:    now,
		Data:          data,
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case pkgerrors.IsCode(err, pkgerrors.CodeEmptyCart):
		return metrics.OutcomeEmptyCart
	case pkgerrors.IsCode(err, pkgerrors.CodeCapacityExceeded):
		return metrics.OutcomeCapacityExceeded
	case pkgerrors.IsSaleWindowViolation(err):
		return metrics.OutcomeSaleWindow
	case pkgerrors.IsCode(err, pkgerrors.CodeConflict):
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeError
	}
}
