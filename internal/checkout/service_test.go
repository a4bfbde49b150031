package checkout_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/internal/availability"
	"github.com/angelmondragon/commonsportal-backend/internal/cart"
	"github.com/angelmondragon/commonsportal-backend/internal/checkout"
	"github.com/angelmondragon/commonsportal-backend/internal/listings"
	"github.com/angelmondragon/commonsportal-backend/internal/orders"
	"github.com/angelmondragon/commonsportal-backend/pkg/config"
	"github.com/angelmondragon/commonsportal-backend/pkg/db"
	"github.com/angelmondragon/commonsportal-backend/pkg/db/dbtest"
	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	"github.com/angelmondragon/commonsportal-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/commonsportal-backend/pkg/errors"
	"github.com/angelmondragon/commonsportal-backend/pkg/logger"
	"github.com/angelmondragon/commonsportal-backend/pkg/metrics"
	"github.com/angelmondragon/commonsportal-backend/pkg/outbox"
	"github.com/angelmondragon/commonsportal-backend/pkg/outbox/payloads"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type harness struct {
	client *db.Client
	outbox *outbox.Repository
	orders orders.Repository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.Open(t)
	return &harness{
		client: client,
		outbox: outbox.NewRepository(client.DB()),
		orders: orders.NewRepository(client.DB()),
	}
}

func (h *harness) service(t *testing.T, runner interface {
	WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}, attempts int) checkout.Service {
	t.Helper()
	conn := h.client.DB()
	svc, err := checkout.NewService(checkout.Deps{
		Tx:       runner,
		Carts:    cart.NewRepository(conn),
		Listings: listings.NewRepository(conn),
		Orders:   h.orders,
		Validator: availability.NewValidator(
			availability.NewCommittedReader(conn),
			availability.WithClock(func() time.Time { return testNow }),
		),
		Outbox:  outbox.NewService(h.outbox, logger.Nop()),
		Config:  config.CheckoutConfig{MaxAttempts: attempts, RetryBaseDelay: time.Millisecond},
		Metrics: metrics.NewCheckoutMetrics(nil),
		Logger:  logger.Nop(),
	})
	require.NoError(t, err)
	return svc
}

func (h *harness) cartOf(t *testing.T, buyerID uuid.UUID) models.Cart {
	t.Helper()
	var c models.Cart
	require.NoError(t, h.client.DB().Preload("Items").Where("buyer_id = ?", buyerID).First(&c).Error)
	return c
}

func (h *harness) countOrders(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.client.DB().Model(&models.Order{}).Count(&n).Error)
	return n
}

func TestCheckoutCreatesOrderAndClearsCart(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, h.client, 3)
	conn := h.client.DB()
	ctx := context.Background()

	buyer := uuid.New()
	seller := uuid.New()
	mug := dbtest.Listing(t, conn, dbtest.WithOwner(seller), dbtest.WithPrice(1250), dbtest.WithCapacity(10), dbtest.WithImage("img/mug.png"))
	shirt := dbtest.Listing(t, conn, dbtest.WithPrice(2000))
	dbtest.CartItem(t, conn, buyer, mug.ID, 2)
	dbtest.CartItem(t, conn, buyer, shirt.ID, 1)
	cartID := h.cartOf(t, buyer).ID

	order, err := svc.Checkout(ctx, buyer, cartID)
	require.NoError(t, err)
	assert.Equal(t, buyer, order.BuyerID)
	assert.EqualValues(t, 4500, order.SubtotalCents)
	assert.EqualValues(t, 4500, order.TotalCents)
	require.Len(t, order.Items, 2)

	stored, err := h.orders.FindOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	byListing := map[uuid.UUID]models.OrderItem{}
	for _, item := range stored.Items {
		assert.Equal(t, enums.OrderItemStatusPending, item.Status)
		require.NotNil(t, item.Snapshot)
		byListing[item.ListingID] = item
	}
	mugItem := byListing[mug.ID]
	assert.Equal(t, seller, mugItem.SellerID)
	assert.Equal(t, 2, mugItem.Quantity)
	assert.EqualValues(t, 1250, mugItem.UnitPriceCents)
	assert.EqualValues(t, 2500, mugItem.SubtotalCents)
	assert.Equal(t, "img/mug.png", mugItem.Snapshot.ImageKey)
	assert.Equal(t, mug.Title, mugItem.Snapshot.Title)

	assert.Empty(t, h.cartOf(t, buyer).Items)

	events, err := h.outbox.ListByAggregate(order.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderCreated, events[0].EventType)
	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(events[0].Payload, &envelope))
	var data payloads.OrderCreatedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, order.ID, data.OrderID)
	assert.Len(t, data.Items, 2)
}

func TestCheckoutRejectsMissingForeignAndEmptyCarts(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, h.client, 3)
	conn := h.client.DB()
	ctx := context.Background()

	_, err := svc.Checkout(ctx, uuid.New(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	owner := uuid.New()
	listing := dbtest.Listing(t, conn)
	dbtest.CartItem(t, conn, owner, listing.ID, 1)
	cartID := h.cartOf(t, owner).ID

	_, err = svc.Checkout(ctx, uuid.New(), cartID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	require.NoError(t, conn.Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error)
	_, err = svc.Checkout(ctx, owner, cartID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeEmptyCart))
	assert.Zero(t, h.countOrders(t))
}

func TestCheckoutIsAllOrNothing(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, h.client, 3)
	conn := h.client.DB()
	ctx := context.Background()

	plenty := dbtest.Listing(t, conn, dbtest.WithCapacity(10))
	scarce := dbtest.Listing(t, conn, dbtest.WithCapacity(1))

	// another buyer got there first
	dbtest.CartItem(t, conn, uuid.New(), scarce.ID, 1)

	buyer := uuid.New()
	dbtest.CartItem(t, conn, buyer, plenty.ID, 3)
	dbtest.CartItem(t, conn, buyer, scarce.ID, 1)
	before := h.cartOf(t, buyer)

	_, err := svc.Checkout(ctx, buyer, before.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCapacityExceeded))

	after := h.cartOf(t, buyer)
	assert.Len(t, after.Items, len(before.Items))
	assert.Zero(t, h.countOrders(t))
	var snapshots int64
	require.NoError(t, conn.Model(&models.OrderItemSnapshot{}).Count(&snapshots).Error)
	assert.Zero(t, snapshots)
}

func TestCheckoutEnforcesSaleWindow(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, h.client, 3)
	conn := h.client.DB()

	ended := dbtest.Listing(t, conn, dbtest.WithWindow(testNow.Add(-48*time.Hour), testNow.Add(-time.Hour)))
	buyer := uuid.New()
	dbtest.CartItem(t, conn, buyer, ended.ID, 1)

	_, err := svc.Checkout(context.Background(), buyer, h.cartOf(t, buyer).ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSaleEnded))
	assert.Len(t, h.cartOf(t, buyer).Items, 1)
}

func TestCheckoutFailsWhenListingDeleted(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, h.client, 3)
	conn := h.client.DB()

	listing := dbtest.Listing(t, conn)
	buyer := uuid.New()
	dbtest.CartItem(t, conn, buyer, listing.ID, 1)
	require.NoError(t, conn.Delete(&listing).Error)

	_, err := svc.Checkout(context.Background(), buyer, h.cartOf(t, buyer).ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Zero(t, h.countOrders(t))
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, h.client, 3)
	conn := h.client.DB()
	ctx := context.Background()

	listing := dbtest.Listing(t, conn, dbtest.WithCapacity(1))
	first := uuid.New()
	second := uuid.New()
	dbtest.CartItem(t, conn, first, listing.ID, 1)
	dbtest.CartItem(t, conn, second, listing.ID, 1)
	carts := map[uuid.UUID]uuid.UUID{
		first:  h.cartOf(t, first).ID,
		second: h.cartOf(t, second).ID,
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = map[uuid.UUID]error{}
	)
	for buyer, cartID := range carts {
		wg.Add(1)
		go func(buyer, cartID uuid.UUID) {
			defer wg.Done()
			_, err := svc.Checkout(ctx, buyer, cartID)
			mu.Lock()
			results[buyer] = err
			mu.Unlock()
		}(buyer, cartID)
	}
	wg.Wait()

	// the item added first wins regardless of which checkout runs first
	require.NoError(t, results[first])
	loser := results[second]
	require.Error(t, loser)
	assert.True(t,
		pkgerrors.IsCode(loser, pkgerrors.CodeCapacityExceeded) || pkgerrors.IsCode(loser, pkgerrors.CodeConflict),
		"unexpected error: %v", loser)

	var sold int64
	require.NoError(t, conn.Model(&models.OrderItem{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("listing_id = ? AND status <> ?", listing.ID, enums.OrderItemStatusCancelled).
		Scan(&sold).Error)
	assert.EqualValues(t, 1, sold)
}

func TestSnapshotSurvivesListingEditAndDelete(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, h.client, 3)
	conn := h.client.DB()
	ctx := context.Background()

	listing := dbtest.Listing(t, conn, dbtest.WithPrice(999), dbtest.WithImage("img/original.png"))
	buyer := uuid.New()
	dbtest.CartItem(t, conn, buyer, listing.ID, 1)

	order, err := svc.Checkout(ctx, buyer, h.cartOf(t, buyer).ID)
	require.NoError(t, err)

	require.NoError(t, conn.Model(&models.Listing{}).Where("id = ?", listing.ID).
		Updates(map[string]any{"title": "Renamed", "price_cents": 5000}).Error)
	require.NoError(t, conn.Delete(&models.Listing{}, "id = ?", listing.ID).Error)

	stored, err := h.orders.FindOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	snap := stored.Items[0].Snapshot
	require.NotNil(t, snap)
	assert.Equal(t, "Fixture listing", snap.Title)
	assert.EqualValues(t, 999, snap.PriceCents)
	assert.Equal(t, "img/original.png", snap.ImageKey)

	snap.Title = "tampered"
	err = conn.Save(snap).Error
	assert.ErrorIs(t, err, models.ErrSnapshotImmutable)
}

// conflictingRunner fails the first n transactions with CONFLICT before
// handing over to the real database.
type conflictingRunner struct {
	client *db.Client
	fail   int
	calls  int
}

func (r *conflictingRunner) WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	r.calls++
	if r.calls <= r.fail {
		return pkgerrors.New(pkgerrors.CodeConflict, "could not serialize access")
	}
	return r.client.WithSerializableTx(ctx, fn)
}

func TestCheckoutRetriesConflicts(t *testing.T) {
	h := newHarness(t)
	conn := h.client.DB()
	runner := &conflictingRunner{client: h.client, fail: 2}
	svc := h.service(t, runner, 3)

	listing := dbtest.Listing(t, conn)
	buyer := uuid.New()
	dbtest.CartItem(t, conn, buyer, listing.ID, 1)

	order, err := svc.Checkout(context.Background(), buyer, h.cartOf(t, buyer).ID)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, order.ID)
	assert.Equal(t, 3, runner.calls)
}

func TestCheckoutGivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	conn := h.client.DB()
	runner := &conflictingRunner{client: h.client, fail: 10}
	svc := h.service(t, runner, 3)

	listing := dbtest.Listing(t, conn)
	buyer := uuid.New()
	dbtest.CartItem(t, conn, buyer, listing.ID, 1)

	_, err := svc.Checkout(context.Background(), buyer, h.cartOf(t, buyer).ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Equal(t, 3, runner.calls)
	assert.Len(t, h.cartOf(t, buyer).Items, 1)
}

func TestCheckoutDoesNotRetryBusinessErrors(t *testing.T) {
	h := newHarness(t)
	runner := &conflictingRunner{client: h.client}
	svc := h.service(t, runner, 3)

	_, err := svc.Checkout(context.Background(), uuid.New(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Equal(t, 1, runner.calls)
}

func TestConcurrentAddsAndCheckoutsKeepCapacity(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, h.client, 5)
	conn := h.client.DB()
	ctx := context.Background()
	carts, err := cart.NewService(
		cart.NewRepository(conn),
		listings.NewRepository(conn),
		h.client,
		availability.NewValidator(
			availability.NewCommittedReader(conn),
			availability.WithClock(func() time.Time { return testNow }),
		),
		metrics.NewCartMetrics(nil),
		logger.Nop(),
	)
	require.NoError(t, err)

	const capacity, buyers = 4, 12
	listing := dbtest.Listing(t, conn, dbtest.WithCapacity(capacity))

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		added        int
		addErrs      []error
		checkoutErrs []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buyer := uuid.New()
			if _, err := carts.AddOrUpdate(ctx, buyer, listing.ID, 1); err != nil {
				mu.Lock()
				addErrs = append(addErrs, err)
				mu.Unlock()
				return
			}
			view, err := carts.Get(ctx, buyer)
			if err == nil {
				_, err = svc.Checkout(ctx, buyer, *view.ID)
			}
			mu.Lock()
			added++
			if err != nil {
				checkoutErrs = append(checkoutErrs, err)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, capacity, added)
	for _, err := range addErrs {
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCapacityExceeded), "unexpected add error: %v", err)
	}
	for _, err := range checkoutErrs {
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "unexpected checkout error: %v", err)
	}

	committed, err := availability.NewCommittedReader(conn).Total(ctx, nil, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, capacity, committed)

	var sold int64
	require.NoError(t, conn.Model(&models.OrderItem{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("listing_id = ?", listing.ID).
		Scan(&sold).Error)
	assert.EqualValues(t, capacity-len(checkoutErrs), sold)
}
