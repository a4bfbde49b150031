package cart_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/commonsportal-backend/internal/availability"
	"github.com/angelmondragon/commonsportal-backend/internal/cart"
	"github.com/angelmondragon/commonsportal-backend/internal/listings"
	"github.com/angelmondragon/commonsportal-backend/pkg/db"
	"github.com/angelmondragon/commonsportal-backend/pkg/db/dbtest"
	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	"github.com/angelmondragon/commonsportal-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/commonsportal-backend/pkg/errors"
	"github.com/angelmondragon/commonsportal-backend/pkg/logger"
	"github.com/angelmondragon/commonsportal-backend/pkg/metrics"
)

type fixture struct {
	client *db.Client
	svc    cart.Service
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	f := &fixture{client: client, now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	validator := availability.NewValidator(
		availability.NewCommittedReader(client.DB()),
		availability.WithClock(func() time.Time { return f.now }),
	)
	svc, err := cart.NewService(
		cart.NewRepository(client.DB()),
		listings.NewRepository(client.DB()),
		client,
		validator,
		metrics.NewCartMetrics(nil),
		logger.Nop(),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestAddOrUpdateCreatesCartAndItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := dbtest.Listing(t, f.client.DB(), dbtest.WithPrice(2500), dbtest.WithImage("img/a.png"))
	buyer := uuid.New()

	item, err := f.svc.AddOrUpdate(ctx, buyer, listing.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, listing.ID, item.ListingID)
	assert.Equal(t, 2, item.Quantity)
	assert.Equal(t, int64(5000), item.SubtotalCents)
	assert.Equal(t, "img/a.png", item.ImageKey)

	view, err := f.svc.Get(ctx, buyer)
	require.NoError(t, err)
	require.NotNil(t, view.ID)
	require.Len(t, view.Items, 1)
	assert.Equal(t, int64(5000), view.SubtotalCents)
	assert.Equal(t, "50.00", view.Subtotal)
}

func TestAddOrUpdateReplacesQuantityForSameListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := dbtest.Listing(t, f.client.DB(), dbtest.WithCapacity(5))
	buyer := uuid.New()

	first, err := f.svc.AddOrUpdate(ctx, buyer, listing.ID, 3)
	require.NoError(t, err)
	// 3 is already held by this same line, so 5 still fits
	second, err := f.svc.AddOrUpdate(ctx, buyer, listing.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	view, err := f.svc.Get(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 5, view.Items[0].Quantity)
}

func TestAddOrUpdateRejectsOverCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := dbtest.Listing(t, f.client.DB(), dbtest.WithCapacity(3))

	_, err := f.svc.AddOrUpdate(ctx, uuid.New(), listing.ID, 2)
	require.NoError(t, err)

	_, err = f.svc.AddOrUpdate(ctx, uuid.New(), listing.ID, 2)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCapacityExceeded))

	_, err = f.svc.AddOrUpdate(ctx, uuid.New(), listing.ID, 1)
	require.NoError(t, err)
}

func TestAddOrUpdateCountsPendingOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := f.client.DB()
	listing := dbtest.Listing(t, conn, dbtest.WithCapacity(2))

	snapshot := models.SnapshotOf(listing)
	require.NoError(t, conn.Create(&snapshot).Error)
	order := models.Order{
		BuyerID: uuid.New(),
		Items: []models.OrderItem{{
			ListingID:  listing.ID,
			SellerID:   listing.OwnerID,
			SnapshotID: snapshot.ID,
			Quantity:   2,
			Status:     enums.OrderItemStatusPending,
		}},
	}
	require.NoError(t, conn.Create(&order).Error)

	_, err := f.svc.AddOrUpdate(ctx, uuid.New(), listing.ID, 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCapacityExceeded))

	require.NoError(t, conn.Model(&models.OrderItem{}).
		Where("id = ?", order.Items[0].ID).
		Update("status", enums.OrderItemStatusCancelled).Error)

	_, err = f.svc.AddOrUpdate(ctx, uuid.New(), listing.ID, 2)
	require.NoError(t, err)
}

func TestAddOrUpdateEnforcesSaleWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.now.Add(time.Hour)
	end := f.now.Add(2 * time.Hour)
	listing := dbtest.Listing(t, f.client.DB(), dbtest.WithWindow(start, end))
	buyer := uuid.New()

	_, err := f.svc.AddOrUpdate(ctx, buyer, listing.ID, 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotYetOnSale))

	f.now = start
	_, err = f.svc.AddOrUpdate(ctx, buyer, listing.ID, 1)
	require.NoError(t, err)

	f.now = end.Add(time.Second)
	_, err = f.svc.AddOrUpdate(ctx, buyer, listing.ID, 2)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSaleEnded))
}

func TestAddOrUpdateValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := dbtest.Listing(t, f.client.DB())

	for _, qty := range []int{0, -1, cart.MaxQuantity + 1} {
		_, err := f.svc.AddOrUpdate(ctx, uuid.New(), listing.ID, qty)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "quantity %d", qty)
	}

	_, err := f.svc.AddOrUpdate(ctx, uuid.New(), uuid.New(), 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestAddOrUpdateRejectsDeletedListing(t *testing.T) {
	f := newFixture(t)
	listing := dbtest.Listing(t, f.client.DB())
	require.NoError(t, f.client.DB().Delete(&listing).Error)

	_, err := f.svc.AddOrUpdate(context.Background(), uuid.New(), listing.ID, 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestUpdateQuantityExcludesOwnItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := dbtest.Listing(t, f.client.DB(), dbtest.WithCapacity(4))
	buyer := uuid.New()

	item, err := f.svc.AddOrUpdate(ctx, buyer, listing.ID, 3)
	require.NoError(t, err)

	updated, err := f.svc.UpdateQuantity(ctx, buyer, item.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Quantity)

	_, err = f.svc.UpdateQuantity(ctx, buyer, item.ID, 5)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCapacityExceeded))
}

func TestUpdateQuantityAndRemoveRequireOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := dbtest.Listing(t, f.client.DB())
	owner := uuid.New()
	stranger := uuid.New()

	item, err := f.svc.AddOrUpdate(ctx, owner, listing.ID, 1)
	require.NoError(t, err)

	_, err = f.svc.UpdateQuantity(ctx, stranger, item.ID, 2)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	err = f.svc.Remove(ctx, stranger, item.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	err = f.svc.Remove(ctx, owner, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	require.NoError(t, f.svc.Remove(ctx, owner, item.ID))
	view, err := f.svc.Get(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
}

func TestRemoveFreesCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := dbtest.Listing(t, f.client.DB(), dbtest.WithCapacity(1))
	first := uuid.New()

	item, err := f.svc.AddOrUpdate(ctx, first, listing.ID, 1)
	require.NoError(t, err)

	_, err = f.svc.AddOrUpdate(ctx, uuid.New(), listing.ID, 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCapacityExceeded))

	require.NoError(t, f.svc.Remove(ctx, first, item.ID))
	_, err = f.svc.AddOrUpdate(ctx, uuid.New(), listing.ID, 1)
	require.NoError(t, err)
}

func TestGetWithoutCartReturnsEmptyView(t *testing.T) {
	f := newFixture(t)
	buyer := uuid.New()

	view, err := f.svc.Get(context.Background(), buyer)
	require.NoError(t, err)
	assert.Nil(t, view.ID)
	assert.Equal(t, buyer, view.BuyerID)
	assert.Empty(t, view.Items)
	assert.Equal(t, "0.00", view.Subtotal)
}

func TestGetOrdersItemsByAddTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := f.client.DB()
	buyer := uuid.New()

	var want []uuid.UUID
	for i := 0; i < 3; i++ {
		listing := dbtest.Listing(t, conn)
		_, err := f.svc.AddOrUpdate(ctx, buyer, listing.ID, 1)
		require.NoError(t, err)
		want = append(want, listing.ID)
	}

	view, err := f.svc.Get(ctx, buyer)
	require.NoError(t, err)
	got := make([]uuid.UUID, 0, len(view.Items))
	for _, item := range view.Items {
		got = append(got, item.ListingID)
	}
	assert.Equal(t, want, got)
}

func TestConcurrentAddsNeverExceedCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const capacity, buyers = 5, 20
	listing := dbtest.Listing(t, f.client.DB(), dbtest.WithCapacity(capacity))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		errs     []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddOrUpdate(ctx, uuid.New(), listing.ID, 1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	if accepted != capacity {
		t.Fatalf("expected %d accepted adds, got %d", capacity, accepted)
	}
	for _, err := range errs {
		if !pkgerrors.IsCode(err, pkgerrors.CodeCapacityExceeded) {
			t.Fatalf("rejected add should report capacity exceeded, got %v", err)
		}
	}
	committed, err := availability.NewCommittedReader(f.client.DB()).Total(ctx, nil, listing.ID)
	if err != nil {
		t.Fatalf("committed total: %v", err)
	}
	if committed != capacity {
		t.Fatalf("expected %d committed units, got %d", capacity, committed)
	}
}
