package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	"github.com/angelmondragon/commonsportal-backend/pkg/money"
)

// ListingOption tweaks a fixture listing before it is inserted.
type ListingOption func(*models.Listing)

func WithCapacity(n int) ListingOption {
	return func(l *models.Listing) { l.Capacity = &n }
}

func WithWindow(start, end time.Time) ListingOption {
	return func(l *models.Listing) {
		s, e := start.UTC(), end.UTC()
		l.SaleStartsAt, l.SaleEndsAt = &s, &e
	}
}

func WithOwner(ownerID uuid.UUID) ListingOption {
	return func(l *models.Listing) { l.OwnerID = ownerID }
}

func WithPrice(cents int64) ListingOption {
	return func(l *models.Listing) { l.PriceCents = money.Cents(cents) }
}

func WithImage(key string) ListingOption {
	return func(l *models.Listing) {
		l.Images = append(l.Images, models.ListingImage{ImageKey: key, Position: len(l.Images)})
	}
}

// Listing inserts an unlimited, always-on-sale listing priced at 10.00
// unless opts say otherwise.
func Listing(t testing.TB, conn *gorm.DB, opts ...ListingOption) models.Listing {
	t.Helper()
	listing := models.Listing{
		OwnerID:    uuid.New(),
		Title:      "Fixture listing",
		PriceCents: 1000,
	}
	for _, opt := range opts {
		opt(&listing)
	}
	if err := conn.Create(&listing).Error; err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return listing
}

// CartItem puts quantity of the listing in the buyer's cart, creating the
// cart if needed. It bypasses availability checks.
func CartItem(t testing.TB, conn *gorm.DB, buyerID, listingID uuid.UUID, quantity int) models.CartItem {
	t.Helper()
	var cart models.Cart
	if err := conn.Where(models.Cart{BuyerID: buyerID}).FirstOrCreate(&cart).Error; err != nil {
		t.Fatalf("create cart: %v", err)
	}
	item := models.CartItem{CartID: cart.ID, ListingID: listingID, Quantity: quantity}
	if err := conn.Omit("Listing").Create(&item).Error; err != nil {
		t.Fatalf("create cart item: %v", err)
	}
	return item
}
