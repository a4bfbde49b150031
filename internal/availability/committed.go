package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	"github.com/angelmondragon/commonsportal-backend/pkg/enums"
)

// Options narrows which cart items count as committed.
type Options struct {
	// ExcludeCartItemID leaves one cart item out of the sum so that an item
	// being edited or checked out does not count against itself.
	ExcludeCartItemID uuid.UUID
	// QueuedBefore, when set, only counts cart items of other carts added
	// before this position. Checkout uses it so earlier additions win when
	// carts are jointly over capacity.
	QueuedBefore *Position
}

// Position orders cart items by when they were added.
type Position struct {
	CartItemID uuid.UUID
	AddedAt    time.Time
}

// CommittedReader sums cart and non-cancelled order quantities per listing.
type CommittedReader struct {
	db *gorm.DB
}

func NewCommittedReader(db *gorm.DB) *CommittedReader {
	return &CommittedReader{db: db}
}

func (r *CommittedReader) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

// Committed returns the quantity of the listing held by carts plus
// non-cancelled order items, honouring opts.
func (r *CommittedReader) Committed(ctx context.Context, tx *gorm.DB, listingID uuid.UUID, opts Options) (int, error) {
	conn := r.conn(ctx, tx)

	var inCarts int64
	q := conn.Model(&models.CartItem{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("listing_id = ?", listingID)
	if opts.ExcludeCartItemID != uuid.Nil {
		q = q.Where("id <> ?", opts.ExcludeCartItemID)
	}
	if pos := opts.QueuedBefore; pos != nil {
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", pos.AddedAt, pos.AddedAt, pos.CartItemID)
	}
	if err := q.Scan(&inCarts).Error; err != nil {
		return 0, err
	}

	var ordered int64
	if err := conn.Model(&models.OrderItem{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("listing_id = ? AND status <> ?", listingID, enums.OrderItemStatusCancelled).
		Scan(&ordered).Error; err != nil {
		return 0, err
	}
	return int(inCarts + ordered), nil
}

// Total is Committed without exclusions.
func (r *CommittedReader) Total(ctx context.Context, tx *gorm.DB, listingID uuid.UUID) (int, error) {
	return r.Committed(ctx, tx, listingID, Options{})
}

type listingSum struct {
	ListingID uuid.UUID
	Total     int64
}

// Totals is Total for many listings at once. Listings with nothing
// committed are absent from the map.
func (r *CommittedReader) Totals(ctx context.Context, tx *gorm.DB, listingIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int, len(listingIDs))
	if len(listingIDs) == 0 {
		return out, nil
	}
	conn := r.conn(ctx, tx)

	var carts []listingSum
	if err := conn.Model(&models.CartItem{}).
		Select("listing_id, COALESCE(SUM(quantity), 0) AS total").
		Where("listing_id IN ?", listingIDs).
		Group("listing_id").
		Scan(&carts).Error; err != nil {
		return nil, err
	}
	var ordered []listingSum
	if err := conn.Model(&models.OrderItem{}).
		Select("listing_id, COALESCE(SUM(quantity), 0) AS total").
		Where("listing_id IN ? AND status <> ?", listingIDs, enums.OrderItemStatusCancelled).
		Group("listing_id").
		Scan(&ordered).Error; err != nil {
		return nil, err
	}
	for _, row := range carts {
		out[row.ListingID] += int(row.Total)
	}
	for _, row := range ordered {
		out[row.ListingID] += int(row.Total)
	}
	return out, nil
}
