package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/pkg/db"
	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
)

// Repository defines the persistence surface required by the cart and
// checkout services.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByBuyer(ctx context.Context, buyerID uuid.UUID) (*models.Cart, error)
	FindByID(ctx context.Context, cartID uuid.UUID) (*models.Cart, error)
	GetOrCreate(ctx context.Context, buyerID uuid.UUID) (*models.Cart, error)
	FindItem(ctx context.Context, itemID uuid.UUID) (*models.CartItem, *models.Cart, error)
	FindItemByListing(ctx context.Context, cartID, listingID uuid.UUID) (*models.CartItem, error)
	CreateItem(ctx context.Context, item *models.CartItem) error
	UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error
	DeleteItem(ctx context.Context, itemID uuid.UUID) error
	ClearItems(ctx context.Context, cartID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

// WithTx binds the repository to a transaction.
func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// itemsByAddTime keeps cart display order stable.
func itemsByAddTime(q *gorm.DB) *gorm.DB {
	return q.Order("created_at ASC").Order("id ASC")
}

func imagesByPosition(q *gorm.DB) *gorm.DB {
	return q.Order("position ASC")
}

func (r *repository) withItems() *gorm.DB {
	return r.db.
		Preload("Items", itemsByAddTime).
		Preload("Items.Listing").
		Preload("Items.Listing.Images", imagesByPosition)
}

func (r *repository) FindByBuyer(ctx context.Context, buyerID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.withItems().WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *repository) FindByID(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.withItems().WithContext(ctx).
		Where("id = ?", cartID).
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// GetOrCreate returns the buyer's cart, creating it on first use. A
// concurrent creation by the same buyer is resolved by re-reading.
func (r *repository) GetOrCreate(ctx context.Context, buyerID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).Where("buyer_id = ?", buyerID).First(&cart).Error
	if err == nil {
		return &cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	cart = models.Cart{BuyerID: buyerID}
	// the savepoint keeps a Postgres transaction usable after a duplicate insert
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&cart).Error
	})
	if err != nil {
		if !db.IsUniqueViolation(err, "idx_carts_buyer") {
			return nil, err
		}
		cart = models.Cart{}
		if err := r.db.WithContext(ctx).Where("buyer_id = ?", buyerID).First(&cart).Error; err != nil {
			return nil, err
		}
	}
	return &cart, nil
}

// FindItem loads a cart item along with the cart that owns it.
func (r *repository) FindItem(ctx context.Context, itemID uuid.UUID) (*models.CartItem, *models.Cart, error) {
	var item models.CartItem
	if err := r.db.WithContext(ctx).Where("id = ?", itemID).First(&item).Error; err != nil {
		return nil, nil, err
	}
	var cart models.Cart
	if err := r.db.WithContext(ctx).Where("id = ?", item.CartID).First(&cart).Error; err != nil {
		return nil, nil, err
	}
	return &item, &cart, nil
}

func (r *repository) FindItemByListing(ctx context.Context, cartID, listingID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.WithContext(ctx).
		Where("cart_id = ? AND listing_id = ?", cartID, listingID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) CreateItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Omit("Listing").Create(item).Error
}

func (r *repository) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", itemID).
		Update("quantity", quantity).Error
}

func (r *repository) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", itemID).Delete(&models.CartItem{}).Error
}

// ClearItems removes every item of the cart and reports how many went.
func (r *repository) ClearItems(ctx context.Context, cartID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&models.CartItem{})
	return res.RowsAffected, res.Error
}
