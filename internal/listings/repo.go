package listings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/pkg/db"
	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	"github.com/angelmondragon/commonsportal-backend/pkg/pagination"
)

// Repository is the persistence surface used by the listing service and by
// the cart and checkout flows that read listings inside their transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, listing *models.Listing) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	FindAnyByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	FindManyForUpdate(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Listing, error)
	Save(ctx context.Context, listing *models.Listing) error
	ReplaceImages(ctx context.Context, listingID uuid.UUID, images []models.ListingImage) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	DeleteCartItems(ctx context.Context, listingID uuid.UUID) (int64, error)
	List(ctx context.Context, params ListParams, cursor *pagination.Cursor, now time.Time) ([]models.Listing, error)
	Sales(ctx context.Context, listingID uuid.UUID) ([]models.OrderItem, error)
	ListLimited(ctx context.Context, afterID uuid.UUID, limit int) ([]models.Listing, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, listing *models.Listing) error {
	return r.db.WithContext(ctx).Create(listing).Error
}

func orderedImages(q *gorm.DB) *gorm.DB {
	return q.Order("position ASC")
}

// FindByID excludes soft-deleted listings.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	err := r.db.WithContext(ctx).
		Preload("Images", orderedImages).
		Where("id = ?", id).
		First(&listing).Error
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// FindAnyByID includes soft-deleted listings.
func (r *repository) FindAnyByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	err := r.db.WithContext(ctx).Unscoped().
		Where("id = ?", id).
		First(&listing).Error
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// FindByIDForUpdate loads the listing and, on Postgres, locks its row until
// the surrounding transaction ends. Capacity writers for the same listing
// queue behind this lock.
func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("id = ?", id).
		First(&listing).Error
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Scopes(orderedImages).
		Where("listing_id = ?", id).
		Find(&listing.Images).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

// FindManyForUpdate locks every listing in ids in primary key order so that
// concurrent checkouts over overlapping listings acquire locks consistently.
// Soft-deleted listings are omitted from the result.
func (r *repository) FindManyForUpdate(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Listing, error) {
	out := make(map[uuid.UUID]models.Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Listing
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	var images []models.ListingImage
	if err := r.db.WithContext(ctx).
		Where("listing_id IN ?", ids).
		Order("listing_id ASC").Order("position ASC").
		Find(&images).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	for _, img := range images {
		if listing, ok := out[img.ListingID]; ok {
			listing.Images = append(listing.Images, img)
			out[img.ListingID] = listing
		}
	}
	return out, nil
}

// Save persists scalar columns only; images go through ReplaceImages.
func (r *repository) Save(ctx context.Context, listing *models.Listing) error {
	return r.db.WithContext(ctx).
		Model(&models.Listing{ID: listing.ID}).
		Updates(map[string]any{
			"title":          listing.Title,
			"description":    listing.Description,
			"price_cents":    listing.PriceCents,
			"capacity":       listing.Capacity,
			"sale_starts_at": listing.SaleStartsAt,
			"sale_ends_at":   listing.SaleEndsAt,
			"updated_at":     listing.UpdatedAt,
		}).Error
}

func (r *repository) ReplaceImages(ctx context.Context, listingID uuid.UUID, images []models.ListingImage) error {
	conn := r.db.WithContext(ctx)
	if err := conn.Where("listing_id = ?", listingID).Delete(&models.ListingImage{}).Error; err != nil {
		return err
	}
	if len(images) == 0 {
		return nil
	}
	for i := range images {
		images[i].ListingID = listingID
	}
	return conn.Create(&images).Error
}

func (r *repository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Listing{}).Error
}

// DeleteCartItems drops every cart line referencing the listing.
func (r *repository) DeleteCartItems(ctx context.Context, listingID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Where("listing_id = ?", listingID).Delete(&models.CartItem{})
	return res.RowsAffected, res.Error
}

func (r *repository) List(ctx context.Context, params ListParams, cursor *pagination.Cursor, now time.Time) ([]models.Listing, error) {
	q := r.db.WithContext(ctx).Model(&models.Listing{}).Preload("Images", orderedImages)
	if params.OwnerID != nil {
		q = q.Where("owner_id = ?", *params.OwnerID)
	}
	if params.OnSaleNow {
		q = q.Where("((sale_starts_at IS NULL AND sale_ends_at IS NULL) OR (sale_starts_at <= ? AND sale_ends_at >= ?))", now, now)
	}
	var rows []models.Listing
	if err := q.Scopes(pagination.Newest(cursor, params.Limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Sales returns every order item ever created for the listing, oldest first.
func (r *repository) Sales(ctx context.Context, listingID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := r.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("created_at ASC").Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ListLimited pages through live listings that carry a capacity, ordered by
// id. Pass uuid.Nil to start from the beginning.
func (r *repository) ListLimited(ctx context.Context, afterID uuid.UUID, limit int) ([]models.Listing, error) {
	q := r.db.WithContext(ctx).Where("capacity IS NOT NULL")
	if afterID != uuid.Nil {
		q = q.Where("id > ?", afterID)
	}
	var rows []models.Listing
	if err := q.Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
