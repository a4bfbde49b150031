package listings

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	"github.com/angelmondragon/commonsportal-backend/pkg/enums"
	"github.com/angelmondragon/commonsportal-backend/pkg/money"
)

// ImageInput references an image already stored by the media collaborator.
type ImageInput struct {
	ImageKey  string
	Thumbhash string
}

// CreateInput carries a new listing. Nil Capacity means unlimited; a nil
// SaleStartsAt/SaleEndsAt pair means always on sale.
type CreateInput struct {
	Title        string
	Description  string
	Price        money.Cents
	Capacity     *int
	SaleStartsAt *time.Time
	SaleEndsAt   *time.Time
	Images       []ImageInput
}

// UpdateInput is a partial patch. Window and capacity changes are explicit
// so that clearing them can be told apart from leaving them alone.
type UpdateInput struct {
	Title       *string
	Description *string
	Price       *money.Cents

	CapacitySet bool
	Capacity    *int

	WindowSet    bool
	SaleStartsAt *time.Time
	SaleEndsAt   *time.Time

	// Images replaces the whole image list when non-nil.
	Images []ImageInput
}

// ListParams filters the public listing feed.
type ListParams struct {
	Limit     int
	Cursor    string
	OwnerID   *uuid.UUID
	OnSaleNow bool
}

type ImageDTO struct {
	Position  int    `json:"position"`
	ImageKey  string `json:"image_key"`
	Thumbhash string `json:"thumbhash"`
}

// ListingDTO is the read model returned to API callers.
type ListingDTO struct {
	ID           uuid.UUID  `json:"id"`
	OwnerID      uuid.UUID  `json:"owner_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	PriceCents   int64      `json:"price_cents"`
	Price        string     `json:"price"`
	Capacity     *int       `json:"capacity"`
	Remaining    *int       `json:"remaining"`
	SaleStartsAt *time.Time `json:"sale_starts_at,omitempty"`
	SaleEndsAt   *time.Time `json:"sale_ends_at,omitempty"`
	Images       []ImageDTO `json:"images"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SaleDTO is one order item of a listing as seen by its owner.
type SaleDTO struct {
	OrderItemID    uuid.UUID             `json:"order_item_id"`
	OrderID        uuid.UUID             `json:"order_id"`
	Quantity       int                   `json:"quantity"`
	UnitPriceCents int64                 `json:"unit_price_cents"`
	SubtotalCents  int64                 `json:"subtotal_cents"`
	Status         enums.OrderItemStatus `json:"status"`
	CompletedAt    *time.Time            `json:"completed_at,omitempty"`
	CancelledAt    *time.Time            `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// SalesDTO summarises everything sold from one listing.
type SalesDTO struct {
	ListingID    uuid.UUID         `json:"listing_id"`
	Status       enums.OrderStatus `json:"status"`
	QuantitySold int               `json:"quantity_sold"`
	RevenueCents int64             `json:"revenue_cents"`
	Items        []SaleDTO         `json:"items"`
}

// FromModel maps a listing row; remaining is nil for unlimited listings.
func FromModel(l models.Listing, remaining *int) ListingDTO {
	dto := ListingDTO{
		ID:           l.ID,
		OwnerID:      l.OwnerID,
		Title:        l.Title,
		Description:  l.Description,
		PriceCents:   int64(l.PriceCents),
		Price:        l.PriceCents.String(),
		Capacity:     l.Capacity,
		Remaining:    remaining,
		SaleStartsAt: l.SaleStartsAt,
		SaleEndsAt:   l.SaleEndsAt,
		Images:       make([]ImageDTO, 0, len(l.Images)),
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
	}
	for _, img := range l.Images {
		dto.Images = append(dto.Images, ImageDTO{
			Position:  img.Position,
			ImageKey:  img.ImageKey,
			Thumbhash: img.Thumbhash,
		})
	}
	return dto
}

func saleFromModel(item models.OrderItem) SaleDTO {
	return SaleDTO{
		OrderItemID:    item.ID,
		OrderID:        item.OrderID,
		Quantity:       item.Quantity,
		UnitPriceCents: int64(item.UnitPriceCents),
		SubtotalCents:  int64(item.SubtotalCents),
		Status:         item.Status,
		CompletedAt:    item.CompletedAt,
		CancelledAt:    item.CancelledAt,
		CreatedAt:      item.CreatedAt,
	}
}
