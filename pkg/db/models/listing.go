package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/pkg/money"
)

// Listing is a sellable item owned by a community member.
type Listing struct {
	ID           uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID      uuid.UUID      `gorm:"column:owner_id;type:uuid;not null;index"`
	Title        string         `gorm:"column:title;not null"`
	Description  string         `gorm:"column:description;not null;default:''"`
	PriceCents   money.Cents    `gorm:"column:price_cents;not null"`
	Capacity     *int           `gorm:"column:capacity"`
	SaleStartsAt *time.Time     `gorm:"column:sale_starts_at"`
	SaleEndsAt   *time.Time     `gorm:"column:sale_ends_at"`
	Images       []ListingImage `gorm:"foreignKey:ListingID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt    gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (l *Listing) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}

// PrimaryImage returns the lowest-positioned image, if any.
func (l Listing) PrimaryImage() *ListingImage {
	var primary *ListingImage
	for i := range l.Images {
		if primary == nil || l.Images[i].Position < primary.Position {
			primary = &l.Images[i]
		}
	}
	return primary
}
