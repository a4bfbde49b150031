package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ListingImage references an uploaded image by key; position 0 is primary.
type ListingImage struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ListingID uuid.UUID `gorm:"column:listing_id;type:uuid;not null;uniqueIndex:idx_listing_images_listing_position"`
	Position  int       `gorm:"column:position;not null;uniqueIndex:idx_listing_images_listing_position"`
	ImageKey  string    `gorm:"column:image_key;not null"`
	Thumbhash string    `gorm:"column:thumbhash;not null;default:''"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (i *ListingImage) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
