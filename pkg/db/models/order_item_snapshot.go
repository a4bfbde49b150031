package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/pkg/money"
)

// ErrSnapshotImmutable is returned by any attempt to modify a snapshot row.
var ErrSnapshotImmutable = errors.New("order item snapshots are immutable")

// OrderItemSnapshot freezes the listing fields a buyer saw at checkout.
type OrderItemSnapshot struct {
	ID          uuid.UUID   `gorm:"column:id;type:uuid;primaryKey"`
	ListingID   uuid.UUID   `gorm:"column:listing_id;type:uuid;not null;index"`
	Title       string      `gorm:"column:title;not null"`
	Description string      `gorm:"column:description;not null;default:''"`
	PriceCents  money.Cents `gorm:"column:price_cents;not null"`
	ImageKey    string      `gorm:"column:image_key;not null;default:''"`
	Thumbhash   string      `gorm:"column:thumbhash;not null;default:''"`
	CreatedAt   time.Time   `gorm:"column:created_at;autoCreateTime"`
}

func (s *OrderItemSnapshot) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

func (s *OrderItemSnapshot) BeforeUpdate(*gorm.DB) error {
	return ErrSnapshotImmutable
}

func (s *OrderItemSnapshot) BeforeDelete(*gorm.DB) error {
	return ErrSnapshotImmutable
}

// SnapshotOf copies the listing's current display fields.
func SnapshotOf(l Listing) OrderItemSnapshot {
	snap := OrderItemSnapshot{
		ListingID:   l.ID,
		Title:       l.Title,
		Description: l.Description,
		PriceCents:  l.PriceCents,
	}
	if img := l.PrimaryImage(); img != nil {
		snap.ImageKey = img.ImageKey
		snap.Thumbhash = img.Thumbhash
	}
	return snap
}
