package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/pkg/enums"
	"github.com/angelmondragon/commonsportal-backend/pkg/money"
)

// OrderItem is one purchased line. SellerID is copied from the listing owner
// at checkout so authorization survives listing deletion.
type OrderItem struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	ListingID      uuid.UUID             `gorm:"column:listing_id;type:uuid;not null;index"`
	SellerID       uuid.UUID             `gorm:"column:seller_id;type:uuid;not null;index"`
	SnapshotID     uuid.UUID             `gorm:"column:snapshot_id;type:uuid;not null"`
	Quantity       int                   `gorm:"column:quantity;not null"`
	UnitPriceCents money.Cents           `gorm:"column:unit_price_cents;not null"`
	SubtotalCents  money.Cents           `gorm:"column:subtotal_cents;not null"`
	Status         enums.OrderItemStatus `gorm:"column:status;type:order_item_status;not null;default:'pending'"`
	CompletedAt    *time.Time            `gorm:"column:completed_at"`
	CancelledAt    *time.Time            `gorm:"column:cancelled_at"`
	Snapshot       *OrderItemSnapshot    `gorm:"foreignKey:SnapshotID"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
