package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/pkg/money"
)

// Order is created once by checkout; only its items' statuses change later.
type Order struct {
	ID            uuid.UUID   `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID       uuid.UUID   `gorm:"column:buyer_id;type:uuid;not null;index"`
	SubtotalCents money.Cents `gorm:"column:subtotal_cents;not null"`
	TotalCents    money.Cents `gorm:"column:total_cents;not null"`
	Items         []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time   `gorm:"column:created_at;autoCreateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}
