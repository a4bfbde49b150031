package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	"github.com/angelmondragon/commonsportal-backend/pkg/enums"
)

// SnapshotDTO exposes the listing fields frozen at checkout.
type SnapshotDTO struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
	Price       string `json:"price"`
	ImageKey    string `json:"image_key,omitempty"`
	Thumbhash   string `json:"thumbhash,omitempty"`
}

type OrderItemDTO struct {
	ID             uuid.UUID             `json:"id"`
	ListingID      uuid.UUID             `json:"listing_id"`
	SellerID       uuid.UUID             `json:"seller_id"`
	Quantity       int                   `json:"quantity"`
	UnitPriceCents int64                 `json:"unit_price_cents"`
	SubtotalCents  int64                 `json:"subtotal_cents"`
	Status         enums.OrderItemStatus `json:"status"`
	CompletedAt    *time.Time            `json:"completed_at,omitempty"`
	CancelledAt    *time.Time            `json:"cancelled_at,omitempty"`
	Snapshot       *SnapshotDTO          `json:"snapshot,omitempty"`
}

// OrderDetail is an order with its items and derived status.
type OrderDetail struct {
	ID            uuid.UUID         `json:"id"`
	BuyerID       uuid.UUID         `json:"buyer_id"`
	Status        enums.OrderStatus `json:"status"`
	SubtotalCents int64             `json:"subtotal_cents"`
	TotalCents    int64             `json:"total_cents"`
	Total         string            `json:"total"`
	CreatedAt     time.Time         `json:"created_at"`
	Items         []OrderItemDTO    `json:"items"`
}

// OrderSummary is one row of the buyer order list.
type OrderSummary struct {
	ID         uuid.UUID         `json:"id"`
	Status     enums.OrderStatus `json:"status"`
	TotalCents int64             `json:"total_cents"`
	Total      string            `json:"total"`
	ItemCount  int               `json:"item_count"`
	CreatedAt  time.Time         `json:"created_at"`
}

// DetailFromModel maps an order whose items (and optionally snapshots) are loaded.
func DetailFromModel(order models.Order) OrderDetail {
	detail := OrderDetail{
		ID:            order.ID,
		BuyerID:       order.BuyerID,
		Status:        Aggregate(order.Items),
		SubtotalCents: int64(order.SubtotalCents),
		TotalCents:    int64(order.TotalCents),
		Total:         order.TotalCents.String(),
		CreatedAt:     order.CreatedAt,
		Items:         make([]OrderItemDTO, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		detail.Items = append(detail.Items, itemFromModel(item))
	}
	return detail
}

func itemFromModel(item models.OrderItem) OrderItemDTO {
	dto := OrderItemDTO{
		ID:             item.ID,
		ListingID:      item.ListingID,
		SellerID:       item.SellerID,
		Quantity:       item.Quantity,
		UnitPriceCents: int64(item.UnitPriceCents),
		SubtotalCents:  int64(item.SubtotalCents),
		Status:         item.Status,
		CompletedAt:    item.CompletedAt,
		CancelledAt:    item.CancelledAt,
	}
	if snap := item.Snapshot; snap != nil {
		dto.Snapshot = &SnapshotDTO{
			Title:       snap.Title,
			Description: snap.Description,
			PriceCents:  int64(snap.PriceCents),
			Price:       snap.PriceCents.String(),
			ImageKey:    snap.ImageKey,
			Thumbhash:   snap.Thumbhash,
		}
	}
	return dto
}

func summaryFromModel(order models.Order) OrderSummary {
	count := 0
	for _, item := range order.Items {
		count += item.Quantity
	}
	return OrderSummary{
		ID:         order.ID,
		Status:     Aggregate(order.Items),
		TotalCents: int64(order.TotalCents),
		Total:      order.TotalCents.String(),
		ItemCount:  count,
		CreatedAt:  order.CreatedAt,
	}
}
