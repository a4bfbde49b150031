// Package payloads holds the JSON bodies carried inside outbox envelopes.
package payloads

import (
	"time"

	"github.com/google/uuid"
)

// OrderCreatedEvent is emitted once per successful checkout.
type OrderCreatedEvent struct {
	OrderID    uuid.UUID          `json:"order_id"`
	BuyerID    uuid.UUID          `json:"buyer_id"`
	TotalCents int64              `json:"total_cents"`
	Items      []OrderCreatedItem `json:"items"`
}

type OrderCreatedItem struct {
	OrderItemID uuid.UUID `json:"order_item_id"`
	ListingID   uuid.UUID `json:"listing_id"`
	SellerID    uuid.UUID `json:"seller_id"`
	Quantity    int       `json:"quantity"`
}

// OrderItemTransitionEvent covers both completion and cancellation.
type OrderItemTransitionEvent struct {
	OrderItemID uuid.UUID `json:"order_item_id"`
	OrderID     uuid.UUID `json:"order_id"`
	ListingID   uuid.UUID `json:"listing_id"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	SellerID    uuid.UUID `json:"seller_id"`
	Quantity    int       `json:"quantity"`
	Status      string    `json:"status"`
	OrderStatus string    `json:"order_status"`
	At          time.Time `json:"at"`
}

// ListingDeletedEvent lets downstream consumers drop cached listing data.
type ListingDeletedEvent struct {
	ListingID uuid.UUID `json:"listing_id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	DeletedAt time.Time `json:"deleted_at"`
}
