package orders

import (
	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	"github.com/angelmondragon/commonsportal-backend/pkg/enums"
)

// Aggregate derives the status of a group of order items:
// CANCELLED when the group is empty or fully cancelled, COMPLETED when every
// non-cancelled item is completed, PENDING otherwise. It is recomputed on
// every read and never stored.
func Aggregate(items []models.OrderItem) enums.OrderStatus {
	active := 0
	for _, item := range items {
		switch item.Status {
		case enums.OrderItemStatusCancelled:
			continue
		case enums.OrderItemStatusCompleted:
			active++
		default:
			return enums.OrderStatusPending
		}
	}
	if active == 0 {
		return enums.OrderStatusCancelled
	}
	return enums.OrderStatusCompleted
}
