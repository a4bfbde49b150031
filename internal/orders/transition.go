package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	"github.com/angelmondragon/commonsportal-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/commonsportal-backend/pkg/errors"
	"github.com/angelmondragon/commonsportal-backend/pkg/outbox"
	"github.com/angelmondragon/commonsportal-backend/pkg/outbox/payloads"
)

// Actor roles recorded on lifecycle events.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
)

// Transition is the outcome of a lifecycle change: the order with the item
// updated in place, the changed item, and the events to queue.
type Transition struct {
	Order  models.Order
	Item   models.OrderItem
	Events []outbox.DomainEvent
}

// Complete marks a pending item completed. Only the item's seller may do so.
func Complete(order models.Order, itemID, actorID uuid.UUID, now time.Time) (Transition, error) {
	idx, err := findItem(order, itemID)
	if err != nil {
		return Transition{}, err
	}
	item := order.Items[idx]
	if actorID != item.SellerID {
		return Transition{}, pkgerrors.New(pkgerrors.CodeForbidden, "only the seller may complete this item")
	}
	if err := requirePending(item); err != nil {
		return Transition{}, err
	}

	item.Status = enums.OrderItemStatusCompleted
	item.CompletedAt = &now
	return apply(order, idx, item, actorID, RoleSeller, enums.EventOrderItemCompleted, now), nil
}

// Cancel marks a pending item cancelled, releasing its quantity. The buyer or
// the item's seller may cancel.
func Cancel(order models.Order, itemID, actorID uuid.UUID, now time.Time) (Transition, error) {
	idx, err := findItem(order, itemID)
	if err != nil {
		return Transition{}, err
	}
	item := order.Items[idx]

	var role string
	switch actorID {
	case order.BuyerID:
		role = RoleBuyer
	case item.SellerID:
		role = RoleSeller
	default:
		return Transition{}, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer or seller may cancel this item")
	}
	if err := requirePending(item); err != nil {
		return Transition{}, err
	}

	item.Status = enums.OrderItemStatusCancelled
	item.CancelledAt = &now
	return apply(order, idx, item, actorID, role, enums.EventOrderItemCancelled, now), nil
}

func findItem(order models.Order, itemID uuid.UUID) (int, error) {
	for i := range order.Items {
		if order.Items[i].ID == itemID {
			return i, nil
		}
	}
	return -1, pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
}

func requirePending(item models.OrderItem) error {
	if item.Status.IsTerminal() {
		return pkgerrors.Newf(pkgerrors.CodeInvalidState, "order item is already %s", item.Status).
			WithDetails(map[string]any{"status": item.Status})
	}
	return nil
}

func apply(order models.Order, idx int, item models.OrderItem, actorID uuid.UUID, role string, eventType enums.OutboxEventType, now time.Time) Transition {
	items := make([]models.OrderItem, len(order.Items))
	copy(items, order.Items)
	items[idx] = item
	order.Items = items

	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrderItem,
		AggregateID:   item.ID,
		Actor:         &outbox.ActorRef{UserID: actorID, Role: role},
		OccurredAt:    now,
		Data: payloads.OrderItemTransitionEvent{
			OrderItemID: item.ID,
			OrderID:     order.ID,
			ListingID:   item.ListingID,
			BuyerID:     order.BuyerID,
			SellerID:    item.SellerID,
			Quantity:    item.Quantity,
			Status:      item.Status.String(),
			OrderStatus: Aggregate(items).String(),
			At:          now,
		},
	}
	return Transition{Order: order, Item: item, Events: []outbox.DomainEvent{event}}
}
