package enums

import "fmt"

// OutboxAggregateType maps to the outbox_aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder     OutboxAggregateType = "order"
	AggregateOrderItem OutboxAggregateType = "order_item"
	AggregateListing   OutboxAggregateType = "listing"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateOrderItem,
	AggregateListing,
}

func (a OutboxAggregateType) String() string { return string(a) }

// IsValid reports whether the value matches the canonical aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the outbox_event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated       OutboxEventType = "order_created"
	EventOrderItemCompleted OutboxEventType = "order_item_completed"
	EventOrderItemCancelled OutboxEventType = "order_item_cancelled"
	EventListingDeleted     OutboxEventType = "listing_deleted"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderItemCompleted,
	EventOrderItemCancelled,
	EventListingDeleted,
}

func (e OutboxEventType) String() string { return string(e) }

func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
