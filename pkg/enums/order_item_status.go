package enums

import "fmt"

// OrderItemStatus tracks the lifecycle of a single purchased line.
type OrderItemStatus string

const (
	OrderItemStatusPending   OrderItemStatus = "pending"
	OrderItemStatusCompleted OrderItemStatus = "completed"
	OrderItemStatusCancelled OrderItemStatus = "cancelled"
)

var validOrderItemStatuses = []OrderItemStatus{
	OrderItemStatusPending,
	OrderItemStatusCompleted,
	OrderItemStatusCancelled,
}

func (s OrderItemStatus) String() string {
	return string(s)
}

func (s OrderItemStatus) IsValid() bool {
	for _, candidate := range validOrderItemStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s OrderItemStatus) IsTerminal() bool {
	return s == OrderItemStatusCompleted || s == OrderItemStatusCancelled
}

func ParseOrderItemStatus(value string) (OrderItemStatus, error) {
	for _, candidate := range validOrderItemStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order item status %q", value)
}
