package orders

import "github.com/angelmondragon/storefront-backend/pkg/enums"

// transitions is the sealed lifecycle table. Edges into cancelled exist only
// for the cancel path; the generic transition refuses them.
var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending: {enums.OrderStatusPaid, enums.OrderStatusCancelled},
	enums.OrderStatusPaid:    {enums.OrderStatusShipped, enums.OrderStatusCompleted, enums.OrderStatusCancelled},
	enums.OrderStatusShipped: {enums.OrderStatusCompleted},
}

// CanTransition reports whether from → to is an edge of the lifecycle.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// cancellableStatuses returns the statuses the actor may cancel from.
func cancellableStatuses(actor Actor) []enums.OrderStatus {
	if actor.IsPrivileged() {
		return []enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusPaid}
	}
	return []enums.OrderStatus{enums.OrderStatusPending}
}

func containsStatus(list []enums.OrderStatus, status enums.OrderStatus) bool {
	for _, candidate := range list {
		if candidate == status {
			return true
		}
	}
	return false
}
