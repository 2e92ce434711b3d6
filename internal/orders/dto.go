package orders

import (
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
	"github.com/google/uuid"
)

// Cancellation reasons recorded on the order.
const (
	CancelReasonCustomer      = "cancelled_by_customer"
	CancelReasonAdmin         = "cancelled_by_admin"
	CancelReasonExpired       = "expired"
	CancelReasonPaymentFailed = "payment_failed"
)

// CheckoutInput carries the optional overrides of a cart checkout. When
// ContactEmail is empty the actor's email is used.
type CheckoutInput struct {
	ContactEmail    string
	ShippingAddress *types.ShippingDestination
}

// LineInput is one submitted product line of a guest checkout.
type LineInput struct {
	ProductID uuid.UUID
	Quantity  int
}

// GuestCheckoutInput captures an anonymous purchase.
type GuestCheckoutInput struct {
	ContactEmail    string
	ShippingAddress types.ShippingDestination
	Items           []LineInput
}

// ListFilters narrows the order list. UserID is forced for non-privileged actors.
type ListFilters struct {
	UserID *uuid.UUID
	Status *enums.OrderStatus
}

// OrderList wraps a page of orders plus the next page cursor.
type OrderList struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
