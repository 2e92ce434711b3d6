package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// OrderCreatedEvent is emitted when checkout persists a pending order.
type OrderCreatedEvent struct {
	OrderID      uuid.UUID       `json:"order_id"`
	UserID       *uuid.UUID      `json:"user_id,omitempty"`
	ContactEmail string          `json:"contact_email"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Currency     enums.Currency  `json:"currency"`
	ItemCount    int             `json:"item_count"`
	Guest        bool            `json:"guest"`
}

// OrderPaidEvent is emitted when a payment confirmation moves the order to paid.
type OrderPaidEvent struct {
	OrderID           uuid.UUID       `json:"order_id"`
	PaymentID         uuid.UUID       `json:"payment_id"`
	ProviderPaymentID string          `json:"provider_payment_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          enums.Currency  `json:"currency"`
	PaidAt            time.Time       `json:"paid_at"`
}

// OrderCancelledEvent is emitted by every cancellation path, including expiry.
type OrderCancelledEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	PreviousStatus enums.OrderStatus `json:"previous_status"`
	Reason         string            `json:"reason"`
	CancelledAt    time.Time         `json:"cancelled_at"`
}

// OrderStatusChangedEvent covers admin and webhook driven transitions.
type OrderStatusChangedEvent struct {
	OrderID uuid.UUID         `json:"order_id"`
	From    enums.OrderStatus `json:"from"`
	To      enums.OrderStatus `json:"to"`
}

// OrderCompletedEvent is emitted once delivery is confirmed.
type OrderCompletedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	ShipmentID  uuid.UUID `json:"shipment_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// ShipmentCreatedEvent is emitted when a shipment is booked for an order.
type ShipmentCreatedEvent struct {
	OrderID      uuid.UUID       `json:"order_id"`
	ShipmentID   uuid.UUID       `json:"shipment_id"`
	Courier      enums.Courier   `json:"courier"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
}
