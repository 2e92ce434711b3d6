package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// CheckoutRequest converts the caller's cart into an order. Both fields are
// optional; the token email is the default contact.
type CheckoutRequest struct {
	ContactEmail    string                     `json:"contact_email" validate:"omitempty,email"`
	ShippingAddress *types.ShippingDestination `json:"shipping_address"`
}

// GuestCheckoutRequest is an anonymous purchase of explicit lines.
type GuestCheckoutRequest struct {
	ContactEmail    string                    `json:"contact_email" validate:"required,email"`
	ShippingAddress types.ShippingDestination `json:"shipping_address"`
	Items           []GuestLine               `json:"items" validate:"required,min=1,dive"`
}

type GuestLine struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"gt=0"`
}

// StatusRequest is the admin status override body.
type StatusRequest struct {
	Status enums.OrderStatus `json:"status" validate:"required,order_status"`
}

type Order struct {
	ID              uuid.UUID                  `json:"id"`
	UserID          *uuid.UUID                 `json:"user_id,omitempty"`
	ContactEmail    string                     `json:"contact_email"`
	Status          enums.OrderStatus          `json:"status"`
	Currency        enums.Currency             `json:"currency"`
	ItemsTotal      decimal.Decimal            `json:"items_total"`
	ShippingCost    decimal.Decimal            `json:"shipping_cost"`
	TotalAmount     decimal.Decimal            `json:"total_amount"`
	ShippingAddress *types.ShippingDestination `json:"shipping_address,omitempty"`
	CancelReason    *string                    `json:"cancel_reason,omitempty"`
	Items           []OrderItem                `json:"items"`
	Payment         *Payment                   `json:"payment,omitempty"`
	Shipment        *Shipment                  `json:"shipment,omitempty"`
	PaidAt          *time.Time                 `json:"paid_at,omitempty"`
	CancelledAt     *time.Time                 `json:"cancelled_at,omitempty"`
	CompletedAt     *time.Time                 `json:"completed_at,omitempty"`
	CreatedAt       time.Time                  `json:"created_at"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}

type OrderItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type Payment struct {
	ID            uuid.UUID            `json:"id"`
	Provider      enums.Provider       `json:"provider"`
	Status        enums.PaymentStatus  `json:"status"`
	PaymentMethod *enums.PaymentMethod `json:"payment_method,omitempty"`
	Amount        decimal.Decimal      `json:"amount"`
}

type Shipment struct {
	ID             uuid.UUID            `json:"id"`
	Courier        enums.Courier        `json:"courier"`
	DeliveryType   enums.DeliveryType   `json:"delivery_type"`
	Status         enums.ShipmentStatus `json:"status"`
	TrackingNumber *string              `json:"tracking_number,omitempty"`
	ShippedAt      *time.Time           `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time           `json:"delivered_at,omitempty"`
}

type OrderList struct {
	Orders     []Order `json:"orders"`
	NextCursor string  `json:"next_cursor,omitempty"`
}
