package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/shipments"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// CreateShipmentRequest books the parcel for a paid order. Destination falls
// back to the order's shipping address.
type CreateShipmentRequest struct {
	Courier     enums.Courier              `json:"courier" validate:"required,courier"`
	PickupPoint *shipments.PickupPoint     `json:"pickup_point"`
	Destination *types.ShippingDestination `json:"destination"`
	Comment     string                     `json:"comment" validate:"max=500"`
}

// GuestCreateShipmentRequest adds the contact email that proves ownership of
// a guest order.
type GuestCreateShipmentRequest struct {
	CreateShipmentRequest
	ContactEmail string `json:"contact_email" validate:"required,email"`
}

type Shipment struct {
	ID             uuid.UUID                 `json:"id"`
	OrderID        uuid.UUID                 `json:"order_id"`
	Courier        enums.Courier             `json:"courier"`
	DeliveryType   enums.DeliveryType        `json:"delivery_type"`
	Status         enums.ShipmentStatus      `json:"status"`
	PickupPoint    *shipments.PickupPoint    `json:"pickup_point,omitempty"`
	Destination    types.ShippingDestination `json:"destination"`
	Comment        *string                   `json:"comment,omitempty"`
	TrackingNumber *string                   `json:"tracking_number,omitempty"`
	ShippedAt      *time.Time                `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time                `json:"delivered_at,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
}
