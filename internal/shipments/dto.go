package shipments

import (
	"strings"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
	"github.com/google/uuid"
)

// PickupPoint identifies a parcel locker chosen at checkout.
type PickupPoint struct {
	Code    string `json:"code"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
}

// CreateShipmentInput books a shipment. Destination falls back to the address
// stored on the order. ContactEmail authorizes guest orders.
type CreateShipmentInput struct {
	OrderID      uuid.UUID
	ContactEmail string
	Courier      enums.Courier
	PickupPoint  *PickupPoint
	Destination  *types.ShippingDestination
	Comment      string
}

// TrackingNumberInput is pushed by the logistics broker once a label exists.
type TrackingNumberInput struct {
	Number         string `json:"number" validate:"required"`
	CourierService string `json:"courierService"`
}

// TrackingInfo is the state block of a tracking event.
type TrackingInfo struct {
	State       string `json:"state"`
	Description string `json:"description"`
	Datetime    string `json:"datetime"`
	Branch      string `json:"branch"`
}

// TrackingEvent is the broker webhook body.
type TrackingEvent struct {
	PackageID      int64        `json:"package_id"`
	PackageNo      string       `json:"package_no"`
	PartnerOrderID string       `json:"partner_order_id"`
	Tracking       TrackingInfo `json:"tracking"`
	Control        string       `json:"control"`
}

// TrackingResult reports what a tracking event changed.
type TrackingResult struct {
	Duplicate bool
	Applied   bool
	Shipment  *models.Shipment
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
