package shipments

import (
	shipmentdto "github.com/angelmondragon/storefront-backend/api/controllers/shipments/dto"
	internalshipments "github.com/angelmondragon/storefront-backend/internal/shipments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// NewShipment maps a stored shipment to its API view.
func NewShipment(shipment *models.Shipment) shipmentdto.Shipment {
	view := shipmentdto.Shipment{
		ID:             shipment.ID,
		OrderID:        shipment.OrderID,
		Courier:        shipment.Courier,
		DeliveryType:   shipment.DeliveryType,
		Status:         shipment.Status,
		Destination:    shipment.Destination(),
		Comment:        shipment.Comment,
		TrackingNumber: shipment.TrackingNumber,
		ShippedAt:      shipment.ShippedAt,
		DeliveredAt:    shipment.DeliveredAt,
		CreatedAt:      shipment.CreatedAt,
	}
	if shipment.PickupPointCode != nil {
		point := &internalshipments.PickupPoint{Code: *shipment.PickupPointCode}
		if shipment.PickupPointName != nil {
			point.Name = *shipment.PickupPointName
		}
		if shipment.PickupPointAddress != nil {
			point.Address = *shipment.PickupPointAddress
		}
		view.PickupPoint = point
	}
	return view
}
