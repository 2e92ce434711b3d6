package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Shipment is the single parcel dispatched for an order.
type Shipment struct {
	ID                 uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID            uuid.UUID            `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	Courier            enums.Courier        `gorm:"column:courier;type:text;not null"`
	DeliveryType       enums.DeliveryType   `gorm:"column:delivery_type;type:text;not null"`
	PickupPointCode    *string              `gorm:"column:pickup_point_code"`
	PickupPointName    *string              `gorm:"column:pickup_point_name"`
	PickupPointAddress *string              `gorm:"column:pickup_point_address"`
	FullName           string               `gorm:"column:full_name;not null"`
	Email              string               `gorm:"column:email;not null"`
	Phone              string               `gorm:"column:phone;not null"`
	Street             string               `gorm:"column:street;not null"`
	City               string               `gorm:"column:city;not null"`
	PostalCode         string               `gorm:"column:postal_code;not null"`
	Country            string               `gorm:"column:country;not null"`
	Company            *string              `gorm:"column:company"`
	NIP                *string              `gorm:"column:nip"`
	Comment            *string              `gorm:"column:comment"`
	TrackingNumber     *string              `gorm:"column:tracking_number"`
	Status             enums.ShipmentStatus `gorm:"column:status;type:text;not null"`
	ShippedAt          *time.Time           `gorm:"column:shipped_at"`
	DeliveredAt        *time.Time           `gorm:"column:delivered_at"`
	Order              *Order               `gorm:"foreignKey:OrderID"`
	CreatedAt          time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Shipment) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// Destination rebuilds the recipient block stored on the shipment.
func (s *Shipment) Destination() types.ShippingDestination {
	dest := types.ShippingDestination{
		FullName:   s.FullName,
		Email:      s.Email,
		Phone:      s.Phone,
		Street:     s.Street,
		City:       s.City,
		PostalCode: s.PostalCode,
		Country:    s.Country,
	}
	if s.Company != nil {
		dest.Company = *s.Company
	}
	if s.NIP != nil {
		dest.NIP = *s.NIP
	}
	return dest
}
