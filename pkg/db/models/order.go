package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Order is the aggregate root of a purchase. UserID is nil for guest orders.
type Order struct {
	ID              uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	UserID          *uuid.UUID                 `gorm:"column:user_id;type:uuid"`
	ContactEmail    string                     `gorm:"column:contact_email;not null"`
	Status          enums.OrderStatus          `gorm:"column:status;type:text;not null"`
	TotalAmount     decimal.Decimal            `gorm:"column:total_amount;type:numeric(10,2);not null"`
	ShippingCost    decimal.Decimal            `gorm:"column:shipping_cost;type:numeric(10,2);not null"`
	Currency        enums.Currency             `gorm:"column:currency;type:text;not null"`
	ShippingAddress *types.ShippingDestination `gorm:"column:shipping_address;type:jsonb"`
	CancelReason    *string                    `gorm:"column:cancel_reason"`
	PaidAt          *time.Time                 `gorm:"column:paid_at"`
	CancelledAt     *time.Time                 `gorm:"column:cancelled_at"`
	CompletedAt     *time.Time                 `gorm:"column:completed_at"`
	Items           []OrderItem                `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payment         *Payment                   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Shipment        *Shipment                  `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// IsOwnedBy reports whether the order belongs to the given user.
func (o *Order) IsOwnedBy(userID uuid.UUID) bool {
	return o.UserID != nil && *o.UserID == userID
}

// ItemsTotal sums the snapshot line totals, excluding shipping.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// OrderItem snapshots a product line at checkout time.
type OrderItem struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID       `gorm:"column:order_id;type:uuid;not null"`
	ProductID uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	Name      string          `gorm:"column:name;not null"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(10,2);not null"`
	Quantity  int             `gorm:"column:quantity;not null"`
	WeightG   int             `gorm:"column:weight_g;not null"`
	Position  int             `gorm:"column:position;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

// LineTotal returns Price × Quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
