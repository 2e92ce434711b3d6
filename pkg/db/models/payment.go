package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Payment tracks the provider checkout session opened for an order.
type Payment struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID            `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	Provider          enums.Provider       `gorm:"column:provider;type:text;not null"`
	PaymentMethod     *enums.PaymentMethod `gorm:"column:payment_method;type:text"`
	ProviderPaymentID string               `gorm:"column:provider_payment_id;not null;uniqueIndex"`
	Status            enums.PaymentStatus  `gorm:"column:status;type:text;not null"`
	Amount            decimal.Decimal      `gorm:"column:amount;type:numeric(10,2);not null"`
	Currency          enums.Currency       `gorm:"column:currency;type:text;not null"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
