// Package couriers holds the flat shipping rates charged per carrier service.
package couriers

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

var rates = map[enums.Courier]decimal.Decimal{
	enums.CourierDHL:             decimal.RequireFromString("25.00"),
	enums.CourierDHLPaczkomat:    decimal.RequireFromString("22.30"),
	enums.CourierInpost:          decimal.RequireFromString("17.10"),
	enums.CourierInpostPaczkomat: decimal.RequireFromString("15.90"),
	enums.CourierDPD:             decimal.RequireFromString("25.00"),
	enums.CourierDPDPaczkomat:    decimal.RequireFromString("12.50"),
	enums.CourierOrlen:           decimal.RequireFromString("12.29"),
}

// Rate returns the flat shipping cost for the courier service.
func Rate(c enums.Courier) (decimal.Decimal, error) {
	rate, ok := rates[c]
	if !ok {
		return decimal.Zero, fmt.Errorf("no rate configured for courier %q", c)
	}
	return rate, nil
}

// DeliveryTypeFor infers the delivery type implied by the courier service.
func DeliveryTypeFor(c enums.Courier) enums.DeliveryType {
	if c.IsPickupPoint() {
		return enums.DeliveryTypePaczkomat
	}
	return enums.DeliveryTypeCourier
}
