package shipments

import (
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	feedVATRate          = 23
	feedShippingMethodID = 12
)

var netFactor = decimal.RequireFromString("0.73")

// FeedAddress is an address block in the broker's order schema.
type FeedAddress struct {
	Company     *string `json:"company"`
	Name        string  `json:"name"`
	Surname     string  `json:"surname"`
	Street      string  `json:"street"`
	City        string  `json:"city"`
	Postcode    string  `json:"postcode"`
	CountryCode string  `json:"countryCode"`
	Phone       string  `json:"phone"`
	Email       string  `json:"email"`
	NIP         *string `json:"nip,omitempty"`
}

// FeedProduct is one order line in the broker's schema.
type FeedProduct struct {
	SourceProductID uuid.UUID       `json:"sourceProductId"`
	Name            string          `json:"name"`
	PriceGross      decimal.Decimal `json:"priceGross"`
	PriceNet        decimal.Decimal `json:"priceNet"`
	VAT             int             `json:"vat"`
	TaxRate         int             `json:"taxRate"`
	Weight          decimal.Decimal `json:"weight"`
	Quantity        int             `json:"quantity"`
}

// FeedOrder is a paid shipment as the broker pulls it.
type FeedOrder struct {
	SourceOrderID        uuid.UUID       `json:"sourceOrderId"`
	SourceClientID       *uuid.UUID      `json:"sourceClientId"`
	DatetimeOrder        time.Time       `json:"datetimeOrder"`
	SourceDatetimeChange time.Time       `json:"sourceDatetimeChange"`
	Service              string          `json:"service"`
	ServiceDescription   string          `json:"serviceDescription"`
	Status               string          `json:"status"`
	TotalPrice           decimal.Decimal `json:"totalPrice"`
	ShippingCost         decimal.Decimal `json:"shippingCost"`
	ShippingMethodID     int             `json:"shippingMethodId"`
	ShippingTaxRate      int             `json:"shippingTaxRate"`
	TotalPaid            decimal.Decimal `json:"totalPaid"`
	CODAmount            decimal.Decimal `json:"codAmount"`
	Point                *string         `json:"point"`
	Comment              *string         `json:"comment"`
	ShippingAddress      FeedAddress     `json:"shippingAddress"`
	InvoiceAddress       FeedAddress     `json:"invoiceAddress"`
	Products             []FeedProduct   `json:"products"`
	PaymentDatetime      *time.Time      `json:"paymentDatetime"`
}

func toFeedOrder(shipment models.Shipment) FeedOrder {
	order := shipment.Order
	dest := shipment.Destination()
	name, surname := dest.SplitName()

	address := FeedAddress{
		Company:     shipment.Company,
		Name:        name,
		Surname:     surname,
		Street:      dest.Street,
		City:        dest.City,
		Postcode:    dest.PostalCode,
		CountryCode: dest.CountryCode(),
		Phone:       dest.Phone,
		Email:       dest.Email,
	}
	invoice := address
	invoice.NIP = shipment.NIP

	products := make([]FeedProduct, 0, len(order.Items))
	for _, item := range order.Items {
		products = append(products, FeedProduct{
			SourceProductID: item.ProductID,
			Name:            item.Name,
			PriceGross:      item.Price,
			PriceNet:        item.Price.Mul(netFactor).Round(2),
			VAT:             feedVATRate,
			TaxRate:         feedVATRate,
			Weight:          decimal.NewFromInt(int64(item.WeightG)).Div(decimal.NewFromInt(1000)),
			Quantity:        item.Quantity,
		})
	}

	return FeedOrder{
		SourceOrderID:        order.ID,
		SourceClientID:       order.UserID,
		DatetimeOrder:        order.CreatedAt,
		SourceDatetimeChange: order.UpdatedAt,
		Service:              shipment.Courier.String(),
		ServiceDescription:   "Kurier " + shipment.Courier.String(),
		Status:               order.Status.String(),
		TotalPrice:           order.TotalAmount,
		ShippingCost:         order.ShippingCost,
		ShippingMethodID:     feedShippingMethodID,
		ShippingTaxRate:      feedVATRate,
		TotalPaid:            order.TotalAmount,
		CODAmount:            decimal.Zero,
		Point:                shipment.PickupPointCode,
		Comment:              shipment.Comment,
		ShippingAddress:      address,
		InvoiceAddress:       invoice,
		Products:             products,
		PaymentDatetime:      order.PaidAt,
	}
}
