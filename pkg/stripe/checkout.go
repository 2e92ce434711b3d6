package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// MetadataOrderID is the session metadata key carrying the order id.
const MetadataOrderID = "order_id"

type sessionCreator func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

// CheckoutLine is one priced row on the hosted checkout page.
type CheckoutLine struct {
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int64
}

// CheckoutRequest describes the session opened for an order.
type CheckoutRequest struct {
	OrderID       uuid.UUID
	Currency      enums.Currency
	CustomerEmail string
	Lines         []CheckoutLine
}

// CheckoutSession is the subset of the provider session the storefront keeps.
type CheckoutSession struct {
	ID  string
	URL string
}

// MinorUnits converts a decimal amount into the provider's integer minor units.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// CreateCheckoutSession opens a hosted payment-mode session for the order.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if c == nil || c.newSession == nil {
		return CheckoutSession{}, errors.New("stripe client not initialized")
	}
	params, err := c.sessionParams(req)
	if err != nil {
		return CheckoutSession{}, err
	}
	params.Context = ctx

	created, err := c.newSession(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	return CheckoutSession{ID: created.ID, URL: created.URL}, nil
}

func (c *Client) sessionParams(req CheckoutRequest) (*stripe.CheckoutSessionParams, error) {
	if req.OrderID == uuid.Nil {
		return nil, errors.New("order id is required")
	}
	if len(req.Lines) == 0 {
		return nil, errors.New("at least one checkout line is required")
	}
	currency := req.Currency.Lower()

	lines := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Lines))
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("line %q has non-positive quantity", line.Name)
		}
		lines = append(lines, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(line.Name),
				},
				UnitAmount: stripe.Int64(MinorUnits(line.UnitPrice)),
			},
			Quantity: stripe.Int64(line.Quantity),
		})
	}

	orderID := req.OrderID.String()
	params := &stripe.CheckoutSessionParams{
		LineItems:         lines,
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(c.successURL),
		CancelURL:         stripe.String(c.cancelURL),
		ClientReferenceID: stripe.String(orderID),
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.AddMetadata(MetadataOrderID, orderID)
	return params, nil
}
