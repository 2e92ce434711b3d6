package stripe

import (
	"errors"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

// VerifyEvent checks the Stripe-Signature header against the signing secret
// and decodes the event.
func (c *Client) VerifyEvent(payload []byte, signature string) (stripe.Event, error) {
	if c == nil || c.signingSecret == "" {
		return stripe.Event{}, errors.New("stripe signing secret not configured")
	}
	return webhook.ConstructEvent(payload, signature, c.signingSecret)
}
