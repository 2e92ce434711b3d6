package payments

import (
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/storefront-backend/internal/webhooks"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgstripe "github.com/angelmondragon/storefront-backend/pkg/stripe"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
)

// FromStripeEvent adapts a verified Stripe event into a webhook delivery. The
// raw body is stored verbatim.
func FromStripeEvent(event stripe.Event, raw []byte) webhooks.Event {
	return webhooks.Event{
		Provider:  enums.ProviderStripe,
		EventID:   event.ID,
		EventType: string(event.Type),
		Payload:   json.RawMessage(raw),
	}
}

// checkoutSession is the part of a checkout.session.* object the reconciler reads.
type checkoutSession struct {
	ID                 string            `json:"id"`
	PaymentStatus      string            `json:"payment_status"`
	ClientReferenceID  string            `json:"client_reference_id"`
	Metadata           map[string]string `json:"metadata"`
	PaymentMethodTypes []string          `json:"payment_method_types"`
}

func decodeCheckoutSession(payload []byte) (checkoutSession, error) {
	var envelope struct {
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return checkoutSession{}, fmt.Errorf("decode event: %w", err)
	}
	if len(envelope.Data.Object) == 0 {
		return checkoutSession{}, fmt.Errorf("event has no data object")
	}
	var session checkoutSession
	if err := json.Unmarshal(envelope.Data.Object, &session); err != nil {
		return checkoutSession{}, fmt.Errorf("decode checkout session: %w", err)
	}
	if session.ID == "" {
		return checkoutSession{}, fmt.Errorf("checkout session id missing")
	}
	return session, nil
}

func (s checkoutSession) unpaid() bool {
	return s.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusUnpaid)
}

// orderID prefers the metadata set at session creation over client_reference_id.
func (s checkoutSession) orderID() (uuid.UUID, bool) {
	for _, raw := range []string{s.Metadata[pkgstripe.MetadataOrderID], s.ClientReferenceID} {
		if raw == "" {
			continue
		}
		if id, err := uuid.Parse(raw); err == nil {
			return id, true
		}
	}
	return uuid.Nil, false
}

func (s checkoutSession) paymentMethod() *enums.PaymentMethod {
	if len(s.PaymentMethodTypes) != 1 {
		return nil
	}
	var method enums.PaymentMethod
	switch s.PaymentMethodTypes[0] {
	case "blik":
		method = enums.PaymentMethodBlik
	case "card":
		method = enums.PaymentMethodCard
	case "p24", "customer_balance", "sepa_debit":
		method = enums.PaymentMethodTransfer
	default:
		return nil
	}
	return &method
}
