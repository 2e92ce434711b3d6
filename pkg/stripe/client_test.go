package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

func TestNewClientValidatesEnvironmentAndKeys(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.StripeConfig
		ok   bool
	}{
		{"test key", config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1", Env: "test"}, true},
		{"live key in test env", config.StripeConfig{APIKey: "sk_live_123", Secret: "whsec_1", Env: "test"}, false},
		{"missing secret", config.StripeConfig{APIKey: "sk_test_123", Env: "test"}, false},
		{"missing key", config.StripeConfig{Secret: "whsec_1"}, false},
		{"unknown env", config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1", Env: "staging"}, false},
	}
	for _, tc := range cases {
		_, err := NewClient(context.Background(), tc.cfg, nil)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestMinorUnits(t *testing.T) {
	cases := map[string]int64{
		"25.00":  2500,
		"12.29":  1229,
		"0.005":  1,
		"199.99": 19999,
	}
	for amount, want := range cases {
		if got := MinorUnits(decimal.RequireFromString(amount)); got != want {
			t.Fatalf("%s: expected %d, got %d", amount, want, got)
		}
	}
}

func TestCreateCheckoutSessionBuildsParams(t *testing.T) {
	var captured *stripe.CheckoutSessionParams
	client := &Client{
		successURL: "https://shop.example/success",
		cancelURL:  "https://shop.example/cancel",
		newSession: func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			captured = params
			return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1"}, nil
		},
	}

	orderID := uuid.New()
	got, err := client.CreateCheckoutSession(context.Background(), CheckoutRequest{
		OrderID:       orderID,
		Currency:      enums.CurrencyPLN,
		CustomerEmail: "buyer@example.com",
		Lines: []CheckoutLine{
			{Name: "Mug", UnitPrice: decimal.RequireFromString("25.00"), Quantity: 2},
			{Name: "Shipping", UnitPrice: decimal.RequireFromString("12.50"), Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession returned error: %v", err)
	}
	if got.ID != "cs_test_1" || got.URL == "" {
		t.Fatalf("unexpected session %+v", got)
	}
	if captured == nil {
		t.Fatal("session creator was not called")
	}
	if captured.Context == nil {
		t.Fatal("expected request context to be attached")
	}
	if *captured.Mode != string(stripe.CheckoutSessionModePayment) {
		t.Fatalf("unexpected mode %s", *captured.Mode)
	}
	if *captured.ClientReferenceID != orderID.String() {
		t.Fatalf("unexpected client reference %s", *captured.ClientReferenceID)
	}
	if captured.Metadata[MetadataOrderID] != orderID.String() {
		t.Fatalf("expected order id metadata, got %v", captured.Metadata)
	}
	if len(captured.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(captured.LineItems))
	}
	first := captured.LineItems[0]
	if *first.PriceData.Currency != "pln" || *first.PriceData.UnitAmount != 2500 || *first.Quantity != 2 {
		t.Fatalf("unexpected first line %+v", first.PriceData)
	}
	if *captured.SuccessURL != "https://shop.example/success" || *captured.CustomerEmail != "buyer@example.com" {
		t.Fatal("unexpected redirect urls or customer email")
	}
}

func TestCreateCheckoutSessionPropagatesProviderError(t *testing.T) {
	client := &Client{newSession: func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return nil, errors.New("card_declined")
	}}
	_, err := client.CreateCheckoutSession(context.Background(), CheckoutRequest{
		OrderID: uuid.New(),
		Lines:   []CheckoutLine{{Name: "Mug", UnitPrice: decimal.NewFromInt(1), Quantity: 1}},
	})
	if err == nil {
		t.Fatal("expected provider error")
	}
}

func TestCreateCheckoutSessionRejectsEmptyLines(t *testing.T) {
	client := &Client{newSession: func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		t.Fatal("provider must not be called")
		return nil, nil
	}}
	if _, err := client.CreateCheckoutSession(context.Background(), CheckoutRequest{OrderID: uuid.New()}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestVerifyEvent(t *testing.T) {
	client := &Client{signingSecret: "whsec_test"}
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":"checkout.session.completed","api_version":%q,"data":{"object":{"id":"cs_1"}}}`, stripe.APIVersion))

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte("whsec_test"))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	header := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))

	event, err := client.VerifyEvent(payload, header)
	if err != nil {
		t.Fatalf("VerifyEvent returned error: %v", err)
	}
	if event.ID != "evt_1" {
		t.Fatalf("unexpected event id %s", event.ID)
	}

	if _, err := client.VerifyEvent(payload, fmt.Sprintf("t=%d,v1=deadbeef", ts)); err == nil {
		t.Fatal("expected bad signature to be rejected")
	}
}

func TestNewClientKeepsKeyOffGlobalState(t *testing.T) {
	before := stripe.Key
	client, err := NewClient(context.Background(), config.StripeConfig{APIKey: "rk_live_abc", Secret: "whsec_1", Env: " LIVE "}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if client.Mode() != "live" {
		t.Fatalf("expected live mode, got %q", client.Mode())
	}
	if stripe.Key != before {
		t.Fatal("package level stripe key must not change")
	}
	if client.SigningSecret() != "whsec_1" {
		t.Fatalf("unexpected signing secret %q", client.SigningSecret())
	}
}
