package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	modeTest = "test"
	modeLive = "live"
)

// Secret key prefixes accepted per mode. Restricted keys (rk_) work as long
// as they grant Checkout write access.
var keyPrefixes = map[string][]string{
	modeTest: {"sk_test_", "rk_test_"},
	modeLive: {"sk_live_", "rk_live_"},
}

var (
	errAPIKeyRequired = errors.New("stripe api key is required")
	errSecretRequired = errors.New("stripe webhook secret is required")
	errUnknownMode    = fmt.Errorf("stripe environment must be %q or %q", modeTest, modeLive)
)

// Client opens Checkout sessions and verifies webhook signatures. The key is
// scoped to this client; the package-level stripe.Key is never set.
type Client struct {
	mode          string
	signingSecret string
	successURL    string
	cancelURL     string
	newSession    sessionCreator
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode := cfg.Environment()
	if _, ok := keyPrefixes[mode]; !ok {
		return nil, errUnknownMode
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errSecretRequired
	}
	if !keyMatchesMode(mode, apiKey) {
		return nil, fmt.Errorf("stripe %s mode requires a %s secret key", mode, strings.Join(keyPrefixes[mode], " or "))
	}

	sessions := session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: apiKey}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_mode", mode), "stripe client initialized")
	}
	return &Client{
		mode:          mode,
		signingSecret: secret,
		successURL:    strings.TrimSpace(cfg.SuccessURL),
		cancelURL:     strings.TrimSpace(cfg.CancelURL),
		newSession:    sessions.New,
	}, nil
}

// Mode reports "test" or "live".
func (c *Client) Mode() string {
	if c == nil {
		return ""
	}
	return c.mode
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

func keyMatchesMode(mode, key string) bool {
	for _, prefix := range keyPrefixes[mode] {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
