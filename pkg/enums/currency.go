package enums

import "strings"

// Currency is an ISO 4217 code accepted by the storefront.
type Currency string

const (
	CurrencyPLN Currency = "PLN"
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
)

func (c Currency) String() string { return string(c) }

// Lower returns the lowercase form Stripe expects.
func (c Currency) Lower() string { return strings.ToLower(string(c)) }

func (c Currency) IsValid() bool {
	return oneOf(c, []Currency{CurrencyPLN, CurrencyEUR, CurrencyUSD})
}
