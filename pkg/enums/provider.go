package enums

// Provider identifies an external system that pushes webhooks or takes
// payments. Logistics events come from Furgonetka.
type Provider string

const (
	ProviderStripe    Provider = "stripe"
	ProviderLogistics Provider = "furgonetka"
)

func (p Provider) String() string { return string(p) }

func (p Provider) IsValid() bool {
	return p == ProviderStripe || p == ProviderLogistics
}
