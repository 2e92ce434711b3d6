package enums

// PaymentMethod records how the customer settled a checkout session. Stripe's
// bank-transfer style types (p24, sepa_debit, customer_balance) collapse into
// PaymentMethodTransfer.
type PaymentMethod string

const (
	PaymentMethodBlik     PaymentMethod = "blik"
	PaymentMethodCard     PaymentMethod = "card"
	PaymentMethodTransfer PaymentMethod = "transfer"
)

func (m PaymentMethod) String() string { return string(m) }

func (m PaymentMethod) IsValid() bool {
	return oneOf(m, []PaymentMethod{PaymentMethodBlik, PaymentMethodCard, PaymentMethodTransfer})
}
