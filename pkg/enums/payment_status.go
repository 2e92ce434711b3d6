package enums

// PaymentStatus tracks the provider-side state of a payment.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

func (p PaymentStatus) String() string { return string(p) }

func (p PaymentStatus) IsValid() bool {
	return oneOf(p, []PaymentStatus{PaymentStatusPending, PaymentStatusSuccess, PaymentStatusFailed})
}

