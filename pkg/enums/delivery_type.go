package enums

// DeliveryType distinguishes door delivery from pickup point delivery.
type DeliveryType string

const (
	DeliveryTypeCourier   DeliveryType = "courier"
	DeliveryTypePaczkomat DeliveryType = "paczkomat"
)

func (d DeliveryType) String() string { return string(d) }

func (d DeliveryType) IsValid() bool {
	return d == DeliveryTypeCourier || d == DeliveryTypePaczkomat
}
