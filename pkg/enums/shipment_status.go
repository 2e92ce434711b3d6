package enums

// ShipmentStatus mirrors the carrier-side delivery outcome.
type ShipmentStatus string

const (
	ShipmentStatusPending ShipmentStatus = "pending"
	ShipmentStatusSuccess ShipmentStatus = "success"
	ShipmentStatusFailed  ShipmentStatus = "failed"
)

func (s ShipmentStatus) String() string { return string(s) }

func (s ShipmentStatus) IsValid() bool {
	return oneOf(s, []ShipmentStatus{ShipmentStatusPending, ShipmentStatusSuccess, ShipmentStatusFailed})
}
