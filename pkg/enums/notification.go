package enums

// NotificationKind names a customer-facing message template.
type NotificationKind string

const (
	NotificationOrderConfirmation   NotificationKind = "order_confirmation"
	NotificationPaymentConfirmation NotificationKind = "payment_confirmation"
	NotificationShipmentDispatched  NotificationKind = "shipment_dispatched"
	NotificationOrderCancelled      NotificationKind = "order_cancelled"
	NotificationOrderCompleted      NotificationKind = "order_completed"
)

func (k NotificationKind) String() string { return string(k) }

func (k NotificationKind) IsValid() bool {
	return oneOf(k, []NotificationKind{
		NotificationOrderConfirmation,
		NotificationPaymentConfirmation,
		NotificationShipmentDispatched,
		NotificationOrderCancelled,
		NotificationOrderCompleted,
	})
}
