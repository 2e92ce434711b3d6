package enums

// OutboxAggregateType identifies the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder    OutboxAggregateType = "order"
	AggregateShipment OutboxAggregateType = "shipment"
)

func (a OutboxAggregateType) IsValid() bool {
	return a == AggregateOrder || a == AggregateShipment
}

// OutboxEventType names a domain event published through the outbox. The
// value doubles as the Pub/Sub "event_type" attribute.
type OutboxEventType string

const (
	EventOrderCreated       OutboxEventType = "order_created"
	EventOrderPaid          OutboxEventType = "order_paid"
	EventOrderCancelled     OutboxEventType = "order_cancelled"
	EventOrderStatusChanged OutboxEventType = "order_status_changed"
	EventOrderCompleted     OutboxEventType = "order_completed"
	EventShipmentCreated    OutboxEventType = "shipment_created"
)

// OutboxEventTypes lists every event the publisher knows how to route.
var OutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderCancelled,
	EventOrderStatusChanged,
	EventOrderCompleted,
	EventShipmentCreated,
}

func (e OutboxEventType) String() string { return string(e) }

func (e OutboxEventType) IsValid() bool { return oneOf(e, OutboxEventTypes) }

// ParseOutboxEventType reads the type stored on an outbox row.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse("outbox event type", value, OutboxEventTypes)
}
