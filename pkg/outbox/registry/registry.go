// Package registry maps outbox rows to their Pub/Sub topic and typed payload.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

// maxEnvelopeVersion is the newest envelope layout this build can decode.
const maxEnvelopeVersion = 1

// Route says where one event type is published and how its data decodes.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	decode        func(json.RawMessage) (any, error)
}

// Resolved is a row that passed validation and is ready to publish.
type Resolved struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Payload  any
}

type Registry struct {
	routes map[enums.OutboxEventType]Route
}

// PermanentError marks a row that will fail the same way on every attempt.
type PermanentError struct{ Err error }

func (e PermanentError) Error() string {
	if e.Err == nil {
		return "permanent outbox failure"
	}
	return e.Err.Error()
}

func (e PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error { return PermanentError{Err: err} }

func IsPermanent(err error) bool {
	var p PermanentError
	return errors.As(err, &p)
}

func decodeAs[T any](data json.RawMessage) (any, error) {
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}

// New routes order events to the orders topic. Shipment events use the
// shipments topic when one is configured and share the orders topic otherwise.
func New(cfg config.PubSubConfig) (*Registry, error) {
	orders := strings.TrimSpace(cfg.OrdersTopic)
	if orders == "" {
		return nil, errors.New("orders topic is required")
	}
	shipments := strings.TrimSpace(cfg.ShipmentsTopic)
	if shipments == "" {
		shipments = orders
	}

	r := &Registry{routes: map[enums.OutboxEventType]Route{}}
	r.add(enums.EventOrderCreated, enums.AggregateOrder, orders, decodeAs[payloads.OrderCreatedEvent])
	r.add(enums.EventOrderPaid, enums.AggregateOrder, orders, decodeAs[payloads.OrderPaidEvent])
	r.add(enums.EventOrderCancelled, enums.AggregateOrder, orders, decodeAs[payloads.OrderCancelledEvent])
	r.add(enums.EventOrderStatusChanged, enums.AggregateOrder, orders, decodeAs[payloads.OrderStatusChangedEvent])
	r.add(enums.EventOrderCompleted, enums.AggregateOrder, orders, decodeAs[payloads.OrderCompletedEvent])
	r.add(enums.EventShipmentCreated, enums.AggregateShipment, shipments, decodeAs[payloads.ShipmentCreatedEvent])

	for _, et := range enums.OutboxEventTypes {
		if _, ok := r.routes[et]; !ok {
			return nil, fmt.Errorf("no route for event type %s", et)
		}
	}
	return r, nil
}

func (r *Registry) add(et enums.OutboxEventType, agg enums.OutboxAggregateType, topic string, decode func(json.RawMessage) (any, error)) {
	r.routes[et] = Route{EventType: et, AggregateType: agg, Topic: topic, decode: decode}
}

// Resolve validates row and decodes its payload. Every failure is permanent.
func (r *Registry) Resolve(row models.OutboxEvent) (*Resolved, error) {
	route, ok := r.routes[row.EventType]
	switch {
	case !ok:
		return nil, Permanent(fmt.Errorf("unsupported event type %s", row.EventType))
	case route.AggregateType != row.AggregateType:
		return nil, Permanent(fmt.Errorf("aggregate mismatch: %s events belong to %s, row says %s", row.EventType, route.AggregateType, row.AggregateType))
	case row.AggregateID == uuid.Nil:
		return nil, Permanent(errors.New("missing aggregate_id"))
	}

	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &env); err != nil {
		return nil, Permanent(fmt.Errorf("decode envelope: %w", err))
	}
	if env.Version > maxEnvelopeVersion {
		return nil, Permanent(fmt.Errorf("envelope version %d is newer than %d", env.Version, maxEnvelopeVersion))
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, Permanent(fmt.Errorf("%s carries no data", row.EventType))
	}

	payload, err := route.decode(env.Data)
	if err != nil {
		return nil, Permanent(fmt.Errorf("decode %s data: %w", row.EventType, err))
	}
	return &Resolved{Route: route, Envelope: env, Payload: payload}, nil
}
