package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// envelopeVersion is bumped when PayloadEnvelope changes shape.
const envelopeVersion = 1

// ActorRef identifies who produced the event. Guest and system actions carry no user.
type ActorRef struct {
	UserID *uuid.UUID      `json:"userId,omitempty"`
	Role   enums.ActorRole `json:"role,omitempty"`
}

// PayloadEnvelope is what lands in outbox_events.payload and, unchanged, in
// the Pub/Sub message body. EventID equals the outbox row id.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func sealEnvelope(id uuid.UUID, at time.Time, actor *ActorRef, data any) (json.RawMessage, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode event data: %w", err)
	}
	sealed, err := json.Marshal(PayloadEnvelope{
		Version:    envelopeVersion,
		EventID:    id.String(),
		OccurredAt: at.UTC(),
		Actor:      actor,
		Data:       body,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return sealed, nil
}
