package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// WebhookEvent is the append-only record of a provider delivery. The
// (provider, event_id) pair is unique so a redelivery never inserts twice.
type WebhookEvent struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Provider  enums.Provider  `gorm:"column:provider;type:text;not null;uniqueIndex:webhook_events_provider_event_id_key"`
	EventID   string          `gorm:"column:event_id;not null;uniqueIndex:webhook_events_provider_event_id_key"`
	EventType string          `gorm:"column:event_type;not null"`
	Payload   json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	Processed bool            `gorm:"column:processed;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (w *WebhookEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&w.ID)
	return nil
}
