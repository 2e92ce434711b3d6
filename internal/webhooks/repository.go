// Package webhooks records inbound provider deliveries. The unique
// (provider, event_id) index is the only deduplication mechanism: a
// redelivery inserts nothing and callers skip every side effect.
package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Event is a provider delivery as received at the boundary.
type Event struct {
	Provider  enums.Provider
	EventID   string
	EventType string
	Payload   json.RawMessage
}

// Validate checks the identifying fields of the delivery.
func (e Event) Validate() error {
	if !e.Provider.IsValid() {
		return fmt.Errorf("unknown provider %q", e.Provider)
	}
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("event id is required")
	}
	if strings.TrimSpace(e.EventType) == "" {
		return fmt.Errorf("event type is required")
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	return nil
}

// Repository persists webhook deliveries.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Record inserts the delivery unless (provider, event_id) already exists. It
// returns the row that owns the event id and whether this call inserted it.
func (r *Repository) Record(ctx context.Context, event Event) (*models.WebhookEvent, bool, error) {
	row := &models.WebhookEvent{
		Provider:  event.Provider,
		EventID:   event.EventID,
		EventType: event.EventType,
		Payload:   event.Payload,
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return row, true, nil
	}

	stored, err := r.Find(ctx, event.Provider, event.EventID)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

// Find loads a stored delivery by its provider key.
func (r *Repository) Find(ctx context.Context, provider enums.Provider, eventID string) (*models.WebhookEvent, error) {
	var row models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND event_id = ?", provider, eventID).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// MarkProcessed flags a delivery whose effects were applied.
func (r *Repository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("processed", true).Error
}
