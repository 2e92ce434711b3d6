package webhooks

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripeEvent(id, eventType string) Event {
	return Event{
		Provider:  enums.ProviderStripe,
		EventID:   id,
		EventType: eventType,
		Payload:   json.RawMessage(`{"id":"` + id + `"}`),
	}
}

func TestRecordInsertsOncePerEventID(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	first, inserted, err := repo.Record(ctx, stripeEvent("evt_1", "checkout.session.completed"))
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, repo.MarkProcessed(ctx, first.ID))

	again, inserted, err := repo.Record(ctx, stripeEvent("evt_1", "checkout.session.expired"))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "checkout.session.completed", again.EventType)
	assert.True(t, again.Processed)

	other := stripeEvent("evt_1", "tracking")
	other.Provider = enums.ProviderLogistics
	_, inserted, err = repo.Record(ctx, other)
	require.NoError(t, err)
	assert.True(t, inserted)

	var count int64
	require.NoError(t, conn.Model(&models.WebhookEvent{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestRecordConcurrentDeliveries(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)

	const deliveries = 8
	var wg sync.WaitGroup
	results := make(chan bool, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, inserted, err := repo.Record(context.Background(), stripeEvent("evt_race", "checkout.session.completed"))
			assert.NoError(t, err)
			results <- inserted
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for inserted := range results {
		if inserted {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestEventValidate(t *testing.T) {
	assert.NoError(t, stripeEvent("evt_1", "x").Validate())
	assert.Error(t, Event{Provider: "paypal", EventID: "1", EventType: "x", Payload: []byte("{}")}.Validate())
	assert.Error(t, Event{Provider: enums.ProviderStripe, EventType: "x", Payload: []byte("{}")}.Validate())
	assert.Error(t, Event{Provider: enums.ProviderStripe, EventID: "1", Payload: []byte("{}")}.Validate())
	assert.Error(t, Event{Provider: enums.ProviderStripe, EventID: "1", EventType: "x"}.Validate())
}
