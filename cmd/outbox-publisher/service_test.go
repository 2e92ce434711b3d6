package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
)

func orderRow(t *testing.T, eventType enums.OutboxEventType, attempts int) models.OutboxEvent {
	t.Helper()
	id := uuid.New()
	return models.OutboxEvent{
		ID:            id,
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, id.String()),
		AttemptCount:  attempts,
		CreatedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func ordersTopic() *registry.Resolved {
	return &registry.Resolved{
		Route: registry.Route{Topic: "orders-topic", AggregateType: enums.AggregateOrder},
	}
}

func TestProcessBatchContinuesAfterTransientFailure(t *testing.T) {
	first := orderRow(t, enums.EventOrderCreated, 0)
	second := orderRow(t, enums.EventOrderPaid, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: errors.New("unavailable")},
		fakePublishResult{},
	}}
	svc, reg := newTestService(t, repo, pub, &fakeRegistry{resolved: ordersTopic()}, nil)

	claimed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if !claimed {
		t.Fatal("expected batch to be claimed")
	}
	if len(repo.failed) != 1 || repo.failed[0] != first.ID {
		t.Fatalf("expected %s marked failed, got %v", first.ID, repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != second.ID {
		t.Fatalf("expected %s published, got %v", second.ID, repo.published)
	}
	if got := eventCount(t, reg, enums.EventOrderCreated, metrics.OutboxRetried); got != 1 {
		t.Fatalf("expected one retried event, got %v", got)
	}
}

func TestProcessBatchEmptyIsNotClaimed(t *testing.T) {
	svc, _ := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{resolved: ordersTopic()}, nil)
	claimed, err := svc.processBatch(context.Background())
	if err != nil || claimed {
		t.Fatalf("expected idle batch, got claimed=%v err=%v", claimed, err)
	}
}

func TestPublishCarriesEnvelopeAndAttributes(t *testing.T) {
	row := orderRow(t, enums.EventOrderPaid, 0)
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	svc, _ := newTestService(t, &fakeRepo{events: []models.OutboxEvent{row}}, pub, &fakeRegistry{resolved: ordersTopic()}, nil)

	if _, err := svc.processBatch(context.Background()); err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.messages))
	}
	msg := pub.messages[0]
	if !bytes.Equal(msg.Data, row.Payload) {
		t.Fatal("message data should be the stored envelope")
	}
	want := map[string]string{
		"event_id":       row.ID.String(),
		"event_type":     string(enums.EventOrderPaid),
		"aggregate_type": string(enums.AggregateOrder),
		"aggregate_id":   row.AggregateID.String(),
		"created_at":     "2026-03-01T10:00:00Z",
	}
	for k, v := range want {
		if msg.Attributes[k] != v {
			t.Fatalf("attribute %s = %q, want %q", k, msg.Attributes[k], v)
		}
	}
}

func TestProcessBatchParksUnresolvableRow(t *testing.T) {
	row := orderRow(t, enums.EventOrderCreated, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	resolver := &fakeRegistry{err: registry.Permanent(errors.New("invalid payload"))}
	svc, reg := newTestService(t, repo, &fakePublisher{}, resolver, nil)

	if _, err := svc.processBatch(context.Background()); err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != row.ID {
		t.Fatalf("expected row parked, got %v", repo.terminal)
	}
	if repo.terminalAttempts != 5 {
		t.Fatalf("expected attempt ceiling 5, got %d", repo.terminalAttempts)
	}
	if len(repo.published) != 0 || len(repo.failed) != 0 {
		t.Fatal("parked row must not be marked published or failed")
	}
	if got := eventCount(t, reg, enums.EventOrderCreated, metrics.OutboxTerminal); got != 1 {
		t.Fatalf("expected one terminal event, got %v", got)
	}
}

func TestProcessBatchParksMissingPublisher(t *testing.T) {
	row := orderRow(t, enums.EventOrderCancelled, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	svc, _ := newTestService(t, repo, nil, &fakeRegistry{resolved: ordersTopic()}, nil)

	if _, err := svc.processBatch(context.Background()); err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if len(repo.terminal) != 1 {
		t.Fatalf("expected row parked when no publisher exists, got %v", repo.terminal)
	}
}

func TestProcessBatchParksAtMaxAttempts(t *testing.T) {
	row := orderRow(t, enums.EventOrderCreated, 1)
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("deadline exceeded")}}}
	svc, _ := newTestService(t, repo, pub, &fakeRegistry{resolved: ordersTopic()}, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	if _, err := svc.processBatch(context.Background()); err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != row.ID {
		t.Fatalf("expected row parked, got %v", repo.terminal)
	}
	if len(repo.failed) != 0 {
		t.Fatal("parked row should not also be marked failed")
	}
}

func TestProcessBatchAbortsWhenMarkFails(t *testing.T) {
	row := orderRow(t, enums.EventOrderPaid, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{row}, markErr: errors.New("connection reset")}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	svc, _ := newTestService(t, repo, pub, &fakeRegistry{resolved: ordersTopic()}, nil)

	if _, err := svc.processBatch(context.Background()); err == nil {
		t.Fatal("expected batch error so the transaction rolls back")
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := newBackoff(time.Second, 3*time.Second)
	steps := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for i, want := range steps {
		got := b.next()
		if got < want || got >= want+jitterWindow {
			t.Fatalf("step %d: got %s, want %s plus jitter", i, got, want)
		}
	}
	b.reset()
	if got := b.next(); got >= time.Second+jitterWindow {
		t.Fatalf("expected reset to base, got %s", got)
	}
}

func TestSleepCtxHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, resolver registryResolver, override *config.OutboxConfig) (*Service, *prometheus.Registry) {
	t.Helper()
	outboxCfg := config.OutboxConfig{BatchSize: 2, PollIntervalMS: 100, MaxAttempts: 5}
	if override != nil {
		outboxCfg = *override
	}
	reg := prometheus.NewRegistry()
	factory := func(string) publisher { return nil }
	if pub != nil {
		factory = func(string) publisher { return pub }
	}
	svc, err := NewService(ServiceParams{
		Config:           &config.Config{Outbox: outboxCfg},
		Logger:           logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:               fakeDB{},
		PubSub:           fakePubSubClient{},
		Repository:       repo,
		Registry:         resolver,
		Metrics:          metrics.NewOutboxMetrics(reg),
		PublisherFactory: factory,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, reg
}

func eventCount(t *testing.T, reg *prometheus.Registry, eventType enums.OutboxEventType, outcome string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "storefront_outbox_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["event_type"] == string(eventType) && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	})
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events           []models.OutboxEvent
	published        []uuid.UUID
	failed           []uuid.UUID
	terminal         []uuid.UUID
	terminalAttempts int
	markErr          error
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	f.terminalAttempts = terminalAttempts
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakePubSubClient struct{}

func (fakePubSubClient) Ping(context.Context) error { return nil }

func (fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "server-id", f.err
}

type fakeRegistry struct {
	resolved *registry.Resolved
	err      error
}

func (f *fakeRegistry) Resolve(row models.OutboxEvent) (*registry.Resolved, error) {
	if f.err != nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Envelope = outbox.PayloadEnvelope{Version: 1, EventID: row.ID.String(), OccurredAt: row.CreatedAt}
	return &resolved, nil
}
