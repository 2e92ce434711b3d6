package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/eventbus"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const routingKeyPrefix = "notifications."

type publisher interface {
	Publish(ctx context.Context, msg eventbus.Message) error
}

// BrokerSender publishes notifications to the mailer exchange, one routing key per kind.
type BrokerSender struct {
	pub publisher
}

func NewBrokerSender(pub publisher) (*BrokerSender, error) {
	if pub == nil {
		return nil, errors.New("publisher required")
	}
	return &BrokerSender{pub: pub}, nil
}

func (s *BrokerSender) Send(ctx context.Context, n Notification) error {
	if !n.Kind.IsValid() {
		return fmt.Errorf("invalid notification kind %q", n.Kind)
	}
	if n.Recipient == "" {
		return errors.New("notification recipient required")
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return s.pub.Publish(ctx, eventbus.Message{
		RoutingKey: routingKeyPrefix + n.Kind.String(),
		MessageID:  n.ID.String(),
		Body:       body,
		Headers: map[string]any{
			"kind":     n.Kind.String(),
			"order_id": n.OrderID.String(),
		},
	})
}

// NewSenderFromConfig publishes to RabbitMQ when a broker URL is configured and
// falls back to logging otherwise. The returned func closes the broker
// connection.
func NewSenderFromConfig(ctx context.Context, cfg config.NotificationsConfig, logg *logger.Logger) (Sender, func(), error) {
	if !cfg.Enabled() {
		logg.Warn(ctx, "notification broker not configured; notifications will only be logged")
		return NewLogSender(logg), func() {}, nil
	}
	pub, err := eventbus.NewPublisher(ctx, cfg, logg)
	if err != nil {
		return nil, nil, err
	}
	sender, err := NewBrokerSender(pub)
	if err != nil {
		_ = pub.Close()
		return nil, nil, err
	}
	closeFn := func() {
		if err := pub.Close(); err != nil {
			logg.Error(ctx, "error closing notification broker", err)
		}
	}
	return sender, closeFn, nil
}
