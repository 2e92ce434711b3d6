// Package eventbus publishes JSON messages to a RabbitMQ topic exchange with
// publisher confirms.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const defaultPublishTimeout = 5 * time.Second

var (
	errURLRequired      = errors.New("rabbitmq url is required")
	errExchangeRequired = errors.New("rabbitmq exchange is required")
	errNacked           = errors.New("message published but not confirmed by broker")
	errConfirmTimeout   = errors.New("publish confirmation timeout")
	errPublisherClosed  = errors.New("publisher closed")
)

type channel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type connection interface {
	Channel() (channel, error)
	IsClosed() bool
	Close() error
}

type dialFunc func(url string) (connection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string) (connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{Connection: conn}, nil
}

// Message is a single publish request.
type Message struct {
	RoutingKey string
	MessageID  string
	Body       []byte
	Headers    map[string]any
}

// Publisher owns one connection and one confirm-mode channel. Publishes are
// serialized so every confirmation matches the message that produced it.
type Publisher struct {
	url          string
	exchange     string
	exchangeType string
	timeout      time.Duration
	logg         *logger.Logger
	dial         dialFunc

	mu       sync.Mutex
	conn     connection
	ch       channel
	confirms chan amqp.Confirmation
	closed   bool
}

// NewPublisher dials the broker and declares the durable exchange.
func NewPublisher(ctx context.Context, cfg config.NotificationsConfig, logg *logger.Logger) (*Publisher, error) {
	return newPublisher(ctx, cfg, logg, dialAMQP)
}

func newPublisher(ctx context.Context, cfg config.NotificationsConfig, logg *logger.Logger, dial dialFunc) (*Publisher, error) {
	url := strings.TrimSpace(cfg.RabbitMQURL)
	if url == "" {
		return nil, errURLRequired
	}
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		return nil, errExchangeRequired
	}
	kind := strings.TrimSpace(cfg.ExchangeType)
	if kind == "" {
		kind = amqp.ExchangeTopic
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}

	p := &Publisher{
		url:          url,
		exchange:     exchange,
		exchangeType: kind,
		timeout:      timeout,
		logg:         logg,
		dial:         dial,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "exchange", exchange), "rabbitmq publisher connected")
	}
	return p, nil
}

func (p *Publisher) connectLocked() error {
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil {
		return nil
	}
	p.resetLocked()

	conn, err := p.dial(p.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open producer channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("producer channel could not be put into confirm mode: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	if err := ch.ExchangeDeclare(p.exchange, p.exchangeType, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}

	p.conn = conn
	p.ch = ch
	p.confirms = confirms
	return nil
}

func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil && !p.conn.IsClosed() {
		_ = p.conn.Close()
	}
	p.ch = nil
	p.conn = nil
	p.confirms = nil
}

// Publish sends the message as a persistent JSON delivery and waits for the
// broker ack. A broken channel is reopened on the next call.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	if p == nil {
		return errPublisherClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errPublisherClosed
	}
	if err := p.connectLocked(); err != nil {
		return err
	}

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	err := p.ch.Publish(p.exchange, msg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         msg.Body,
	})
	if err != nil {
		p.resetLocked()
		return fmt.Errorf("publish to %s: %w", p.exchange, err)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			p.resetLocked()
			return errors.New("confirm channel closed")
		}
		if !confirm.Ack {
			return errNacked
		}
		return nil
	case <-timer.C:
		// the late confirm would be matched to the next publish
		p.resetLocked()
		return errConfirmTimeout
	case <-ctx.Done():
		p.resetLocked()
		return ctx.Err()
	}
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.resetLocked()
	return nil
}
