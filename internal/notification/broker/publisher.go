// Package broker forwards production order events to an AMQP topic exchange
// so downstream systems (ERP, shipping) can follow orders without polling.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"atelier_backend/internal/events"
	"atelier_backend/platform/config"
	"atelier_backend/platform/logger"
)

const publishTimeout = 5 * time.Second

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       Channel
	exchange string
	log      *logger.Logger
}

// message is the body of every published event. The routing key is the
// event name, e.g. production.order.stage_advanced.
type message struct {
	Event      string       `json:"event"`
	OrderID    uuid.UUID    `json:"orderId"`
	OccurredAt time.Time    `json:"occurredAt"`
	Payload    events.Event `json:"payload"`
}

// Dial connects to the broker and declares the durable topic exchange.
func Dial(cfg config.BrokerConfig, log *logger.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.GetAMQPURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := newPublisher(ch, cfg.GetAMQPExchange(), log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch Channel, exchange string, log *logger.Logger) (*Publisher, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &Publisher{ch: ch, exchange: exchange, log: log}, nil
}

// RegisterHandlers subscribes the publisher to every order event on the bus.
func (p *Publisher) RegisterHandlers(bus events.Bus) {
	forward := events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.OrderEvent)
		if !ok {
			return nil
		}
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		return p.Publish(ctx, e)
	})
	for _, name := range events.OrderEventNames {
		bus.Subscribe(name, forward)
	}
}

func (p *Publisher) Publish(ctx context.Context, e events.OrderEvent) error {
	body, err := json.Marshal(message{
		Event:      e.EventName(),
		OrderID:    e.OrderRef(),
		OccurredAt: e.OccurredAt(),
		Payload:    e,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", e.EventName(), err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, e.EventName(), false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Type:         e.EventName(),
		Timestamp:    e.OccurredAt(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s for order %s: %w", e.EventName(), e.OrderRef(), err)
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.ch.Close()
	if p.conn != nil && !p.conn.IsClosed() {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
