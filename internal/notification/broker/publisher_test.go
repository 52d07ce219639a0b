package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"atelier_backend/internal/events"
	"atelier_backend/platform/logger"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu        sync.Mutex
	declared  []string
	published []published
	failWith  error
	closed    bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.declared = append(f.declared, name+":"+kind)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublisherDeclaresTopicExchange(t *testing.T) {
	ch := &fakeChannel{}
	if _, err := newPublisher(ch, "production.events", logger.New("test")); err != nil {
		t.Fatalf("newPublisher: %v", err)
	}
	if len(ch.declared) != 1 || ch.declared[0] != "production.events:topic" {
		t.Fatalf("unexpected declarations %v", ch.declared)
	}
}

func TestForwardsOrderEventsFromBus(t *testing.T) {
	log := logger.New("test")
	ch := &fakeChannel{}
	p, err := newPublisher(ch, "production.events", log)
	if err != nil {
		t.Fatalf("newPublisher: %v", err)
	}
	bus := events.NewInMemoryBus(log)
	p.RegisterHandlers(bus)

	orderID := uuid.New()
	err = bus.PublishSync(context.Background(), events.OrderStageAdvanced{
		BaseEvent: events.NewBaseEvent(),
		OrderID:   orderID,
		FromStage: "assembly",
		ToStage:   "reception",
		Version:   7,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(ch.published) != 1 {
		t.Fatalf("expected one message, got %d", len(ch.published))
	}
	got := ch.published[0]
	if got.exchange != "production.events" || got.key != "production.order.stage_advanced" {
		t.Fatalf("unexpected routing %s/%s", got.exchange, got.key)
	}
	if got.msg.DeliveryMode != amqp.Persistent || got.msg.ContentType != "application/json" {
		t.Fatalf("unexpected publishing %+v", got.msg)
	}

	var body struct {
		Event   string    `json:"event"`
		OrderID uuid.UUID `json:"orderId"`
		Payload struct {
			ToStage string `json:"toStage"`
			Version int64  `json:"version"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(got.msg.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Event != "production.order.stage_advanced" || body.OrderID != orderID || body.Payload.ToStage != "reception" || body.Payload.Version != 7 {
		t.Fatalf("unexpected body %s", got.msg.Body)
	}
}

func TestPublishFailureReachesBus(t *testing.T) {
	log := logger.New("test")
	ch := &fakeChannel{failWith: errors.New("channel closed")}
	p, _ := newPublisher(ch, "production.events", log)
	bus := events.NewInMemoryBus(log)
	p.RegisterHandlers(bus)

	err := bus.PublishSync(context.Background(), events.OrderCancelled{BaseEvent: events.NewBaseEvent(), OrderID: uuid.New(), Version: 3})
	if err == nil {
		t.Fatal("expected the publish error to surface")
	}
	if err := p.Close(); err != nil || !ch.closed {
		t.Fatalf("close = %v, closed=%v", err, ch.closed)
	}
}
