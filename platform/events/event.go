// Package events carries committed production changes from the service
// that made them to in-process subscribers: the timeline refresh and the
// outbound broker feed.
package events

import (
	"context"
	"time"
)

// Event is a change that has already been committed.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent stamps an event with the time of the change it reports.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// BaseEventAt stamps an event with the commit time of its change, so every
// subscriber sees the same time the order row carries.
func BaseEventAt(at time.Time) BaseEvent {
	return BaseEvent{Timestamp: at.UTC()}
}

// NewBaseEvent stamps an event with the current time.
func NewBaseEvent() BaseEvent {
	return BaseEventAt(time.Now())
}

type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus delivers events by name. Publish runs handlers in the background and
// only logs their errors; PublishSync waits and returns the first error.
type Bus interface {
	Publish(ctx context.Context, event Event)
	PublishSync(ctx context.Context, event Event) error
	Subscribe(eventName string, handler Handler)
}
