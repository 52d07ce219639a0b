package sse

import (
	"testing"

	"github.com/google/uuid"

	"atelier_backend/platform/logger"
)

func TestPublishReachesOnlyWatchersOfTheOrder(t *testing.T) {
	s := New(logger.New("test"))
	orderA, orderB := uuid.New(), uuid.New()
	a := &client{orderID: orderA, userID: uuid.New(), events: make(chan Event, 1)}
	b := &client{orderID: orderB, userID: uuid.New(), events: make(chan Event, 1)}
	s.addClient(a)
	s.addClient(b)

	s.Publish(Event{Type: EventTimelineUpdated, OrderID: orderA, Version: 3})

	select {
	case ev := <-a.events:
		if ev.Version != 3 {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("watcher of order A got nothing")
	}
	select {
	case ev := <-b.events:
		t.Fatalf("watcher of order B got %+v", ev)
	default:
	}
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	s := New(logger.New("test"))
	orderID := uuid.New()
	c := &client{orderID: orderID, events: make(chan Event, 1)}
	s.addClient(c)

	s.Publish(Event{Type: EventTimelineUpdated, OrderID: orderID, Version: 1})
	s.Publish(Event{Type: EventTimelineUpdated, OrderID: orderID, Version: 2})

	if ev := <-c.events; ev.Version != 1 {
		t.Fatalf("expected the first event to be kept, got %+v", ev)
	}
}

func TestRemoveClientAfterClose(t *testing.T) {
	s := New(logger.New("test"))
	orderID := uuid.New()
	c := &client{orderID: orderID, events: make(chan Event, 1)}
	s.addClient(c)
	if s.Watchers(orderID) != 1 {
		t.Fatalf("watchers = %d", s.Watchers(orderID))
	}

	s.Close()
	s.removeClient(c)
	if s.Watchers(orderID) != 0 {
		t.Fatalf("watchers after close = %d", s.Watchers(orderID))
	}
}
