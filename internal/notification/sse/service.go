// Package sse provides Server-Sent Events streams scoped to one production
// order.
package sse

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"atelier_backend/platform/httpkit"
	"atelier_backend/platform/logger"
)

// EventType represents different types of SSE events
type EventType string

const EventTimelineUpdated EventType = "timeline_updated"

// Event represents an SSE event payload
type Event struct {
	Type    EventType   `json:"type"`
	OrderID uuid.UUID   `json:"orderId"`
	Version int64       `json:"version,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// client represents one connected viewer of an order
type client struct {
	orderID uuid.UUID
	userID  uuid.UUID
	events  chan Event
}

// Service manages SSE connections and event broadcasting
type Service struct {
	mu      sync.RWMutex
	clients map[uuid.UUID][]*client // orderID -> clients
	log     *logger.Logger
}

// New creates a new SSE service
func New(log *logger.Logger) *Service {
	return &Service{
		clients: make(map[uuid.UUID][]*client),
		log:     log,
	}
}

func (s *Service) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.orderID] = append(s.clients[c.orderID], c)
}

// removeClient unregisters a client connection. It is a no-op after Close.
func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := s.clients[c.orderID]
	for i, cl := range clients {
		if cl == c {
			s.clients[c.orderID] = append(clients[:i], clients[i+1:]...)
			close(c.events)
			break
		}
	}
	if len(s.clients[c.orderID]) == 0 {
		delete(s.clients, c.orderID)
	}
}

// Watchers reports how many clients follow an order.
func (s *Service) Watchers(orderID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients[orderID])
}

// Publish sends an event to every client following event.OrderID. Slow
// clients drop events rather than block the publisher.
func (s *Service) Publish(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := s.clients[event.OrderID]
	for _, c := range clients {
		select {
		case c.events <- event:
		default:
			s.log.Warn("sse buffer full, dropping event", "orderId", event.OrderID, "userId", c.userID, "type", event.Type)
		}
	}
	s.log.Debug("sse event published", "orderId", event.OrderID, "type", event.Type, "clients", len(clients))
}

// Stream serves the event stream of one order until the client leaves.
func (s *Service) Stream(c *gin.Context, orderID uuid.UUID) {
	identity := httpkit.GetIdentity(c)
	if !identity.IsAuthenticated() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	cl := &client{
		orderID: orderID,
		userID:  identity.UserID(),
		events:  make(chan Event, 32),
	}
	s.addClient(cl)
	defer s.removeClient(cl)

	c.SSEvent("connected", gin.H{"orderId": orderID})
	c.Writer.Flush()
	s.log.Info("sse client connected", "orderId", orderID, "userId", cl.userID)

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			s.log.Info("sse client disconnected", "orderId", orderID, "userId", cl.userID)
			return
		case event, ok := <-cl.events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.log.Error("sse event encoding failed", "orderId", orderID, "error", err)
				continue
			}
			c.SSEvent(string(event.Type), string(data))
			c.Writer.Flush()
		}
	}
}

// Close disconnects every client.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, clients := range s.clients {
		for _, c := range clients {
			close(c.events)
		}
	}
	s.clients = make(map[uuid.UUID][]*client)
}
