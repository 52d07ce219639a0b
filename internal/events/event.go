// Package events defines the production order events. The bus they travel
// on lives in platform/events and is aliased here so callers need a single
// import.
package events

import (
	"atelier_backend/platform/events"
	"atelier_backend/platform/logger"

	"github.com/google/uuid"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

var (
	NewBaseEvent = events.NewBaseEvent
	BaseEventAt  = events.BaseEventAt
)

func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// OrderEvent is implemented by every production event so subscribers can
// react per order without a type switch.
type OrderEvent interface {
	Event
	OrderRef() uuid.UUID
}

// =============================================================================
// Production Order Events
// =============================================================================

// OrderCreated is published when a new order enters its first stage.
type OrderCreated struct {
	BaseEvent
	OrderID        uuid.UUID `json:"orderId"`
	SequenceNumber int64     `json:"sequenceNumber"`
	Client         string    `json:"client"`
	TotalUnits     int       `json:"totalUnits"`
	ActorID        uuid.UUID `json:"actorId"`
}

func (e OrderCreated) EventName() string   { return "production.order.created" }
func (e OrderCreated) OrderRef() uuid.UUID { return e.OrderID }

// OrderStageAdvanced is published after a committed stage transition.
// Completed is set when the order left its last stage.
type OrderStageAdvanced struct {
	BaseEvent
	OrderID      uuid.UUID `json:"orderId"`
	FromStage    string    `json:"fromStage"`
	ToStage      string    `json:"toStage,omitempty"`
	ToStageID    uuid.UUID `json:"toStageId,omitempty"`
	Completed    bool      `json:"completed"`
	CarriedUnits int       `json:"carriedUnits"`
	Version      int64     `json:"version"`
	ActorID      uuid.UUID `json:"actorId"`
}

func (e OrderStageAdvanced) EventName() string   { return "production.order.stage_advanced" }
func (e OrderStageAdvanced) OrderRef() uuid.UUID { return e.OrderID }

// OrderCancelled is published when an order is withdrawn.
type OrderCancelled struct {
	BaseEvent
	OrderID uuid.UUID `json:"orderId"`
	Version int64     `json:"version"`
	ActorID uuid.UUID `json:"actorId"`
}

func (e OrderCancelled) EventName() string   { return "production.order.cancelled" }
func (e OrderCancelled) OrderRef() uuid.UUID { return e.OrderID }

// OrderDelayed is published when an order overstays its stage deadline.
type OrderDelayed struct {
	BaseEvent
	OrderID   uuid.UUID `json:"orderId"`
	StageCode string    `json:"stageCode"`
	Version   int64     `json:"version"`
}

func (e OrderDelayed) EventName() string   { return "production.order.delayed" }
func (e OrderDelayed) OrderRef() uuid.UUID { return e.OrderID }

// WorkUnitsChanged is published when units were split, completed or
// carried over inside the current stage.
type WorkUnitsChanged struct {
	BaseEvent
	OrderID   uuid.UUID `json:"orderId"`
	StageCode string    `json:"stageCode"`
	Operation string    `json:"operation"`
	Units     int       `json:"units"`
	Version   int64     `json:"version"`
	ActorID   uuid.UUID `json:"actorId"`
}

func (e WorkUnitsChanged) EventName() string   { return "production.work_units.changed" }
func (e WorkUnitsChanged) OrderRef() uuid.UUID { return e.OrderID }

// ReceptionRecorded is published after a reception commit.
type ReceptionRecorded struct {
	BaseEvent
	OrderID    uuid.UUID `json:"orderId"`
	ReceiverID uuid.UUID `json:"receiverId"`
	Units      int       `json:"units"`
	Missing    int       `json:"missing"`
	Version    int64     `json:"version"`
}

func (e ReceptionRecorded) EventName() string   { return "production.reception.recorded" }
func (e ReceptionRecorded) OrderRef() uuid.UUID { return e.OrderID }

// ReviewConfirmed is published after one or more review groups were
// committed.
type ReviewConfirmed struct {
	BaseEvent
	OrderID     uuid.UUID `json:"orderId"`
	Actor       string    `json:"actor"`
	ReviewerID  uuid.UUID `json:"reviewerId"`
	Approved    int       `json:"approved"`
	Repair      int       `json:"repair"`
	Discard     int       `json:"discard"`
	RepairUnits int       `json:"repairUnits"`
	Version     int64     `json:"version"`
}

func (e ReviewConfirmed) EventName() string   { return "production.review.confirmed" }
func (e ReviewConfirmed) OrderRef() uuid.UUID { return e.OrderID }

// RepairResolved is published when a repair unit returns to review.
type RepairResolved struct {
	BaseEvent
	OrderID        uuid.UUID `json:"orderId"`
	RepairUnitID   uuid.UUID `json:"repairUnitId"`
	ReturnedUnitID uuid.UUID `json:"returnedUnitId"`
	Quantity       int       `json:"quantity"`
	Version        int64     `json:"version"`
}

func (e RepairResolved) EventName() string   { return "production.repair.resolved" }
func (e RepairResolved) OrderRef() uuid.UUID { return e.OrderID }

// OrderEventNames lists every event that changes an order's state.
var OrderEventNames = []string{
	OrderCreated{}.EventName(),
	OrderStageAdvanced{}.EventName(),
	OrderCancelled{}.EventName(),
	OrderDelayed{}.EventName(),
	WorkUnitsChanged{}.EventName(),
	ReceptionRecorded{}.EventName(),
	ReviewConfirmed{}.EventName(),
	RepairResolved{}.EventName(),
}
