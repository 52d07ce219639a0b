// Package domain holds the production order entities and the pure rules that
// move quantities through the stage pipeline: splitting, sequencing,
// reception, review reconciliation, rework tracking and timeline
// reconstruction. Nothing in this package performs I/O.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the lifecycle status of a production order.
type OrderStatus string

const (
	OrderStatusActive    OrderStatus = "active"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusDelayed   OrderStatus = "delayed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further mutation is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// LineKey identifies one (reference, size) combination of an order.
type LineKey struct {
	ReferenceID uuid.UUID `json:"referenceId"`
	SizeID      uuid.UUID `json:"sizeId"`
}

func (k LineKey) String() string {
	return fmt.Sprintf("reference %s / size %s", k.ReferenceID, k.SizeID)
}

// OrderLine is the declared quantity for one (reference, size).
type OrderLine struct {
	ReferenceID uuid.UUID `json:"referenceId"`
	SizeID      uuid.UUID `json:"sizeId"`
	Quantity    int       `json:"quantity"`
}

func (l OrderLine) Key() LineKey {
	return LineKey{ReferenceID: l.ReferenceID, SizeID: l.SizeID}
}

// Order is one production order. Version is bumped by every committed
// mutation and is the optimistic-concurrency token.
type Order struct {
	ID             uuid.UUID   `json:"id"`
	SequenceNumber int64       `json:"sequenceNumber"`
	Client         string      `json:"client"`
	CurrentStageID uuid.UUID   `json:"currentStageId"`
	Status         OrderStatus `json:"status"`
	TotalUnits     int         `json:"totalUnits"`
	Version        int64       `json:"version"`
	CreatedAt      time.Time   `json:"createdAt"`
	LastModifiedAt time.Time   `json:"lastModifiedAt"`
	Lines          []OrderLine `json:"lines"`
}

// DeclaredQuantities indexes the order lines by (reference, size).
func (o Order) DeclaredQuantities() map[LineKey]int {
	declared := make(map[LineKey]int, len(o.Lines))
	for _, line := range o.Lines {
		declared[line.Key()] += line.Quantity
	}
	return declared
}

// ActorKind distinguishes who is responsible for a piece of work.
type ActorKind string

const (
	ActorKindWorker   ActorKind = "worker"
	ActorKindWorkshop ActorKind = "workshop"
	// ActorKindAdmin is the synthetic actor for transitions recorded
	// without a worker or workshop.
	ActorKindAdmin ActorKind = "admin"
)

// Actor is a worker or an external workshop.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

// AdministrativeActor is the fallback actor of the timeline.
var AdministrativeActor = Actor{Kind: ActorKindAdmin}

func WorkerActor(id uuid.UUID) Actor   { return Actor{Kind: ActorKindWorker, ID: id} }
func WorkshopActor(id uuid.UUID) Actor { return Actor{Kind: ActorKindWorkshop, ID: id} }

func (a Actor) String() string {
	if a.Kind == ActorKindAdmin {
		return string(ActorKindAdmin)
	}
	return string(a.Kind) + ":" + a.ID.String()
}

// WorkUnitStatus is the progress of one work unit inside its stage.
type WorkUnitStatus string

const (
	WorkUnitPending            WorkUnitStatus = "pending"
	WorkUnitReceived           WorkUnitStatus = "received"
	WorkUnitReceivedIncomplete WorkUnitStatus = "received_incomplete"
	WorkUnitCompleted          WorkUnitStatus = "completed"
	WorkUnitCarriedOver        WorkUnitStatus = "carried_over"
)

// WorkUnit is a quantity of one (reference, size) assigned to one actor at
// one stage. ReworkOrigin units come from product returned for correction
// and never count toward stage or actor totals.
type WorkUnit struct {
	ID           uuid.UUID      `json:"id"`
	OrderID      uuid.UUID      `json:"orderId"`
	ReferenceID  uuid.UUID      `json:"referenceId"`
	SizeID       uuid.UUID      `json:"sizeId"`
	Quantity     int            `json:"quantity"`
	StageID      uuid.UUID      `json:"stageId"`
	WorkerID     *uuid.UUID     `json:"workerId,omitempty"`
	WorkshopID   *uuid.UUID     `json:"workshopId,omitempty"`
	Status       WorkUnitStatus `json:"status"`
	ReworkOrigin bool           `json:"reworkOrigin"`
	ParentID     *uuid.UUID     `json:"parentId,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}

func (u WorkUnit) Key() LineKey {
	return LineKey{ReferenceID: u.ReferenceID, SizeID: u.SizeID}
}

// ResponsibleActor is the workshop when one is associated, else the worker.
func (u WorkUnit) ResponsibleActor() (Actor, bool) {
	if u.WorkshopID != nil {
		return WorkshopActor(*u.WorkshopID), true
	}
	if u.WorkerID != nil {
		return WorkerActor(*u.WorkerID), true
	}
	return Actor{}, false
}

// StageHistoryEntry is the order-level occupancy of a stage by an actor.
type StageHistoryEntry struct {
	ID          uuid.UUID  `json:"id"`
	OrderID     uuid.UUID  `json:"orderId"`
	StageID     uuid.UUID  `json:"stageId"`
	WorkerID    *uuid.UUID `json:"workerId,omitempty"`
	WorkshopID  *uuid.UUID `json:"workshopId,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// WorkUnitHistoryEntry is a closed interval of one unit inside a stage.
type WorkUnitHistoryEntry struct {
	ID          uuid.UUID  `json:"id"`
	WorkUnitID  uuid.UUID  `json:"workUnitId"`
	StageID     uuid.UUID  `json:"stageId"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ReviewOutcome is the committed inspection split of one unit.
// Approved + Repair + Discard always equals the unit quantity.
type ReviewOutcome struct {
	WorkUnitID uuid.UUID `json:"workUnitId"`
	Approved   int       `json:"approved"`
	Repair     int       `json:"repair"`
	Discard    int       `json:"discard"`
	ReviewedBy uuid.UUID `json:"reviewedBy"`
	ReviewedAt time.Time `json:"reviewedAt"`
}

func (o ReviewOutcome) Total() int {
	return o.Approved + o.Repair + o.Discard
}

// ShortageRecord is the ledger entry for a short workshop delivery.
type ShortageRecord struct {
	ID              uuid.UUID `json:"id"`
	WorkUnitID      uuid.UUID `json:"workUnitId"`
	MissingQuantity int       `json:"missingQuantity"`
	RecordedAt      time.Time `json:"recordedAt"`
}

func timePtr(t time.Time) *time.Time { return &t }

func uuidPtr(id uuid.UUID) *uuid.UUID { return &id }
