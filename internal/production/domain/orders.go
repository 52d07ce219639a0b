package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"atelier_backend/platform/apperr"
)

// NewOrderInput describes an order to open in the first stage.
type NewOrderInput struct {
	Client   string
	Lines    []OrderLine
	Assignee *Actor
}

// NewOrder validates the declared lines and returns the order together with
// the history row opening its first stage. Version starts at 1.
func NewOrder(c *Catalog, in NewOrderInput, now time.Time) (Order, StageHistoryEntry, error) {
	client := strings.TrimSpace(in.Client)
	if client == "" {
		return Order{}, StageHistoryEntry{}, apperr.Validation("client is required")
	}
	if len(in.Lines) == 0 {
		return Order{}, StageHistoryEntry{}, apperr.Validation("an order needs at least one line")
	}

	seen := make(map[LineKey]struct{}, len(in.Lines))
	total := 0
	for _, line := range in.Lines {
		if line.ReferenceID == uuid.Nil || line.SizeID == uuid.Nil {
			return Order{}, StageHistoryEntry{}, apperr.Validation("order lines need a reference and a size")
		}
		if line.Quantity <= 0 {
			return Order{}, StageHistoryEntry{}, apperr.Validation(fmt.Sprintf("%s: quantity must be positive", line.Key()))
		}
		if _, dup := seen[line.Key()]; dup {
			return Order{}, StageHistoryEntry{}, apperr.Validation(fmt.Sprintf("%s is declared twice", line.Key()))
		}
		seen[line.Key()] = struct{}{}
		total += line.Quantity
	}

	first := c.First()
	order := Order{
		ID:             uuid.New(),
		Client:         client,
		CurrentStageID: first.ID,
		Status:         OrderStatusActive,
		TotalUnits:     total,
		Version:        1,
		CreatedAt:      now,
		LastModifiedAt: now,
		Lines:          append([]OrderLine(nil), in.Lines...),
	}
	entry := StageHistoryEntry{
		ID:        uuid.New(),
		OrderID:   order.ID,
		StageID:   first.ID,
		StartedAt: now,
	}
	if a := in.Assignee; a != nil {
		if a.Kind != first.RequiredActorKind() {
			return Order{}, StageHistoryEntry{}, apperr.Validation(fmt.Sprintf("stage %s is assigned to a %s", first.Code, first.RequiredActorKind()))
		}
		if a.Kind == ActorKindWorkshop {
			entry.WorkshopID = uuidPtr(a.ID)
		} else {
			entry.WorkerID = uuidPtr(a.ID)
		}
	}
	return order, entry, nil
}

// PlanCancel closes the open stage interval and marks the order cancelled.
func PlanCancel(order Order, history []StageHistoryEntry, now time.Time) (ChangeSet, error) {
	if err := CheckMutable(order); err != nil {
		return ChangeSet{}, err
	}
	status := OrderStatusCancelled
	cs := ChangeSet{OrderID: order.ID, ExpectedVersion: order.Version, At: now, Status: &status}
	if open := openStageHistory(history, order.CurrentStageID); open != nil {
		cs.CloseStageHistoryID = uuidPtr(open.ID)
	}
	return cs, nil
}

// PlanDelay flags an order still sitting in stageID past its SLA. ok is
// false when the order moved on, finished or is already delayed.
func PlanDelay(order Order, stageID uuid.UUID, now time.Time) (ChangeSet, bool) {
	if order.Status != OrderStatusActive || order.CurrentStageID != stageID {
		return ChangeSet{}, false
	}
	status := OrderStatusDelayed
	return ChangeSet{OrderID: order.ID, ExpectedVersion: order.Version, At: now, Status: &status}, true
}

// StageEnteredAt returns when the order entered stageID for the visit that
// is still open.
func StageEnteredAt(history []StageHistoryEntry, stageID uuid.UUID) (time.Time, bool) {
	open := openStageHistory(history, stageID)
	if open == nil {
		return time.Time{}, false
	}
	return open.StartedAt, true
}

// Overdue reports whether an order has outstayed the SLA of its current stage.
func Overdue(order Order, stage Stage, enteredAt, now time.Time) bool {
	if order.Status != OrderStatusActive || order.CurrentStageID != stage.ID || stage.SLA <= 0 {
		return false
	}
	return !now.Before(enteredAt.Add(stage.SLA))
}
