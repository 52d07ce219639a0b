package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"atelier_backend/platform/apperr"
)

// ReceptionItem is the count declared for one unit on arrival.
type ReceptionItem struct {
	WorkUnitID       uuid.UUID
	ReceivedQuantity int
}

// ReceptionResult is the outcome for one unit: the unit moved to received
// or received_incomplete, plus a shortage record when product is missing.
type ReceptionResult struct {
	Unit     WorkUnit
	Shortage *ShortageRecord
	History  WorkUnitHistoryEntry
}

// Receive records what actually arrived for unit. The receiver becomes the
// unit's worker and may not be the actor that produced it. The unit keeps
// its assigned quantity; the gap goes to the shortage ledger.
func Receive(unit WorkUnit, stage Stage, received int, receiver uuid.UUID, now time.Time) (ReceptionResult, error) {
	if stage.Kind != StageKindReception || unit.StageID != stage.ID {
		return ReceptionResult{}, apperr.Validation(fmt.Sprintf("work unit %s is not awaiting reception", unit.ID))
	}
	if unit.Status != WorkUnitPending {
		return ReceptionResult{}, apperr.Conflict(fmt.Sprintf("work unit %s was already received", unit.ID))
	}
	if receiver == uuid.Nil {
		return ReceptionResult{}, apperr.Validation("receiver is required")
	}
	if producer, ok := unit.ResponsibleActor(); ok && producer.ID == receiver {
		return ReceptionResult{}, apperr.Validation("the receiving worker cannot be the actor that produced the units")
	}
	if received < 0 {
		return ReceptionResult{}, apperr.Validation("received quantity cannot be negative")
	}
	if received > unit.Quantity {
		return ReceptionResult{}, apperr.ShortfallOverflow(fmt.Sprintf("work unit %s: received %d exceeds assigned %d", unit.ID, received, unit.Quantity)).
			WithDetails(map[string]any{
				"workUnitId": unit.ID.String(),
				"assigned":   unit.Quantity,
				"received":   received,
			})
	}

	unit.WorkerID = uuidPtr(receiver)
	unit.CompletedAt = timePtr(now)
	result := ReceptionResult{}
	if received == unit.Quantity {
		unit.Status = WorkUnitReceived
	} else {
		unit.Status = WorkUnitReceivedIncomplete
		result.Shortage = &ShortageRecord{
			ID:              uuid.New(),
			WorkUnitID:      unit.ID,
			MissingQuantity: unit.Quantity - received,
			RecordedAt:      now,
		}
	}
	result.Unit = unit
	result.History = unitHistory(unit, now)
	return result, nil
}

// PlanReception receives several units of the order in one commit.
func PlanReception(order Order, stage Stage, units []WorkUnit, items []ReceptionItem, receiver uuid.UUID, now time.Time) (ChangeSet, error) {
	if err := CheckMutable(order); err != nil {
		return ChangeSet{}, err
	}
	if stage.ID != order.CurrentStageID {
		return ChangeSet{}, apperr.Validation(fmt.Sprintf("order is not in stage %s", stage.Code))
	}
	if len(items) == 0 {
		return ChangeSet{}, apperr.Validation("no work units to receive")
	}

	byID := make(map[uuid.UUID]WorkUnit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}
	cs := ChangeSet{OrderID: order.ID, ExpectedVersion: order.Version, At: now}
	seen := make(map[uuid.UUID]struct{}, len(items))
	for _, item := range items {
		if _, dup := seen[item.WorkUnitID]; dup {
			return ChangeSet{}, apperr.Validation(fmt.Sprintf("work unit %s listed twice", item.WorkUnitID))
		}
		seen[item.WorkUnitID] = struct{}{}
		unit, ok := byID[item.WorkUnitID]
		if !ok {
			return ChangeSet{}, apperr.NotFound(fmt.Sprintf("work unit %s not found", item.WorkUnitID))
		}
		res, err := Receive(unit, stage, item.ReceivedQuantity, receiver, now)
		if err != nil {
			return ChangeSet{}, err
		}
		cs.UpdatedUnits = append(cs.UpdatedUnits, res.Unit)
		cs.UnitHistory = append(cs.UnitHistory, res.History)
		if res.Shortage != nil {
			cs.Shortages = append(cs.Shortages, *res.Shortage)
		}
	}
	return cs, nil
}
