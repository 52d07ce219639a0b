package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"atelier_backend/platform/apperr"
)

// Allocation assigns part of one (reference, size) to an actor.
type Allocation struct {
	ReferenceID uuid.UUID
	SizeID      uuid.UUID
	Actor       Actor
	Quantity    int
}

func (a Allocation) Key() LineKey {
	return LineKey{ReferenceID: a.ReferenceID, SizeID: a.SizeID}
}

// QuantityMismatch reports one (reference, size) whose allocations do not
// add up to the declared quantity. Delta is allocated minus declared.
type QuantityMismatch struct {
	ReferenceID string `json:"referenceId"`
	SizeID      string `json:"sizeId"`
	Declared    int    `json:"declared"`
	Allocated   int    `json:"allocated"`
	Delta       int    `json:"delta"`
}

// Split turns allocations into pending work units at stage. For every
// declared (reference, size) the allocated quantities must sum exactly to
// the declared quantity; any mismatch fails the whole split.
func Split(order Order, stage Stage, existing []WorkUnit, allocations []Allocation, now time.Time) ([]WorkUnit, error) {
	if err := CheckMutable(order); err != nil {
		return nil, err
	}
	if stage.ID != order.CurrentStageID {
		return nil, apperr.Validation(fmt.Sprintf("order is not in stage %s", stage.Code))
	}
	if stage.Inherit || !stage.Sequenced() {
		return nil, apperr.Validation(fmt.Sprintf("stage %s receives its units from the previous stage", stage.Code))
	}
	for _, u := range existing {
		if u.StageID == stage.ID && !u.ReworkOrigin {
			return nil, apperr.Conflict(fmt.Sprintf("stage %s is already split", stage.Code))
		}
	}
	if len(allocations) == 0 {
		return nil, apperr.Validation("at least one allocation is required")
	}

	declared := order.DeclaredQuantities()
	allocated := make(map[LineKey]int, len(declared))
	want := stage.RequiredActorKind()

	for i, a := range allocations {
		if a.Quantity <= 0 {
			return nil, apperr.Validation(fmt.Sprintf("allocation %d: quantity must be positive", i))
		}
		if a.Actor.Kind != want || a.Actor.ID == uuid.Nil {
			return nil, apperr.Validation(fmt.Sprintf("allocation %d: stage %s needs a %s", i, stage.Code, want))
		}
		if _, ok := declared[a.Key()]; !ok {
			return nil, apperr.Validation(fmt.Sprintf("allocation %d: %s is not part of the order", i, a.Key()))
		}
		allocated[a.Key()] += a.Quantity
	}

	var mismatches []QuantityMismatch
	for _, line := range order.Lines {
		got := allocated[line.Key()]
		if got == line.Quantity {
			continue
		}
		mismatches = append(mismatches, QuantityMismatch{
			ReferenceID: line.ReferenceID.String(),
			SizeID:      line.SizeID.String(),
			Declared:    line.Quantity,
			Allocated:   got,
			Delta:       got - line.Quantity,
		})
	}
	if len(mismatches) > 0 {
		return nil, apperr.Validation(fmt.Sprintf("allocations do not match declared quantities for %d lines", len(mismatches))).
			WithDetails(mismatches)
	}

	units := make([]WorkUnit, 0, len(allocations))
	for _, a := range allocations {
		u := WorkUnit{
			ID:          uuid.New(),
			OrderID:     order.ID,
			ReferenceID: a.ReferenceID,
			SizeID:      a.SizeID,
			Quantity:    a.Quantity,
			StageID:     stage.ID,
			Status:      WorkUnitPending,
			CreatedAt:   now,
		}
		if a.Actor.Kind == ActorKindWorkshop {
			u.WorkshopID = uuidPtr(a.Actor.ID)
		} else {
			u.WorkerID = uuidPtr(a.Actor.ID)
		}
		units = append(units, u)
	}
	return units, nil
}

// PlanSplit wraps Split into a change set.
func PlanSplit(order Order, stage Stage, existing []WorkUnit, allocations []Allocation, now time.Time) (ChangeSet, error) {
	units, err := Split(order, stage, existing, allocations, now)
	if err != nil {
		return ChangeSet{}, err
	}
	return ChangeSet{OrderID: order.ID, ExpectedVersion: order.Version, At: now, NewUnits: units}, nil
}

// PlanCompleteUnits closes units of the current stage. carryOver marks them
// carried_over instead of completed. Reception, review and repair units
// have dedicated operations.
func PlanCompleteUnits(order Order, stage Stage, units []WorkUnit, ids []uuid.UUID, carryOver bool, now time.Time) (ChangeSet, error) {
	if err := CheckMutable(order); err != nil {
		return ChangeSet{}, err
	}
	if stage.ID != order.CurrentStageID {
		return ChangeSet{}, apperr.Validation(fmt.Sprintf("order is not in stage %s", stage.Code))
	}
	if stage.Kind != StageKindWorker && stage.Kind != StageKindWorkshop {
		return ChangeSet{}, apperr.Validation(fmt.Sprintf("units of stage %s are closed by their own operation", stage.Code))
	}
	if len(ids) == 0 {
		return ChangeSet{}, apperr.Validation("no work units selected")
	}

	byID := make(map[uuid.UUID]WorkUnit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}
	status := WorkUnitCompleted
	if carryOver {
		status = WorkUnitCarriedOver
	}

	cs := ChangeSet{OrderID: order.ID, ExpectedVersion: order.Version, At: now}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		u, ok := byID[id]
		if !ok || u.StageID != stage.ID {
			return ChangeSet{}, apperr.NotFound(fmt.Sprintf("work unit %s is not in stage %s", id, stage.Code))
		}
		if u.Status != WorkUnitPending {
			return ChangeSet{}, apperr.Conflict(fmt.Sprintf("work unit %s is already %s", id, u.Status))
		}
		u.Status = status
		u.CompletedAt = timePtr(now)
		cs.UpdatedUnits = append(cs.UpdatedUnits, u)
		cs.UnitHistory = append(cs.UnitHistory, unitHistory(u, now))
	}
	return cs, nil
}
