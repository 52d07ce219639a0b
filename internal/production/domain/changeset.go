package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChangeSet is everything one workflow operation writes. It is committed
// atomically together with the order's version bump, or not at all.
type ChangeSet struct {
	OrderID         uuid.UUID
	ExpectedVersion int64
	At              time.Time

	Status         *OrderStatus
	CurrentStageID *uuid.UUID

	CloseStageHistoryID *uuid.UUID
	OpenStageHistory    *StageHistoryEntry

	NewUnits     []WorkUnit
	UpdatedUnits []WorkUnit
	UnitHistory  []WorkUnitHistoryEntry
	Shortages    []ShortageRecord
	Outcomes     []ReviewOutcome
}

// Merge appends the unit-level writes of other. Order-level fields of cs
// win.
func (cs *ChangeSet) Merge(other ChangeSet) {
	cs.NewUnits = append(cs.NewUnits, other.NewUnits...)
	cs.UpdatedUnits = append(cs.UpdatedUnits, other.UpdatedUnits...)
	cs.UnitHistory = append(cs.UnitHistory, other.UnitHistory...)
	cs.Shortages = append(cs.Shortages, other.Shortages...)
	cs.Outcomes = append(cs.Outcomes, other.Outcomes...)
}

// unitHistory closes the occupancy interval of u in its stage.
func unitHistory(u WorkUnit, at time.Time) WorkUnitHistoryEntry {
	return WorkUnitHistoryEntry{
		ID:          uuid.New(),
		WorkUnitID:  u.ID,
		StageID:     u.StageID,
		StartedAt:   u.CreatedAt,
		CompletedAt: timePtr(at),
	}
}
