package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"atelier_backend/platform/apperr"
)

// ActorCloseState tells whether an actor's review work is finished.
type ActorCloseState string

const (
	ActorInProgress     ActorCloseState = "in_progress"
	ActorPendingRepairs ActorCloseState = "pending_repairs"
	ActorComplete       ActorCloseState = "complete"
)

// ActorReviewState summarises one producing actor at review.
type ActorReviewState struct {
	Actor                 Actor           `json:"actor"`
	OriginalUnits         int             `json:"originalUnits"`
	ReviewedUnits         int             `json:"reviewedUnits"`
	PendingRepairUnits    int             `json:"pendingRepairUnits"`
	PendingRepairQuantity int             `json:"pendingRepairQuantity"`
	State                 ActorCloseState `json:"state"`
}

// PendingRepairs lists the unresolved repair units of actor.
func PendingRepairs(c *Catalog, units []WorkUnit, actor Actor) []WorkUnit {
	repair := c.Repair()
	var out []WorkUnit
	for _, u := range SortUnits(units) {
		if u.StageID != repair.ID || repair.IsTerminal(u.Status) {
			continue
		}
		if a, ok := u.ResponsibleActor(); ok && a == actor {
			out = append(out, u)
		}
	}
	return out
}

// ActorStates reports, per producing actor, whether review is closed. An
// actor is complete only once every original unit has an outcome and no
// repair or returned rework-origin unit is still open.
func ActorStates(c *Catalog, units []WorkUnit, outcomes []ReviewOutcome) []ActorReviewState {
	review, repair := c.Review(), c.Repair()
	reviewed := make(map[uuid.UUID]struct{}, len(outcomes))
	for _, o := range outcomes {
		reviewed[o.WorkUnitID] = struct{}{}
	}

	states := make(map[Actor]*ActorReviewState)
	state := func(a Actor) *ActorReviewState {
		s, ok := states[a]
		if !ok {
			s = &ActorReviewState{Actor: a}
			states[a] = s
		}
		return s
	}

	for _, u := range units {
		actor, ok := u.ResponsibleActor()
		if !ok {
			continue
		}
		switch {
		case u.StageID == review.ID && !u.ReworkOrigin:
			s := state(actor)
			s.OriginalUnits++
			if _, done := reviewed[u.ID]; done {
				s.ReviewedUnits++
			}
		case u.StageID == review.ID && u.Status == WorkUnitPending:
			s := state(actor)
			s.PendingRepairUnits++
			s.PendingRepairQuantity += u.Quantity
		case u.StageID == repair.ID && !repair.IsTerminal(u.Status):
			s := state(actor)
			s.PendingRepairUnits++
			s.PendingRepairQuantity += u.Quantity
		}
	}

	out := make([]ActorReviewState, 0, len(states))
	for _, s := range states {
		switch {
		case s.ReviewedUnits < s.OriginalUnits:
			s.State = ActorInProgress
		case s.PendingRepairUnits > 0:
			s.State = ActorPendingRepairs
		default:
			s.State = ActorComplete
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Actor.String() < out[j].Actor.String() })
	return out
}

// PlanResolveRepair closes a repair unit and returns its quantity to review
// as a new rework-origin unit of the same actor.
func PlanResolveRepair(order Order, c *Catalog, units []WorkUnit, unitID uuid.UUID, now time.Time) (ChangeSet, error) {
	if err := CheckMutable(order); err != nil {
		return ChangeSet{}, err
	}
	review, repair := c.Review(), c.Repair()
	if order.CurrentStageID != review.ID {
		return ChangeSet{}, apperr.Validation(fmt.Sprintf("order is not in stage %s", review.Code))
	}

	var unit *WorkUnit
	for i := range units {
		if units[i].ID == unitID {
			unit = &units[i]
			break
		}
	}
	if unit == nil || unit.StageID != repair.ID {
		return ChangeSet{}, apperr.NotFound(fmt.Sprintf("repair unit %s not found", unitID))
	}
	if repair.IsTerminal(unit.Status) {
		return ChangeSet{}, apperr.Conflict(fmt.Sprintf("repair unit %s is already resolved", unitID))
	}

	done := *unit
	done.Status = WorkUnitCompleted
	done.CompletedAt = timePtr(now)

	returned := WorkUnit{
		ID:           uuid.New(),
		OrderID:      unit.OrderID,
		ReferenceID:  unit.ReferenceID,
		SizeID:       unit.SizeID,
		Quantity:     unit.Quantity,
		StageID:      review.ID,
		Status:       WorkUnitPending,
		ReworkOrigin: true,
		ParentID:     uuidPtr(unit.ID),
		CreatedAt:    now,
	}
	if unit.WorkshopID != nil {
		returned.WorkshopID = uuidPtr(*unit.WorkshopID)
	}
	if unit.WorkerID != nil {
		returned.WorkerID = uuidPtr(*unit.WorkerID)
	}

	return ChangeSet{
		OrderID:         order.ID,
		ExpectedVersion: order.Version,
		At:              now,
		UpdatedUnits:    []WorkUnit{done},
		NewUnits:        []WorkUnit{returned},
		UnitHistory:     []WorkUnitHistoryEntry{unitHistory(done, now)},
	}, nil
}
