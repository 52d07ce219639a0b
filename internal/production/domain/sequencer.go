package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"atelier_backend/platform/apperr"
)

// AdvanceRequest is the caller's intent for a stage transition. Target may
// be empty when the current stage has a single successor.
type AdvanceRequest struct {
	TargetStageCode string
	Assignee        *Actor
	Notes           string
}

// AdvanceInput is the snapshot PlanAdvance works from.
type AdvanceInput struct {
	Order        Order
	Units        []WorkUnit
	Shortages    []ShortageRecord
	StageHistory []StageHistoryEntry
	Request      AdvanceRequest
	Now          time.Time
}

// AdvancePlan is the outcome of a transition: either a no-op (the order is
// already at the target) or a change set to commit.
type AdvancePlan struct {
	From           Stage
	To             Stage
	Noop           bool
	CompletesOrder bool
	Carried        []WorkUnit
	Changes        ChangeSet
}

// UnresolvedUnit names a unit blocking a transition.
type UnresolvedUnit struct {
	WorkUnitID  string         `json:"workUnitId"`
	StageCode   string         `json:"stageCode"`
	ReferenceID string         `json:"referenceId"`
	SizeID      string         `json:"sizeId"`
	Status      WorkUnitStatus `json:"status"`
}

// ResolveTarget picks the successor of current. Stages with branches demand
// an explicit choice among them. The returned bool is true when current is
// the last stage and advancing completes the order.
func ResolveTarget(c *Catalog, current Stage, targetCode string) (Stage, bool, error) {
	if len(current.Branches) > 0 {
		if targetCode == "" {
			return Stage{}, false, apperr.Validation(fmt.Sprintf("stage %s requires an explicit target: one of %v", current.Code, current.Branches))
		}
		if !current.HasBranch(targetCode) {
			return Stage{}, false, apperr.Validation(fmt.Sprintf("stage %s cannot be followed by %s", current.Code, targetCode))
		}
		target, _ := c.ByCode(targetCode)
		return target, false, nil
	}

	next, ok := c.Next(current)
	if !ok {
		if targetCode != "" && targetCode != string(OrderStatusCompleted) {
			return Stage{}, false, apperr.Validation(fmt.Sprintf("stage %s is the last stage", current.Code))
		}
		return Stage{}, true, nil
	}
	if targetCode != "" && targetCode != next.Code {
		return Stage{}, false, apperr.Validation(fmt.Sprintf("stage %s cannot be followed by %s, expected %s", current.Code, targetCode, next.Code))
	}
	return next, false, nil
}

// CheckStageReady fails with StageNotReady while any unit of stage is not
// terminal. Leaving review additionally requires every repair to be
// resolved.
func CheckStageReady(c *Catalog, stage Stage, units []WorkUnit) error {
	repair := c.Repair()
	var blocking []UnresolvedUnit
	for _, u := range SortUnits(units) {
		switch {
		case u.StageID == stage.ID && !stage.IsTerminal(u.Status):
		case stage.Kind == StageKindReview && u.StageID == repair.ID && !repair.IsTerminal(u.Status):
		default:
			continue
		}
		code := stage.Code
		if u.StageID == repair.ID {
			code = repair.Code
		}
		blocking = append(blocking, UnresolvedUnit{
			WorkUnitID:  u.ID.String(),
			StageCode:   code,
			ReferenceID: u.ReferenceID.String(),
			SizeID:      u.SizeID.String(),
			Status:      u.Status,
		})
	}
	if len(blocking) == 0 {
		return nil
	}
	return apperr.StageNotReady(fmt.Sprintf("stage %s has %d unresolved work units", stage.Code, len(blocking))).
		WithDetails(blocking)
}

// CarryForward creates the units of an inheriting stage from the terminal,
// non-rework units of the previous stage. Quantities are reduced by any
// recorded shortage; units left with nothing are not carried.
func CarryForward(from, to Stage, units []WorkUnit, shortages []ShortageRecord, now time.Time) []WorkUnit {
	missing := make(map[uuid.UUID]int, len(shortages))
	for _, s := range shortages {
		missing[s.WorkUnitID] += s.MissingQuantity
	}

	var carried []WorkUnit
	for _, u := range SortUnits(units) {
		if u.StageID != from.ID || u.ReworkOrigin || !from.IsTerminal(u.Status) {
			continue
		}
		qty := u.Quantity - missing[u.ID]
		if qty <= 0 {
			continue
		}
		next := WorkUnit{
			ID:          uuid.New(),
			OrderID:     u.OrderID,
			ReferenceID: u.ReferenceID,
			SizeID:      u.SizeID,
			Quantity:    qty,
			StageID:     to.ID,
			Status:      WorkUnitPending,
			ParentID:    uuidPtr(u.ID),
			CreatedAt:   now,
		}
		if u.WorkshopID != nil {
			next.WorkshopID = uuidPtr(*u.WorkshopID)
		} else if u.WorkerID != nil {
			next.WorkerID = uuidPtr(*u.WorkerID)
		}
		carried = append(carried, next)
	}
	return carried
}

// PlanAdvance validates a transition and builds its change set. Requesting
// the stage the order is already in is a successful no-op.
func PlanAdvance(c *Catalog, in AdvanceInput) (AdvancePlan, error) {
	order := in.Order
	if err := CheckMutable(order); err != nil {
		return AdvancePlan{}, err
	}
	from, ok := c.ByID(order.CurrentStageID)
	if !ok {
		return AdvancePlan{}, apperr.Internal(fmt.Sprintf("order %s is in unknown stage %s", order.ID, order.CurrentStageID))
	}
	if in.Request.TargetStageCode != "" && in.Request.TargetStageCode == from.Code {
		return AdvancePlan{From: from, To: from, Noop: true}, nil
	}

	to, completes, err := ResolveTarget(c, from, in.Request.TargetStageCode)
	if err != nil {
		return AdvancePlan{}, err
	}
	if err := CheckStageReady(c, from, in.Units); err != nil {
		return AdvancePlan{}, err
	}

	plan := AdvancePlan{From: from, To: to, CompletesOrder: completes}
	cs := ChangeSet{OrderID: order.ID, ExpectedVersion: order.Version, At: in.Now}

	if open := openStageHistory(in.StageHistory, from.ID); open != nil {
		cs.CloseStageHistoryID = uuidPtr(open.ID)
	}

	if completes {
		status := OrderStatusCompleted
		cs.Status = &status
		plan.Changes = cs
		return plan, nil
	}

	entry := StageHistoryEntry{
		ID:        uuid.New(),
		OrderID:   order.ID,
		StageID:   to.ID,
		StartedAt: in.Now,
		Notes:     in.Request.Notes,
	}
	if a := in.Request.Assignee; a != nil {
		if a.Kind != to.RequiredActorKind() {
			return AdvancePlan{}, apperr.Validation(fmt.Sprintf("stage %s is assigned to a %s, not a %s", to.Code, to.RequiredActorKind(), a.Kind))
		}
		if a.Kind == ActorKindWorkshop {
			entry.WorkshopID = uuidPtr(a.ID)
		} else {
			entry.WorkerID = uuidPtr(a.ID)
		}
	}

	status := OrderStatusActive
	cs.Status = &status
	cs.CurrentStageID = uuidPtr(to.ID)
	cs.OpenStageHistory = &entry

	if to.Inherit {
		plan.Carried = CarryForward(from, to, in.Units, in.Shortages, in.Now)
		cs.NewUnits = plan.Carried
	}
	plan.Changes = cs
	return plan, nil
}

func openStageHistory(history []StageHistoryEntry, stageID uuid.UUID) *StageHistoryEntry {
	var latest *StageHistoryEntry
	for i := range history {
		h := &history[i]
		if h.StageID != stageID || h.CompletedAt != nil {
			continue
		}
		if latest == nil || h.StartedAt.After(latest.StartedAt) {
			latest = h
		}
	}
	return latest
}

// SortUnits returns units ordered by creation time, then ID.
func SortUnits(units []WorkUnit) []WorkUnit {
	out := make([]WorkUnit, len(units))
	copy(out, units)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
