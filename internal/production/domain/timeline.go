package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// TimelineInput is the full read of an order the timeline is rebuilt from.
type TimelineInput struct {
	Order        Order
	Stages       []Stage
	StageHistory []StageHistoryEntry
	UnitHistory  []WorkUnitHistoryEntry
	Units        []WorkUnit
	Shortages    []ShortageRecord
	Now          time.Time
}

// ActorTimeline is one actor's work inside a stage.
type ActorTimeline struct {
	Actor          Actor         `json:"actor"`
	StartedAt      time.Time     `json:"startedAt"`
	CompletedAt    *time.Time    `json:"completedAt,omitempty"`
	Closed         bool          `json:"closed"`
	Duration       time.Duration `json:"duration"`
	Quantity       int           `json:"quantity"`
	Units          int           `json:"units"`
	ReworkQuantity int           `json:"reworkQuantity"`
}

// ProducerShortage attributes missing product to the actor that shipped it.
type ProducerShortage struct {
	Actor   Actor `json:"actor"`
	Missing int   `json:"missing"`
}

// StageTimeline is the reconstructed state of one stage.
type StageTimeline struct {
	Stage             Stage              `json:"stage"`
	Active            bool               `json:"active"`
	Completed         bool               `json:"completed"`
	Skipped           bool               `json:"skipped"`
	StartedAt         *time.Time         `json:"startedAt,omitempty"`
	EndedAt           *time.Time         `json:"endedAt,omitempty"`
	Duration          time.Duration      `json:"duration"`
	Quantity          int                `json:"quantity"`
	ReworkQuantity    int                `json:"reworkQuantity"`
	Shortage          int                `json:"shortage"`
	ProducerShortages []ProducerShortage `json:"producerShortages,omitempty"`
	Actors            []ActorTimeline    `json:"actors"`
}

// Timeline is the per-stage view of an order at one version.
type Timeline struct {
	OrderID     uuid.UUID       `json:"orderId"`
	Version     int64           `json:"version"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Stages      []StageTimeline `json:"stages"`
}

// span is one occupancy interval attributed to a stage. unit is uuid.Nil
// for order-level history rows; actor is nil when the row counts toward
// the stage but has no actor of the stage's kind.
type span struct {
	actor *Actor
	unit  uuid.UUID
	start time.Time
	end   *time.Time
}

// BuildTimeline reconstructs every stage from the order's history and live
// units. A unit is counted once per stage and once per actor no matter how
// many rows mention it; rework-origin units are shown but never totalled.
func BuildTimeline(in TimelineInput) Timeline {
	units := make(map[uuid.UUID]WorkUnit, len(in.Units))
	for _, u := range in.Units {
		units[u.ID] = u
	}

	stages := append([]Stage(nil), in.Stages...)
	sort.SliceStable(stages, func(i, j int) bool {
		if stages[i].Sequenced() != stages[j].Sequenced() {
			return stages[i].Sequenced()
		}
		return stages[i].OrderIndex < stages[j].OrderIndex
	})
	branchTargets := make(map[string]struct{})
	var current Stage
	for _, s := range stages {
		for _, b := range s.Branches {
			branchTargets[b] = struct{}{}
		}
		if s.ID == in.Order.CurrentStageID {
			current = s
		}
	}

	spans := make(map[uuid.UUID][]span, len(stages))
	for _, s := range stages {
		spans[s.ID] = nil
	}
	byStage := make(map[uuid.UUID]Stage, len(stages))
	for _, s := range stages {
		byStage[s.ID] = s
	}

	for _, h := range in.StageHistory {
		s, ok := byStage[h.StageID]
		if !ok {
			continue
		}
		actor, keep := historyActor(s, h)
		if !keep {
			continue
		}
		spans[s.ID] = append(spans[s.ID], span{actor: actor, start: h.StartedAt, end: h.CompletedAt})
	}
	for _, h := range in.UnitHistory {
		s, ok := byStage[h.StageID]
		u, known := units[h.WorkUnitID]
		if !ok || !known {
			continue
		}
		spans[s.ID] = append(spans[s.ID], span{actor: unitActor(s, u), unit: u.ID, start: h.StartedAt, end: h.CompletedAt})
	}
	for _, u := range SortUnits(in.Units) {
		s, ok := byStage[u.StageID]
		if !ok {
			continue
		}
		var end *time.Time
		if s.IsTerminal(u.Status) {
			end = u.CompletedAt
			if end == nil {
				end = timePtr(u.CreatedAt)
			}
		}
		spans[s.ID] = append(spans[s.ID], span{actor: unitActor(s, u), unit: u.ID, start: u.CreatedAt, end: end})
	}

	missing := make(map[uuid.UUID]int)
	for _, sh := range in.Shortages {
		missing[sh.WorkUnitID] += sh.MissingQuantity
	}

	tl := Timeline{OrderID: in.Order.ID, Version: in.Order.Version, GeneratedAt: in.Now}
	for _, s := range stages {
		rows := spans[s.ID]
		if !s.Sequenced() && len(rows) == 0 {
			continue
		}
		st := stageTimeline(s, rows, units, in.Now)

		isCurrent := s.ID == in.Order.CurrentStageID
		past := s.Sequenced() && current.Sequenced() && s.OrderIndex < current.OrderIndex
		if isCurrent && in.Order.Status == OrderStatusCompleted {
			past = true
		}
		open := st.EndedAt == nil && len(rows) > 0

		switch {
		case !s.Sequenced():
			st.Active = open
			st.Completed = !open
		default:
			st.Active = isCurrent && !in.Order.Status.IsTerminal()
			_, isBranch := branchTargets[s.Code]
			st.Skipped = past && len(rows) == 0 && isBranch
			st.Completed = past && !open && !st.Skipped
		}
		if st.StartedAt != nil {
			if st.Active || open || st.EndedAt == nil {
				st.Duration = in.Now.Sub(*st.StartedAt)
			} else {
				st.Duration = st.EndedAt.Sub(*st.StartedAt)
			}
		}

		if s.Kind == StageKindReception {
			st.Shortage, st.ProducerShortages = receptionShortages(s, units, missing)
		}
		tl.Stages = append(tl.Stages, st)
	}
	return tl
}

// At re-measures the open intervals of tl against now. Closed stages and
// actors keep their recorded durations.
func (tl Timeline) At(now time.Time) Timeline {
	out := tl
	out.GeneratedAt = now
	out.Stages = make([]StageTimeline, len(tl.Stages))
	for i, st := range tl.Stages {
		if st.StartedAt != nil && (st.Active || st.EndedAt == nil) {
			st.Duration = now.Sub(*st.StartedAt)
		}
		actors := make([]ActorTimeline, len(st.Actors))
		for j, a := range st.Actors {
			if !a.Closed {
				a.Duration = now.Sub(a.StartedAt)
			}
			actors[j] = a
		}
		st.Actors = actors
		out.Stages[i] = st
	}
	return out
}

func stageTimeline(s Stage, rows []span, units map[uuid.UUID]WorkUnit, now time.Time) StageTimeline {
	st := StageTimeline{Stage: s, Actors: []ActorTimeline{}}
	counted := make(map[uuid.UUID]struct{})
	open := false
	var start, end *time.Time

	type actorAcc struct {
		entry ActorTimeline
		units map[uuid.UUID]struct{}
		open  bool
		end   *time.Time
	}
	actors := make(map[Actor]*actorAcc)
	var order []Actor

	for _, r := range rows {
		if start == nil || r.start.Before(*start) {
			start = timePtr(r.start)
		}
		if r.end == nil {
			open = true
		} else if end == nil || r.end.After(*end) {
			end = timePtr(*r.end)
		}

		if r.unit != uuid.Nil {
			if _, seen := counted[r.unit]; !seen {
				counted[r.unit] = struct{}{}
				u := units[r.unit]
				if u.ReworkOrigin {
					st.ReworkQuantity += u.Quantity
				} else {
					st.Quantity += u.Quantity
				}
			}
		}

		if r.actor == nil {
			continue
		}
		acc, ok := actors[*r.actor]
		if !ok {
			acc = &actorAcc{entry: ActorTimeline{Actor: *r.actor, StartedAt: r.start}, units: make(map[uuid.UUID]struct{})}
			actors[*r.actor] = acc
			order = append(order, *r.actor)
		}
		if r.start.Before(acc.entry.StartedAt) {
			acc.entry.StartedAt = r.start
		}
		if r.end == nil {
			acc.open = true
		} else if acc.end == nil || r.end.After(*acc.end) {
			acc.end = timePtr(*r.end)
		}
		if r.unit != uuid.Nil {
			if _, seen := acc.units[r.unit]; !seen {
				acc.units[r.unit] = struct{}{}
				u := units[r.unit]
				if u.ReworkOrigin {
					acc.entry.ReworkQuantity += u.Quantity
				} else {
					acc.entry.Quantity += u.Quantity
					acc.entry.Units++
				}
			}
		}
	}

	hasReal := false
	for _, a := range order {
		if a.Kind != ActorKindAdmin {
			hasReal = true
			break
		}
	}
	for _, a := range order {
		if a.Kind == ActorKindAdmin && hasReal {
			continue
		}
		acc := actors[a]
		e := acc.entry
		if acc.open || acc.end == nil {
			e.Duration = now.Sub(e.StartedAt)
		} else {
			e.Closed = true
			e.CompletedAt = acc.end
			e.Duration = acc.end.Sub(e.StartedAt)
		}
		st.Actors = append(st.Actors, e)
	}
	sort.SliceStable(st.Actors, func(i, j int) bool {
		if !st.Actors[i].StartedAt.Equal(st.Actors[j].StartedAt) {
			return st.Actors[i].StartedAt.Before(st.Actors[j].StartedAt)
		}
		return st.Actors[i].Actor.String() < st.Actors[j].Actor.String()
	})

	st.StartedAt = start
	if !open {
		st.EndedAt = end
	}
	return st
}

// historyActor resolves the actor of an order-level row. Workshop stages
// only accept workshops and every other stage only workers; a row carrying
// just the other kind is dropped. A row with neither is administrative.
func historyActor(s Stage, h StageHistoryEntry) (*Actor, bool) {
	if s.WorkshopProduction() {
		if h.WorkshopID != nil {
			a := WorkshopActor(*h.WorkshopID)
			return &a, true
		}
		if h.WorkerID != nil {
			return nil, false
		}
	} else {
		if h.WorkerID != nil {
			a := WorkerActor(*h.WorkerID)
			return &a, true
		}
		if h.WorkshopID != nil {
			return nil, false
		}
	}
	a := AdministrativeActor
	return &a, true
}

// unitActor resolves the actor a unit is credited to inside s, or nil when
// the unit carries no actor of the kind s accepts.
func unitActor(s Stage, u WorkUnit) *Actor {
	if s.WorkshopProduction() {
		if u.WorkshopID == nil {
			return nil
		}
		a := WorkshopActor(*u.WorkshopID)
		return &a
	}
	if u.WorkerID == nil {
		return nil
	}
	a := WorkerActor(*u.WorkerID)
	return &a
}

func receptionShortages(s Stage, units map[uuid.UUID]WorkUnit, missing map[uuid.UUID]int) (int, []ProducerShortage) {
	total := 0
	byProducer := make(map[Actor]int)
	for id, qty := range missing {
		u, ok := units[id]
		if !ok || u.StageID != s.ID {
			continue
		}
		total += qty
		if u.WorkshopID != nil {
			byProducer[WorkshopActor(*u.WorkshopID)] += qty
		}
	}
	out := make([]ProducerShortage, 0, len(byProducer))
	for a, qty := range byProducer {
		out = append(out, ProducerShortage{Actor: a, Missing: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Actor.String() < out[j].Actor.String() })
	return total, out
}
