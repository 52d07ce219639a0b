package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"atelier_backend/platform/apperr"
)

// Bucket is one of the three review outcomes.
type Bucket string

const (
	BucketApproved Bucket = "approved"
	BucketRepair   Bucket = "repair"
	BucketDiscard  Bucket = "discard"
)

func (b Bucket) Valid() bool {
	return b == BucketApproved || b == BucketRepair || b == BucketDiscard
}

// GroupKey identifies the units one actor produced for one
// (reference, size).
type GroupKey struct {
	ReferenceID uuid.UUID `json:"referenceId"`
	SizeID      uuid.UUID `json:"sizeId"`
	Actor       Actor     `json:"actor"`
}

func (k GroupKey) Line() LineKey {
	return LineKey{ReferenceID: k.ReferenceID, SizeID: k.SizeID}
}

// ReviewGroup is a group of review-stage units, ordered by creation.
type ReviewGroup struct {
	Key   GroupKey
	Units []WorkUnit
}

// Pending reports whether any unit of the group still awaits inspection.
func (g ReviewGroup) Pending() bool {
	for _, u := range g.Units {
		if u.Status == WorkUnitPending {
			return true
		}
	}
	return false
}

// split separates the units awaiting inspection from those already
// reviewed. Rework-origin units returned from repair rejoin a group after
// its originals were confirmed.
func (g ReviewGroup) split() (ReviewGroup, map[uuid.UUID]struct{}) {
	pending := ReviewGroup{Key: g.Key}
	reviewed := make(map[uuid.UUID]struct{})
	for _, u := range g.Units {
		if u.Status == WorkUnitPending {
			pending.Units = append(pending.Units, u)
		} else {
			reviewed[u.ID] = struct{}{}
		}
	}
	return pending, reviewed
}

// Draft is the unsaved split of one unit under review.
type Draft struct {
	WorkUnitID   uuid.UUID `json:"workUnitId"`
	Assigned     int       `json:"assigned"`
	ReworkOrigin bool      `json:"reworkOrigin"`
	Approved     int       `json:"approved"`
	Repair       int       `json:"repair"`
	Discard      int       `json:"discard"`
}

func (d Draft) Sum() int { return d.Approved + d.Repair + d.Discard }

// Valid reports whether the draft conserves the assigned quantity.
func (d Draft) Valid() bool {
	return d.Approved >= 0 && d.Repair >= 0 && d.Discard >= 0 && d.Sum() == d.Assigned
}

func (d Draft) get(b Bucket) int {
	switch b {
	case BucketRepair:
		return d.Repair
	case BucketDiscard:
		return d.Discard
	default:
		return d.Approved
	}
}

func (d *Draft) set(b Bucket, v int) {
	switch b {
	case BucketRepair:
		d.Repair = v
	case BucketDiscard:
		d.Discard = v
	default:
		d.Approved = v
	}
}

// GroupTotals sums a group's drafts, leaving rework-origin units out.
type GroupTotals struct {
	Assigned int `json:"assigned"`
	Approved int `json:"approved"`
	Repair   int `json:"repair"`
	Discard  int `json:"discard"`
}

// GroupReviewUnits groups the units of the review stage by (reference,
// size, responsible actor).
func GroupReviewUnits(units []WorkUnit, review Stage) []ReviewGroup {
	index := make(map[GroupKey]int)
	var groups []ReviewGroup
	for _, u := range SortUnits(units) {
		if u.StageID != review.ID {
			continue
		}
		actor, ok := u.ResponsibleActor()
		if !ok {
			actor = AdministrativeActor
		}
		key := GroupKey{ReferenceID: u.ReferenceID, SizeID: u.SizeID, Actor: actor}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, ReviewGroup{Key: key})
		}
		groups[i].Units = append(groups[i].Units, u)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i].Key, groups[j].Key
		if a.Actor.String() != b.Actor.String() {
			return a.Actor.String() < b.Actor.String()
		}
		if a.ReferenceID != b.ReferenceID {
			return a.ReferenceID.String() < b.ReferenceID.String()
		}
		return a.SizeID.String() < b.SizeID.String()
	})
	return groups
}

// FindGroup returns the group with key.
func FindGroup(groups []ReviewGroup, key GroupKey) (ReviewGroup, bool) {
	for _, g := range groups {
		if g.Key == key {
			return g, true
		}
	}
	return ReviewGroup{}, false
}

// DefaultDrafts starts every unit as fully approved, or from its committed
// outcome when it was already reviewed.
func DefaultDrafts(g ReviewGroup, outcomes map[uuid.UUID]ReviewOutcome) []Draft {
	drafts := make([]Draft, 0, len(g.Units))
	for _, u := range g.Units {
		d := Draft{WorkUnitID: u.ID, Assigned: u.Quantity, ReworkOrigin: u.ReworkOrigin, Approved: u.Quantity}
		if o, ok := outcomes[u.ID]; ok {
			d.Approved, d.Repair, d.Discard = o.Approved, o.Repair, o.Discard
		}
		drafts = append(drafts, d)
	}
	return drafts
}

// AlignDrafts orders caller-supplied drafts by the group's units, filling
// gaps with defaults. Assigned and ReworkOrigin always come from the units.
func AlignDrafts(g ReviewGroup, drafts []Draft) ([]Draft, error) {
	supplied := make(map[uuid.UUID]Draft, len(drafts))
	for _, d := range drafts {
		supplied[d.WorkUnitID] = d
	}
	out := DefaultDrafts(g, nil)
	for i := range out {
		d, ok := supplied[out[i].WorkUnitID]
		if !ok {
			continue
		}
		delete(supplied, out[i].WorkUnitID)
		out[i].Approved, out[i].Repair, out[i].Discard = d.Approved, d.Repair, d.Discard
	}
	for id := range supplied {
		return nil, apperr.Validation(fmt.Sprintf("work unit %s is not part of the review group", id))
	}
	return out, nil
}

// Distribute spreads total over units in order: each unit but the last gets
// at most its assigned quantity, the last takes whatever remains, even when
// that exceeds its own assignment.
func Distribute(assigned []int, total int) []int {
	out := make([]int, len(assigned))
	remaining := total
	for i, a := range assigned {
		if i == len(assigned)-1 {
			out[i] = remaining
			break
		}
		take := min(a, remaining)
		if take < 0 {
			take = 0
		}
		out[i] = take
		remaining -= take
	}
	return out
}

// Rebalance restores conservation after bucket edited changed. The edited
// bucket is never touched; the others absorb the difference.
func Rebalance(d Draft, edited Bucket) Draft {
	if edited == BucketApproved {
		diff := d.Assigned - d.Sum()
		if diff >= 0 {
			d.Repair += diff
			return d
		}
		overflow := -diff
		overflow = drain(&d, BucketRepair, overflow)
		drain(&d, BucketDiscard, overflow)
		return d
	}

	other := BucketDiscard
	if edited == BucketDiscard {
		other = BucketRepair
	}
	overflow := d.Sum() - d.Assigned
	if overflow > 0 {
		overflow = drain(&d, other, overflow)
		drain(&d, BucketApproved, overflow)
	} else if overflow < 0 {
		d.Approved += -overflow
	}
	return d
}

// drain takes up to amount from bucket b, never below zero, and returns
// what is left to take.
func drain(d *Draft, b Bucket, amount int) int {
	have := d.get(b)
	if have <= 0 || amount <= 0 {
		return amount
	}
	take := min(have, amount)
	d.set(b, have-take)
	return amount - take
}

// SetUnitBucket edits one unit's bucket and rebalances the rest of it.
// Rework-origin units are editable here.
func SetUnitBucket(drafts []Draft, unitID uuid.UUID, b Bucket, qty int) ([]Draft, error) {
	if !b.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("unknown bucket %q", b))
	}
	if qty < 0 {
		return nil, apperr.Validation("bucket quantity cannot be negative")
	}
	out := append([]Draft(nil), drafts...)
	for i := range out {
		if out[i].WorkUnitID != unitID {
			continue
		}
		out[i].set(b, qty)
		out[i] = Rebalance(out[i], b)
		return out, nil
	}
	return nil, apperr.NotFound(fmt.Sprintf("work unit %s is not part of the review group", unitID))
}

// ApplyGroupEdit sets a group-level total for one bucket, distributing it
// over the group's original units and rebalancing each of them.
func ApplyGroupEdit(drafts []Draft, b Bucket, qty int) ([]Draft, error) {
	if !b.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("unknown bucket %q", b))
	}
	if qty < 0 {
		return nil, apperr.Validation("bucket quantity cannot be negative")
	}
	out := append([]Draft(nil), drafts...)
	var idx, assigned []int
	for i, d := range out {
		if d.ReworkOrigin {
			continue
		}
		idx = append(idx, i)
		assigned = append(assigned, d.Assigned)
	}
	if len(idx) == 0 {
		return nil, apperr.Validation("group has no original units to distribute over")
	}
	for k, v := range Distribute(assigned, qty) {
		d := &out[idx[k]]
		d.set(b, v)
		*d = Rebalance(*d, b)
	}
	return out, nil
}

// Totals sums drafts excluding rework-origin units.
func Totals(drafts []Draft) GroupTotals {
	var t GroupTotals
	for _, d := range drafts {
		if d.ReworkOrigin {
			continue
		}
		t.Assigned += d.Assigned
		t.Approved += d.Approved
		t.Repair += d.Repair
		t.Discard += d.Discard
	}
	return t
}

// InvalidDraft names a unit whose buckets do not conserve its quantity.
type InvalidDraft struct {
	ReferenceID string `json:"referenceId"`
	SizeID      string `json:"sizeId"`
	WorkUnitID  string `json:"workUnitId"`
	Assigned    int    `json:"assigned"`
	Approved    int    `json:"approved"`
	Repair      int    `json:"repair"`
	Discard     int    `json:"discard"`
}

// ValidateDrafts fails when any unit's buckets are negative or do not sum
// to its assigned quantity.
func ValidateDrafts(g ReviewGroup, drafts []Draft) error {
	var invalid []InvalidDraft
	for _, d := range drafts {
		if d.Valid() {
			continue
		}
		invalid = append(invalid, InvalidDraft{
			ReferenceID: g.Key.ReferenceID.String(),
			SizeID:      g.Key.SizeID.String(),
			WorkUnitID:  d.WorkUnitID.String(),
			Assigned:    d.Assigned,
			Approved:    d.Approved,
			Repair:      d.Repair,
			Discard:     d.Discard,
		})
	}
	if len(invalid) == 0 {
		return nil
	}
	first := invalid[0]
	return apperr.Validation(fmt.Sprintf("%s: work unit %s has approved %d + repair %d + discard %d, expected %d",
		g.Key.Line(), first.WorkUnitID, first.Approved, first.Repair, first.Discard, first.Assigned)).
		WithDetails(invalid)
}

// PlanConfirmGroup commits the drafts of a group's pending units: one
// outcome per unit, every unit completed by the reviewer, and one
// rework-origin repair unit for each nonzero repair bucket, owned by the
// same responsible actor. Drafts of already reviewed units are ignored.
// Units nobody is responsible for can be approved or discarded but not sent
// to repair, since the repair would have no owner to track it.
func PlanConfirmGroup(order Order, g ReviewGroup, drafts []Draft, repair Stage, reviewer uuid.UUID, now time.Time) (ChangeSet, error) {
	if err := CheckMutable(order); err != nil {
		return ChangeSet{}, err
	}
	if reviewer == uuid.Nil {
		return ChangeSet{}, apperr.Validation("reviewer is required")
	}
	pending, reviewed := g.split()
	if len(pending.Units) == 0 {
		return ChangeSet{}, apperr.Conflict(fmt.Sprintf("%s for %s was already reviewed", g.Key.Line(), g.Key.Actor))
	}
	var open []Draft
	for _, d := range drafts {
		if _, done := reviewed[d.WorkUnitID]; !done {
			open = append(open, d)
		}
	}
	aligned, err := AlignDrafts(pending, open)
	if err != nil {
		return ChangeSet{}, err
	}
	if err := ValidateDrafts(pending, aligned); err != nil {
		return ChangeSet{}, err
	}
	if owner := g.Key.Actor.Kind; owner != ActorKindWorkshop && owner != ActorKindWorker {
		for _, d := range aligned {
			if d.Repair > 0 {
				return ChangeSet{}, apperr.Validation(fmt.Sprintf("%s has no responsible workshop or worker: repairs cannot be assigned", g.Key.Line())).
					WithDetails([]string{d.WorkUnitID.String()})
			}
		}
	}

	cs := ChangeSet{OrderID: order.ID, ExpectedVersion: order.Version, At: now}
	for i, u := range pending.Units {
		d := aligned[i]
		cs.Outcomes = append(cs.Outcomes, ReviewOutcome{
			WorkUnitID: u.ID,
			Approved:   d.Approved,
			Repair:     d.Repair,
			Discard:    d.Discard,
			ReviewedBy: reviewer,
			ReviewedAt: now,
		})

		done := u
		done.Status = WorkUnitCompleted
		done.CompletedAt = timePtr(now)
		if done.WorkshopID != nil {
			done.WorkerID = uuidPtr(reviewer)
		}
		cs.UpdatedUnits = append(cs.UpdatedUnits, done)
		cs.UnitHistory = append(cs.UnitHistory, unitHistory(done, now))

		if d.Repair == 0 {
			continue
		}
		ru := WorkUnit{
			ID:           uuid.New(),
			OrderID:      u.OrderID,
			ReferenceID:  u.ReferenceID,
			SizeID:       u.SizeID,
			Quantity:     d.Repair,
			StageID:      repair.ID,
			Status:       WorkUnitPending,
			ReworkOrigin: true,
			ParentID:     uuidPtr(u.ID),
			CreatedAt:    now,
		}
		switch g.Key.Actor.Kind {
		case ActorKindWorkshop:
			ru.WorkshopID = uuidPtr(g.Key.Actor.ID)
		case ActorKindWorker:
			ru.WorkerID = uuidPtr(g.Key.Actor.ID)
		}
		cs.NewUnits = append(cs.NewUnits, ru)
	}
	return cs, nil
}

// GroupDrafts pairs a group with the caller's drafts for it.
type GroupDrafts struct {
	Key    GroupKey
	Drafts []Draft
}

// PlanConfirmActor confirms every pending group of actor in one change set.
// Groups without supplied drafts are confirmed fully approved.
func PlanConfirmActor(order Order, groups []ReviewGroup, actor Actor, supplied []GroupDrafts, repair Stage, reviewer uuid.UUID, now time.Time) (ChangeSet, error) {
	byKey := make(map[GroupKey][]Draft, len(supplied))
	for _, s := range supplied {
		if s.Key.Actor != actor {
			return ChangeSet{}, apperr.Validation(fmt.Sprintf("group %s belongs to %s", s.Key.Line(), s.Key.Actor))
		}
		byKey[s.Key] = s.Drafts
	}

	cs := ChangeSet{OrderID: order.ID, ExpectedVersion: order.Version, At: now}
	confirmed := 0
	for _, g := range groups {
		if g.Key.Actor != actor {
			continue
		}
		drafts, given := byKey[g.Key]
		delete(byKey, g.Key)
		if !g.Pending() {
			if given {
				return ChangeSet{}, apperr.Conflict(fmt.Sprintf("%s for %s was already reviewed", g.Key.Line(), actor))
			}
			continue
		}
		part, err := PlanConfirmGroup(order, g, drafts, repair, reviewer, now)
		if err != nil {
			return ChangeSet{}, err
		}
		cs.Merge(part)
		confirmed++
	}
	for key := range byKey {
		return ChangeSet{}, apperr.NotFound(fmt.Sprintf("no review group %s for %s", key.Line(), actor))
	}
	if confirmed == 0 {
		return ChangeSet{}, apperr.Conflict(fmt.Sprintf("%s has no groups awaiting review", actor))
	}
	return cs, nil
}
