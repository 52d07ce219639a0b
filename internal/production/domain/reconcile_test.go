package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"atelier_backend/platform/apperr"
)

func TestDistribute(t *testing.T) {
	cases := []struct {
		assigned []int
		total    int
		want     []int
	}{
		{[]int{10, 15, 25}, 40, []int{10, 15, 15}},
		{[]int{10, 15, 25}, 50, []int{10, 15, 25}},
		{[]int{10, 15, 25}, 60, []int{10, 15, 35}},
		{[]int{10, 15, 25}, 5, []int{5, 0, 0}},
		{[]int{10, 15, 25}, 0, []int{0, 0, 0}},
		{[]int{7}, 3, []int{3}},
	}
	for _, tc := range cases {
		got := Distribute(tc.assigned, tc.total)
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Errorf("Distribute(%v, %d) = %v, want %v", tc.assigned, tc.total, got, tc.want)
				break
			}
		}
	}
}

func TestRebalance(t *testing.T) {
	cases := []struct {
		name   string
		in     Draft
		edited Bucket
		want   Draft
	}{
		{
			name:   "lower approved feeds repair",
			in:     Draft{Assigned: 25, Approved: 15},
			edited: BucketApproved,
			want:   Draft{Assigned: 25, Approved: 15, Repair: 10},
		},
		{
			name:   "raised approved drains repair then discard",
			in:     Draft{Assigned: 20, Approved: 18, Repair: 3, Discard: 4},
			edited: BucketApproved,
			want:   Draft{Assigned: 20, Approved: 18, Repair: 0, Discard: 2},
		},
		{
			name:   "approved above assigned is left for validation",
			in:     Draft{Assigned: 10, Approved: 12, Repair: 1},
			edited: BucketApproved,
			want:   Draft{Assigned: 10, Approved: 12},
		},
		{
			name:   "repair takes from discard before approved",
			in:     Draft{Assigned: 20, Approved: 14, Repair: 8, Discard: 6},
			edited: BucketRepair,
			want:   Draft{Assigned: 20, Approved: 12, Repair: 8, Discard: 0},
		},
		{
			name:   "lower discard returns to approved",
			in:     Draft{Assigned: 20, Approved: 10, Repair: 5, Discard: 2},
			edited: BucketDiscard,
			want:   Draft{Assigned: 20, Approved: 13, Repair: 5, Discard: 2},
		},
		{
			name:   "discard takes from repair before approved",
			in:     Draft{Assigned: 20, Approved: 15, Repair: 5, Discard: 8},
			edited: BucketDiscard,
			want:   Draft{Assigned: 20, Approved: 12, Repair: 0, Discard: 8},
		},
		{
			name:   "edited bucket is never clamped",
			in:     Draft{Assigned: 10, Approved: 10, Repair: 15},
			edited: BucketRepair,
			want:   Draft{Assigned: 10, Approved: 0, Repair: 15},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Rebalance(tc.in, tc.edited); got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func reviewGroup(t *testing.T, c *Catalog, actor uuid.UUID, sizes []uuid.UUID, qtys []int) ReviewGroup {
	t.Helper()
	review := c.Review()
	var units []WorkUnit
	for i := range qtys {
		units = append(units, withWorkshop(unitAt(review, sizes[i], qtys[i], t0.Add(time.Duration(i)*time.Minute)), actor))
	}
	groups := GroupReviewUnits(units, review)
	if len(groups) != 1 {
		t.Fatalf("expected one group, got %d", len(groups))
	}
	return groups[0]
}

func TestGroupEditDistributesApprovedInOrder(t *testing.T) {
	c := mustCatalog(t)
	g := reviewGroup(t, c, workshopA, []uuid.UUID{sizeM, sizeM, sizeM}, []int{10, 15, 25})

	drafts, err := ApplyGroupEdit(DefaultDrafts(g, nil), BucketApproved, 40)
	if err != nil {
		t.Fatalf("group edit: %v", err)
	}
	want := []Draft{
		{Approved: 10, Repair: 0},
		{Approved: 15, Repair: 0},
		{Approved: 15, Repair: 10},
	}
	for i, w := range want {
		if drafts[i].Approved != w.Approved || drafts[i].Repair != w.Repair || drafts[i].Discard != 0 {
			t.Errorf("unit %d = %+v, want approved %d repair %d", i, drafts[i], w.Approved, w.Repair)
		}
	}
	totals := Totals(drafts)
	if totals.Assigned != 50 || totals.Approved != 40 || totals.Repair != 10 {
		t.Errorf("totals = %+v", totals)
	}

	cs, err := PlanConfirmGroup(orderAt(c.Review()), g, drafts, c.Repair(), workerBeto, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(cs.NewUnits) != 1 || cs.NewUnits[0].Quantity != 10 || *cs.NewUnits[0].ParentID != g.Units[2].ID {
		t.Fatalf("expected one repair unit of 10 for the last unit, got %+v", cs.NewUnits)
	}
}

func TestGroupEditSkipsReworkUnits(t *testing.T) {
	c := mustCatalog(t)
	review := c.Review()
	original := withWorkshop(unitAt(review, sizeM, 10, t0), workshopA)
	rework := withWorkshop(unitAt(review, sizeM, 4, t0.Add(time.Minute)), workshopA)
	rework.ReworkOrigin = true
	g := GroupReviewUnits([]WorkUnit{rework, original}, review)[0]

	drafts, err := ApplyGroupEdit(DefaultDrafts(g, nil), BucketDiscard, 3)
	if err != nil {
		t.Fatalf("group edit: %v", err)
	}
	if drafts[0].Discard != 3 || drafts[0].Approved != 7 {
		t.Errorf("original unit = %+v", drafts[0])
	}
	if drafts[1].Discard != 0 || drafts[1].Approved != 4 {
		t.Errorf("rework unit must be untouched, got %+v", drafts[1])
	}
	if tot := Totals(drafts); tot.Assigned != 10 {
		t.Errorf("rework units must stay out of totals, got %+v", tot)
	}

	drafts, err = SetUnitBucket(drafts, rework.ID, BucketRepair, 1)
	if err != nil {
		t.Fatalf("unit edit: %v", err)
	}
	if drafts[1].Repair != 1 || drafts[1].Approved != 3 {
		t.Errorf("rework unit remains editable on its own, got %+v", drafts[1])
	}
}

func TestConfirmSpawnsRepairForSingleWorkshop(t *testing.T) {
	c := mustCatalog(t)
	g := reviewGroup(t, c, workshopA, []uuid.UUID{sizeM}, []int{100})
	unitID := g.Units[0].ID

	drafts, err := SetUnitBucket(DefaultDrafts(g, nil), unitID, BucketApproved, 70)
	if err != nil {
		t.Fatal(err)
	}
	drafts, err = SetUnitBucket(drafts, unitID, BucketDiscard, 10)
	if err != nil {
		t.Fatal(err)
	}
	if d := drafts[0]; d.Approved != 70 || d.Repair != 20 || d.Discard != 10 {
		t.Fatalf("draft = %+v", d)
	}

	now := t0.Add(time.Hour)
	cs, err := PlanConfirmGroup(orderAt(c.Review()), g, drafts, c.Repair(), workerBeto, now)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(cs.Outcomes) != 1 || cs.Outcomes[0].Total() != 100 || cs.Outcomes[0].ReviewedBy != workerBeto {
		t.Fatalf("unexpected outcome %+v", cs.Outcomes)
	}
	done := cs.UpdatedUnits[0]
	if done.Status != WorkUnitCompleted || done.WorkerID == nil || *done.WorkerID != workerBeto || *done.WorkshopID != workshopA {
		t.Fatalf("unexpected reviewed unit %+v", done)
	}
	if len(cs.NewUnits) != 1 {
		t.Fatalf("expected a repair unit, got %d", len(cs.NewUnits))
	}
	ru := cs.NewUnits[0]
	if ru.Quantity != 20 || !ru.ReworkOrigin || ru.StageID != c.Repair().ID || *ru.WorkshopID != workshopA || *ru.ParentID != unitID {
		t.Fatalf("unexpected repair unit %+v", ru)
	}
}

func TestConfirmRejectsInvalidDraft(t *testing.T) {
	c := mustCatalog(t)
	g := reviewGroup(t, c, workshopA, []uuid.UUID{sizeM, sizeM}, []int{10, 15})

	drafts, err := ApplyGroupEdit(DefaultDrafts(g, nil), BucketApproved, 30)
	if err != nil {
		t.Fatal(err)
	}
	_, err = PlanConfirmGroup(orderAt(c.Review()), g, drafts, c.Repair(), workerBeto, t0)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("overflowing last unit must block confirmation, got %v", err)
	}
	var appErr *apperr.Error
	asAppErr(err, &appErr)
	invalid := appErr.Details.([]InvalidDraft)
	if len(invalid) != 1 || invalid[0].WorkUnitID != g.Units[1].ID.String() || invalid[0].SizeID != sizeM.String() {
		t.Fatalf("unexpected details %+v", invalid)
	}
}

func TestConfirmWithoutResponsibleActorRejectsRepairs(t *testing.T) {
	c := mustCatalog(t)
	review := c.Review()
	orphan := unitAt(review, sizeM, 10, t0)
	g := GroupReviewUnits([]WorkUnit{orphan}, review)[0]
	if g.Key.Actor != AdministrativeActor {
		t.Fatalf("unit without workshop or worker grouped under %s", g.Key.Actor)
	}

	drafts, err := SetUnitBucket(DefaultDrafts(g, nil), orphan.ID, BucketRepair, 3)
	if err != nil {
		t.Fatal(err)
	}
	_, err = PlanConfirmGroup(orderAt(review), g, drafts, c.Repair(), workerBeto, t0)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("repair without an owner must be rejected, got %v", err)
	}

	drafts, err = SetUnitBucket(DefaultDrafts(g, nil), orphan.ID, BucketDiscard, 3)
	if err != nil {
		t.Fatal(err)
	}
	cs, err := PlanConfirmGroup(orderAt(review), g, drafts, c.Repair(), workerBeto, t0)
	if err != nil {
		t.Fatalf("approve and discard stay allowed: %v", err)
	}
	if len(cs.NewUnits) != 0 || len(cs.Outcomes) != 1 {
		t.Fatalf("unexpected change set %+v", cs)
	}
}

func TestConfirmTwiceConflicts(t *testing.T) {
	c := mustCatalog(t)
	g := reviewGroup(t, c, workshopA, []uuid.UUID{sizeM}, []int{10})
	g.Units[0] = withStatus(g.Units[0], WorkUnitCompleted, t0)

	_, err := PlanConfirmGroup(orderAt(c.Review()), g, nil, c.Repair(), workerBeto, t0)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestPlanConfirmActorCoversEveryPendingGroup(t *testing.T) {
	c := mustCatalog(t)
	review := c.Review()
	units := []WorkUnit{
		withWorkshop(unitAt(review, sizeS, 10, t0), workshopA),
		withWorkshop(unitAt(review, sizeM, 20, t0), workshopA),
		withWorkshop(unitAt(review, sizeM, 5, t0), workshopB),
	}
	groups := GroupReviewUnits(units, review)
	actor := WorkshopActor(workshopA)

	var sizeMGroup ReviewGroup
	for _, g := range groups {
		if g.Key.Actor == actor && g.Key.SizeID == sizeM {
			sizeMGroup = g
		}
	}
	drafts, _ := ApplyGroupEdit(DefaultDrafts(sizeMGroup, nil), BucketRepair, 2)

	cs, err := PlanConfirmActor(orderAt(review), groups, actor, []GroupDrafts{{Key: sizeMGroup.Key, Drafts: drafts}}, c.Repair(), workerBeto, t0)
	if err != nil {
		t.Fatalf("confirm actor: %v", err)
	}
	if len(cs.Outcomes) != 2 || len(cs.NewUnits) != 1 || cs.NewUnits[0].Quantity != 2 {
		t.Fatalf("unexpected change set: %d outcomes, %+v", len(cs.Outcomes), cs.NewUnits)
	}
	for _, u := range cs.UpdatedUnits {
		if *u.WorkshopID != workshopA {
			t.Errorf("unit of another workshop confirmed: %+v", u)
		}
	}
}
