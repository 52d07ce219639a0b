package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func findStage(t *testing.T, tl Timeline, code string) StageTimeline {
	t.Helper()
	for _, s := range tl.Stages {
		if s.Stage.Code == code {
			return s
		}
	}
	t.Fatalf("stage %s missing from timeline", code)
	return StageTimeline{}
}

func TestTimelineCountsUnitOnceAcrossSources(t *testing.T) {
	c := mustCatalog(t)
	reception, review := c.Reception(), c.Review()
	order := orderAt(review, OrderLine{ReferenceID: refShirt, SizeID: sizeM, Quantity: 50})

	received := withStatus(withWorker(withWorkshop(unitAt(reception, sizeM, 50, t0), workshopA), workerAna), WorkUnitReceived, t0.Add(2*time.Hour))
	in := TimelineInput{
		Order:  order,
		Stages: c.Stages(),
		StageHistory: []StageHistoryEntry{
			{ID: uuid.New(), StageID: reception.ID, WorkerID: uuidPtr(workerAna), StartedAt: t0, CompletedAt: timePtr(t0.Add(3 * time.Hour))},
			{ID: uuid.New(), StageID: review.ID, StartedAt: t0.Add(3 * time.Hour)},
		},
		UnitHistory: []WorkUnitHistoryEntry{
			{ID: uuid.New(), WorkUnitID: received.ID, StageID: reception.ID, StartedAt: t0, CompletedAt: timePtr(t0.Add(2 * time.Hour))},
			{ID: uuid.New(), WorkUnitID: received.ID, StageID: reception.ID, StartedAt: t0, CompletedAt: timePtr(t0.Add(2 * time.Hour))},
		},
		Units: []WorkUnit{received},
		Now:   t0.Add(5 * time.Hour),
	}

	tl := BuildTimeline(in)
	st := findStage(t, tl, StageCodeReception)
	if st.Quantity != 50 {
		t.Fatalf("reception quantity = %d, want 50", st.Quantity)
	}
	if !st.Completed || st.Active {
		t.Errorf("reception should be completed, got active=%v completed=%v", st.Active, st.Completed)
	}
	if len(st.Actors) != 1 || st.Actors[0].Actor != WorkerActor(workerAna) || st.Actors[0].Quantity != 50 || st.Actors[0].Units != 1 {
		t.Fatalf("reception actors = %+v", st.Actors)
	}
	if st.Actors[0].Duration != 3*time.Hour || !st.Actors[0].Closed {
		t.Errorf("closed actor duration = %v", st.Actors[0].Duration)
	}

	active := findStage(t, tl, StageCodeReview)
	if !active.Active || active.Duration != 2*time.Hour {
		t.Errorf("review active=%v duration=%v", active.Active, active.Duration)
	}
	if len(active.Actors) != 1 || active.Actors[0].Actor.Kind != ActorKindAdmin {
		t.Errorf("review with only an unassigned row shows the admin actor, got %+v", active.Actors)
	}

	again := BuildTimeline(in)
	if findStage(t, again, StageCodeReception).Quantity != 50 {
		t.Error("rebuilding must be stable")
	}
}

func TestTimelineAtMatchesLaterRebuild(t *testing.T) {
	c := mustCatalog(t)
	reception, review := c.Reception(), c.Review()
	order := orderAt(review, OrderLine{ReferenceID: refShirt, SizeID: sizeM, Quantity: 50})
	received := withStatus(withWorker(withWorkshop(unitAt(reception, sizeM, 50, t0), workshopA), workerAna), WorkUnitReceived, t0.Add(2*time.Hour))
	inspecting := withWorkshop(unitAt(review, sizeM, 50, t0.Add(3*time.Hour)), workshopA)
	in := TimelineInput{
		Order:  order,
		Stages: c.Stages(),
		StageHistory: []StageHistoryEntry{
			{ID: uuid.New(), StageID: reception.ID, WorkerID: uuidPtr(workerAna), StartedAt: t0, CompletedAt: timePtr(t0.Add(3 * time.Hour))},
			{ID: uuid.New(), StageID: review.ID, StartedAt: t0.Add(3 * time.Hour)},
		},
		Units: []WorkUnit{received, inspecting},
		Now:   t0.Add(4 * time.Hour),
	}
	built := BuildTimeline(in)

	later := t0.Add(9 * time.Hour)
	in.Now = later
	want := BuildTimeline(in)
	got := built.At(later)

	if !got.GeneratedAt.Equal(later) {
		t.Fatalf("generatedAt = %v", got.GeneratedAt)
	}
	if len(got.Stages) != len(want.Stages) {
		t.Fatalf("stage count %d, want %d", len(got.Stages), len(want.Stages))
	}
	for i := range want.Stages {
		w, g := want.Stages[i], got.Stages[i]
		if g.Duration != w.Duration {
			t.Errorf("%s duration = %v, want %v", w.Stage.Code, g.Duration, w.Duration)
		}
		for j := range w.Actors {
			if g.Actors[j].Duration != w.Actors[j].Duration {
				t.Errorf("%s actor %s duration = %v, want %v", w.Stage.Code, w.Actors[j].Actor, g.Actors[j].Duration, w.Actors[j].Duration)
			}
		}
	}
	if findStage(t, got, StageCodeReview).Duration != 6*time.Hour {
		t.Errorf("open review should be measured to the read time")
	}
	if findStage(t, built, StageCodeReview).Duration != time.Hour {
		t.Error("At must not modify the receiver")
	}
}

func TestTimelineActorExclusionAndAdminFallback(t *testing.T) {
	c := mustCatalog(t)
	intake := c.First()
	assembly := mustStage(t, c, "assembly")
	order := orderAt(c.Reception(), OrderLine{ReferenceID: refShirt, SizeID: sizeM, Quantity: 30})

	unitA := withStatus(withWorkshop(unitAt(assembly, sizeM, 20, t0.Add(time.Hour)), workshopA), WorkUnitCompleted, t0.Add(4*time.Hour))
	unitB := withStatus(withWorkshop(unitAt(assembly, sizeM, 10, t0.Add(time.Hour)), workshopB), WorkUnitCompleted, t0.Add(5*time.Hour))

	tl := BuildTimeline(TimelineInput{
		Order:  order,
		Stages: c.Stages(),
		StageHistory: []StageHistoryEntry{
			{ID: uuid.New(), StageID: intake.ID, StartedAt: t0, CompletedAt: timePtr(t0.Add(time.Hour))},
			{ID: uuid.New(), StageID: assembly.ID, StartedAt: t0.Add(time.Hour), CompletedAt: timePtr(t0.Add(6 * time.Hour))},
			{ID: uuid.New(), StageID: assembly.ID, WorkerID: uuidPtr(workerAna), StartedAt: t0.Add(time.Hour), CompletedAt: timePtr(t0.Add(6 * time.Hour))},
		},
		Units: []WorkUnit{unitA, unitB},
		Now:   t0.Add(7 * time.Hour),
	})

	in := findStage(t, tl, StageCodeIntake)
	if len(in.Actors) != 1 || in.Actors[0].Actor.Kind != ActorKindAdmin {
		t.Errorf("intake should fall back to the admin actor, got %+v", in.Actors)
	}

	asm := findStage(t, tl, "assembly")
	if asm.Quantity != 30 {
		t.Errorf("assembly quantity = %d", asm.Quantity)
	}
	if len(asm.Actors) != 2 {
		t.Fatalf("assembly should list the two workshops only, got %+v", asm.Actors)
	}
	for _, a := range asm.Actors {
		if a.Actor.Kind != ActorKindWorkshop {
			t.Errorf("unexpected actor at workshop stage: %+v", a.Actor)
		}
	}
	if asm.Duration != 5*time.Hour {
		t.Errorf("assembly duration = %v", asm.Duration)
	}
}

func TestTimelineSkippedBranchAndShortages(t *testing.T) {
	c := mustCatalog(t)
	reception, review := c.Reception(), c.Review()
	ironing := mustStage(t, c, "ironing_packing")
	order := orderAt(ironing, OrderLine{ReferenceID: refShirt, SizeID: sizeM, Quantity: 100})

	recA := withStatus(withWorker(withWorkshop(unitAt(reception, sizeM, 60, t0), workshopA), workerAna), WorkUnitReceivedIncomplete, t0.Add(time.Hour))
	recB := withStatus(withWorker(withWorkshop(unitAt(reception, sizeM, 40, t0), workshopB), workerAna), WorkUnitReceivedIncomplete, t0.Add(time.Hour))
	rework := withStatus(withWorker(withWorkshop(unitAt(review, sizeM, 4, t0.Add(3*time.Hour)), workshopA), workerBeto), WorkUnitCompleted, t0.Add(4*time.Hour))
	rework.ReworkOrigin = true
	original := withStatus(withWorker(withWorkshop(unitAt(review, sizeM, 55, t0.Add(2*time.Hour)), workshopA), workerBeto), WorkUnitCompleted, t0.Add(3*time.Hour))

	tl := BuildTimeline(TimelineInput{
		Order:  order,
		Stages: c.Stages(),
		StageHistory: []StageHistoryEntry{
			{ID: uuid.New(), StageID: ironing.ID, WorkerID: uuidPtr(workerAna), StartedAt: t0.Add(5 * time.Hour)},
		},
		Units: []WorkUnit{recA, recB, original, rework},
		Shortages: []ShortageRecord{
			{ID: uuid.New(), WorkUnitID: recA.ID, MissingQuantity: 5},
			{ID: uuid.New(), WorkUnitID: recB.ID, MissingQuantity: 2},
		},
		Now: t0.Add(6 * time.Hour),
	})

	if fin := findStage(t, tl, "finishing_workshop"); !fin.Skipped || fin.Completed {
		t.Errorf("finishing workshop should be skipped, got %+v", fin)
	}
	if cut := findStage(t, tl, "cutting"); cut.Skipped {
		t.Error("only bypassed branch stages are skipped")
	}

	rec := findStage(t, tl, StageCodeReception)
	if rec.Shortage != 7 || len(rec.ProducerShortages) != 2 {
		t.Fatalf("reception shortages = %d %+v", rec.Shortage, rec.ProducerShortages)
	}
	for _, ps := range rec.ProducerShortages {
		want := map[uuid.UUID]int{workshopA: 5, workshopB: 2}[ps.Actor.ID]
		if ps.Missing != want {
			t.Errorf("producer %s missing %d, want %d", ps.Actor, ps.Missing, want)
		}
	}

	rev := findStage(t, tl, StageCodeReview)
	if rev.Quantity != 55 || rev.ReworkQuantity != 4 {
		t.Errorf("review quantity=%d rework=%d", rev.Quantity, rev.ReworkQuantity)
	}
	if len(rev.Actors) != 1 || rev.Actors[0].Quantity != 55 || rev.Actors[0].ReworkQuantity != 4 {
		t.Errorf("review actors = %+v", rev.Actors)
	}

	ir := findStage(t, tl, "ironing_packing")
	if !ir.Active || ir.Duration != time.Hour || ir.Actors[0].Closed {
		t.Errorf("ironing should be active for an hour, got %+v", ir)
	}
}
