package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"atelier_backend/internal/events"
	"atelier_backend/internal/production/domain"
	"atelier_backend/internal/production/repository"
	"atelier_backend/internal/production/transport"
	"atelier_backend/platform/apperr"
	"atelier_backend/platform/logger"
)

var (
	refDress  = uuid.MustParse("00000000-0000-0000-0000-00000000a001")
	sizeM     = uuid.MustParse("00000000-0000-0000-0000-00000000b002")
	workshopA = uuid.MustParse("00000000-0000-0000-0000-00000000c001")
	workshopB = uuid.MustParse("00000000-0000-0000-0000-00000000c002")
	clerk     = uuid.MustParse("00000000-0000-0000-0000-00000000d001")
	receiver  = uuid.MustParse("00000000-0000-0000-0000-00000000d002")
	inspector = uuid.MustParse("00000000-0000-0000-0000-00000000d003")

	t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
)

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.EventName())
	}
	return out
}

type delayCheck struct {
	orderID, stageID uuid.UUID
	runAt            time.Time
}

type fakeDelays struct {
	scheduled []delayCheck
}

func (f *fakeDelays) ScheduleDelayCheck(_ context.Context, orderID, stageID uuid.UUID, runAt time.Time) error {
	f.scheduled = append(f.scheduled, delayCheck{orderID, stageID, runAt})
	return nil
}

type fakeCache struct {
	mu    sync.Mutex
	items map[uuid.UUID]domain.Timeline
	hits  int
	sets  int
}

func (f *fakeCache) Get(_ context.Context, orderID uuid.UUID, version int64) (domain.Timeline, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tl, ok := f.items[orderID]
	if !ok || tl.Version != version {
		return domain.Timeline{}, false, nil
	}
	f.hits++
	return tl, true, nil
}

func (f *fakeCache) Set(_ context.Context, tl domain.Timeline) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.items == nil {
		f.items = make(map[uuid.UUID]domain.Timeline)
	}
	f.items[tl.OrderID] = tl
	f.sets++
	return nil
}

// brokenCommit fails every commit the way a dropped connection would.
type brokenCommit struct {
	*repository.Memory
}

func (brokenCommit) Commit(context.Context, domain.ChangeSet) (domain.Order, error) {
	return domain.Order{}, errors.New("write tcp: connection reset by peer")
}

// cancelAware fails reads once the caller's context is done, like a pgx
// query would.
type cancelAware struct {
	*repository.Memory
}

func (r cancelAware) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	return r.Memory.GetOrder(ctx, id)
}

func (r cancelAware) ListWorkUnits(ctx context.Context, orderID uuid.UUID) ([]domain.WorkUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.Memory.ListWorkUnits(ctx, orderID)
}

type harness struct {
	svc    *Service
	repo   *repository.Memory
	bus    *recordingBus
	delays *fakeDelays
	clock  time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	catalog, err := domain.DefaultCatalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	h := &harness{repo: repository.NewMemory(), bus: &recordingBus{}, delays: &fakeDelays{}, clock: t0}
	h.svc = New(h.repo, catalog, h.bus, logger.New("test"))
	h.svc.SetDelayScheduler(h.delays)
	h.svc.SetClock(func() time.Time {
		h.clock = h.clock.Add(time.Minute)
		return h.clock
	})
	return h
}

func (h *harness) create(t *testing.T, qty int) transport.OrderResponse {
	t.Helper()
	order, err := h.svc.CreateOrder(context.Background(), clerk, transport.CreateOrderRequest{
		Client: "Maison Laurent",
		Lines:  []transport.OrderLineRequest{{ReferenceID: refDress, SizeID: sizeM, Quantity: qty}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func (h *harness) advance(t *testing.T, order transport.OrderResponse, target string) transport.OrderResponse {
	t.Helper()
	resp, err := h.svc.Advance(context.Background(), clerk, order.ID, transport.AdvanceRequest{
		ExpectedVersion: order.Version,
		TargetStage:     target,
	})
	if err != nil {
		t.Fatalf("advance from %s: %v", order.CurrentStage.Code, err)
	}
	return resp.Order
}

// toAssembly advances a fresh order to assembly and splits it 60/40 between
// two workshops, then completes both units.
func (h *harness) toAssembly(t *testing.T) transport.OrderResponse {
	t.Helper()
	ctx := context.Background()
	order := h.create(t, 100)
	for order.CurrentStage.Code != "assembly" {
		order = h.advance(t, order, "")
	}
	split, err := h.svc.Split(ctx, clerk, order.ID, transport.SplitRequest{
		ExpectedVersion: order.Version,
		Stage:           "assembly",
		Allocations: []transport.AllocationRequest{
			{ReferenceID: refDress, SizeID: sizeM, Actor: workshopReq(workshopA), Quantity: 60},
			{ReferenceID: refDress, SizeID: sizeM, Actor: workshopReq(workshopB), Quantity: 40},
		},
	})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	ids := []uuid.UUID{split.Units[0].ID, split.Units[1].ID}
	done, err := h.svc.CompleteUnits(ctx, clerk, order.ID, transport.CompleteUnitsRequest{ExpectedVersion: split.Order.Version, WorkUnitIDs: ids})
	if err != nil {
		t.Fatalf("complete units: %v", err)
	}
	return done.Order
}

func workshopReq(id uuid.UUID) transport.ActorRequest {
	return transport.ActorRequest{Kind: string(domain.ActorKindWorkshop), ID: id}
}

func unitFor(t *testing.T, units []transport.WorkUnitResponse, workshop uuid.UUID) transport.WorkUnitResponse {
	t.Helper()
	for _, u := range units {
		if u.WorkshopID != nil && *u.WorkshopID == workshop {
			return u
		}
	}
	t.Fatalf("no unit for workshop %s in %+v", workshop, units)
	return transport.WorkUnitResponse{}
}

func stageTimeline(t *testing.T, tl transport.TimelineResponse, code string) transport.StageTimelineResponse {
	t.Helper()
	for _, st := range tl.Stages {
		if st.Stage.Code == code {
			return st
		}
	}
	t.Fatalf("timeline has no stage %s", code)
	return transport.StageTimelineResponse{}
}

func TestFullPipelineWithShortageAndRepair(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.toAssembly(t)

	order = h.advance(t, order, "")
	if order.CurrentStage.Code != "reception" {
		t.Fatalf("expected reception, got %s", order.CurrentStage.Code)
	}
	detail, err := h.svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	var atReception []transport.WorkUnitResponse
	for _, u := range detail.Units {
		if u.Stage.Code == "reception" {
			atReception = append(atReception, u)
		}
	}
	if len(atReception) != 2 {
		t.Fatalf("expected 2 carried units, got %d", len(atReception))
	}

	received, err := h.svc.Receive(ctx, clerk, order.ID, transport.ReceptionRequest{
		ExpectedVersion: order.Version,
		ReceiverID:      &receiver,
		Items: []transport.ReceptionItemRequest{
			{WorkUnitID: unitFor(t, atReception, workshopA).ID, ReceivedQuantity: 60},
			{WorkUnitID: unitFor(t, atReception, workshopB).ID, ReceivedQuantity: 35},
		},
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(received.Shortages) != 1 || received.Shortages[0].MissingQuantity != 5 {
		t.Fatalf("expected one shortage of 5, got %+v", received.Shortages)
	}
	order = h.advance(t, received.Order, "")

	groups, err := h.svc.ReviewGroups(ctx, order.ID)
	if err != nil {
		t.Fatalf("review groups: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected a group per workshop, got %d", len(groups))
	}
	var unitA, unitB uuid.UUID
	for _, g := range groups {
		switch g.Actor.ID {
		case workshopA.String():
			unitA = g.Drafts[0].WorkUnitID
			if g.Totals.Assigned != 60 {
				t.Fatalf("workshop A assigned %d, want 60", g.Totals.Assigned)
			}
		case workshopB.String():
			unitB = g.Drafts[0].WorkUnitID
			if g.Totals.Assigned != 35 {
				t.Fatalf("shortage not deducted: workshop B assigned %d", g.Totals.Assigned)
			}
		}
	}

	selA := transport.GroupSelection{ReferenceID: refDress, SizeID: sizeM, Actor: workshopReq(workshopA)}
	preview, err := h.svc.PreviewReview(ctx, order.ID, transport.ReviewPreviewRequest{
		Group: selA,
		Edit:  &transport.EditRequest{Bucket: "repair", Quantity: 10},
	})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if d := preview.Drafts[0]; d.Approved != 50 || d.Repair != 10 || !d.Valid {
		t.Fatalf("unexpected preview draft %+v", d)
	}

	confirmed, err := h.svc.ConfirmGroup(ctx, inspector, order.ID, transport.ReviewConfirmRequest{
		ExpectedVersion: order.Version,
		Group:           selA,
		Drafts:          []transport.DraftRequest{{WorkUnitID: unitA, Approved: 50, Repair: 10}},
	})
	if err != nil {
		t.Fatalf("confirm group: %v", err)
	}
	if len(confirmed.RepairUnits) != 1 || confirmed.RepairUnits[0].Quantity != 10 {
		t.Fatalf("expected one repair unit of 10, got %+v", confirmed.RepairUnits)
	}
	order = confirmed.Order

	_, err = h.svc.Advance(ctx, clerk, order.ID, transport.AdvanceRequest{ExpectedVersion: order.Version})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("review needs an explicit branch, got %v", err)
	}

	confirmedB, err := h.svc.ConfirmActor(ctx, inspector, order.ID, transport.ReviewConfirmActorRequest{
		ExpectedVersion: order.Version,
		Actor:           workshopReq(workshopB),
	})
	if err != nil {
		t.Fatalf("confirm actor: %v", err)
	}
	if len(confirmedB.Outcomes) != 1 || confirmedB.Outcomes[0].WorkUnitID != unitB || confirmedB.Outcomes[0].Approved != 35 {
		t.Fatalf("unexpected actor outcomes %+v", confirmedB.Outcomes)
	}
	order = confirmedB.Order

	_, err = h.svc.Advance(ctx, clerk, order.ID, transport.AdvanceRequest{ExpectedVersion: order.Version, TargetStage: "ironing_packing"})
	if !apperr.Is(err, apperr.KindStageNotReady) {
		t.Fatalf("open repair must block leaving review, got %v", err)
	}

	states, err := h.svc.ActorStates(ctx, order.ID)
	if err != nil {
		t.Fatalf("actor states: %v", err)
	}
	for _, st := range states {
		want := "complete"
		if st.Actor.ID == workshopA.String() {
			want = "pending_repairs"
		}
		if st.State != want {
			t.Fatalf("actor %s state %s, want %s", st.Actor.ID, st.State, want)
		}
	}

	repairs, err := h.svc.TrackRepairs(ctx, order.ID, &transport.ActorRequest{Kind: "workshop", ID: workshopA})
	if err != nil || len(repairs) != 1 {
		t.Fatalf("track repairs = %+v, %v", repairs, err)
	}
	resolved, err := h.svc.ResolveRepair(ctx, clerk, order.ID, repairs[0].ID, transport.VersionedRequest{ExpectedVersion: order.Version})
	if err != nil {
		t.Fatalf("resolve repair: %v", err)
	}
	if !resolved.ReturnedUnit.ReworkOrigin || resolved.ReturnedUnit.Stage.Code != "review" {
		t.Fatalf("unexpected returned unit %+v", resolved.ReturnedUnit)
	}

	recheck, err := h.svc.ConfirmGroup(ctx, inspector, order.ID, transport.ReviewConfirmRequest{
		ExpectedVersion: resolved.Order.Version,
		Group:           selA,
	})
	if err != nil {
		t.Fatalf("re-inspection: %v", err)
	}
	if len(recheck.Outcomes) != 1 || recheck.Outcomes[0].WorkUnitID != resolved.ReturnedUnit.ID {
		t.Fatalf("only the returned unit should be confirmed: %+v", recheck.Outcomes)
	}

	order = h.advance(t, recheck.Order, "ironing_packing")
	if order.CurrentStage.Code != "ironing_packing" || order.Status != "active" {
		t.Fatalf("unexpected order after review: %+v", order)
	}

	tl, err := h.svc.Timeline(ctx, order.ID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if tl.Version != order.Version {
		t.Fatalf("timeline version %d, order version %d", tl.Version, order.Version)
	}
	if rec := stageTimeline(t, tl, "reception"); rec.Shortage != 5 {
		t.Fatalf("reception shortage %d, want 5", rec.Shortage)
	}
	if fin := stageTimeline(t, tl, "finishing_workshop"); !fin.Skipped {
		t.Fatalf("bypassed branch should be skipped: %+v", fin)
	}
	if cur := stageTimeline(t, tl, "ironing_packing"); !cur.Active {
		t.Fatalf("current stage should be active: %+v", cur)
	}

	names := h.bus.names()
	if names[0] != (events.OrderCreated{}).EventName() {
		t.Fatalf("first event = %s", names[0])
	}
	if len(names) != int(order.Version) {
		t.Fatalf("expected one event per committed version, got %d events for version %d", len(names), order.Version)
	}
}

func TestAdvanceWithStaleVersionLeavesOrderUnchanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.create(t, 10)
	moved := h.advance(t, order, "")

	_, err := h.svc.Advance(ctx, clerk, order.ID, transport.AdvanceRequest{ExpectedVersion: order.Version})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var e *apperr.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *apperr.Error, got %T", err)
	}
	if vc, ok := e.Details.(domain.VersionConflict); !ok || vc.CurrentVersion != moved.Version {
		t.Fatalf("unexpected conflict details %+v", e.Details)
	}

	detail, err := h.svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if detail.Order.Version != moved.Version || detail.Order.CurrentStage.Code != moved.CurrentStage.Code {
		t.Fatalf("order changed by rejected advance: %+v", detail.Order)
	}
}

func TestAdvanceToCurrentStageIsNoop(t *testing.T) {
	h := newHarness(t)
	order := h.create(t, 10)

	resp, err := h.svc.Advance(context.Background(), clerk, order.ID, transport.AdvanceRequest{
		ExpectedVersion: order.Version,
		TargetStage:     order.CurrentStage.Code,
	})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !resp.Noop || resp.Order.Version != order.Version {
		t.Fatalf("expected no-op at version %d, got %+v", order.Version, resp)
	}
}

func TestRetriedAdvanceWithStaleVersionIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.create(t, 10)
	req := transport.AdvanceRequest{ExpectedVersion: order.Version, TargetStage: "cutting"}

	first, err := h.svc.Advance(ctx, clerk, order.ID, req)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	retry, err := h.svc.Advance(ctx, clerk, order.ID, req)
	if err != nil {
		t.Fatalf("retried advance: %v", err)
	}
	if !retry.Noop || retry.Order.Version != first.Order.Version || retry.Order.CurrentStage.Code != "cutting" {
		t.Fatalf("expected no-op at cutting v%d, got %+v", first.Order.Version, retry)
	}
	if n := len(h.bus.names()); n != int(first.Order.Version) {
		t.Fatalf("retry published an event: %d events", n)
	}

	_, err = h.svc.Advance(ctx, clerk, order.ID, transport.AdvanceRequest{ExpectedVersion: order.Version, TargetStage: "preparation"})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("stale advance to another stage should conflict, got %v", err)
	}
}

func TestEventsCarryCommitTime(t *testing.T) {
	h := newHarness(t)
	order := h.create(t, 10)
	moved := h.advance(t, order, "")

	h.bus.mu.Lock()
	defer h.bus.mu.Unlock()
	last := h.bus.events[len(h.bus.events)-1]
	if !last.OccurredAt().Equal(moved.LastModifiedAt) {
		t.Fatalf("event stamped %v, order modified at %v", last.OccurredAt(), moved.LastModifiedAt)
	}
}

func TestSplitMismatchNamesTheLine(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.create(t, 100)
	for order.CurrentStage.Code != "assembly" {
		order = h.advance(t, order, "")
	}

	_, err := h.svc.Split(ctx, clerk, order.ID, transport.SplitRequest{
		ExpectedVersion: order.Version,
		Stage:           "assembly",
		Allocations: []transport.AllocationRequest{
			{ReferenceID: refDress, SizeID: sizeM, Actor: workshopReq(workshopA), Quantity: 60},
			{ReferenceID: refDress, SizeID: sizeM, Actor: workshopReq(workshopB), Quantity: 30},
		},
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	detail, _ := h.svc.GetOrder(ctx, order.ID)
	if len(detail.Units) != 0 || detail.Order.Version != order.Version {
		t.Fatalf("rejected split must not write: %+v", detail)
	}
}

func TestReceptionOverflowRejectsWholeBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.advance(t, h.toAssembly(t), "")
	detail, _ := h.svc.GetOrder(ctx, order.ID)
	var items []transport.ReceptionItemRequest
	for _, u := range detail.Units {
		if u.Stage.Code == "reception" {
			items = append(items, transport.ReceptionItemRequest{WorkUnitID: u.ID, ReceivedQuantity: u.Quantity})
		}
	}
	items[1].ReceivedQuantity = 1000

	_, err := h.svc.Receive(ctx, receiver, order.ID, transport.ReceptionRequest{ExpectedVersion: order.Version, Items: items})
	if !apperr.Is(err, apperr.KindShortfallOverflow) {
		t.Fatalf("expected shortfall overflow, got %v", err)
	}
	after, _ := h.svc.GetOrder(ctx, order.ID)
	if after.Order.Version != order.Version || len(after.Shortages) != 0 {
		t.Fatalf("rejected reception must not write: %+v", after.Order)
	}
}

func TestCommitFailureIsUnavailable(t *testing.T) {
	h := newHarness(t)
	order := h.create(t, 10)
	h.svc.repo = brokenCommit{h.repo}

	_, err := h.svc.Advance(context.Background(), clerk, order.ID, transport.AdvanceRequest{ExpectedVersion: order.Version})
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestDelayLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.create(t, 10)

	if len(h.delays.scheduled) != 1 {
		t.Fatalf("expected an SLA check for the first stage, got %d", len(h.delays.scheduled))
	}
	check := h.delays.scheduled[0]
	first := h.svc.Catalog().First()
	if check.stageID != first.ID || !check.runAt.Equal(order.CreatedAt.Add(first.SLA)) {
		t.Fatalf("unexpected delay check %+v", check)
	}

	delayed, err := h.svc.MarkDelayed(ctx, order.ID, first.ID)
	if err != nil || !delayed {
		t.Fatalf("mark delayed = %v, %v", delayed, err)
	}
	again, err := h.svc.MarkDelayed(ctx, order.ID, first.ID)
	if err != nil || again {
		t.Fatalf("second mark delayed = %v, %v", again, err)
	}

	detail, _ := h.svc.GetOrder(ctx, order.ID)
	if detail.Order.Status != "delayed" {
		t.Fatalf("status %s, want delayed", detail.Order.Status)
	}
	moved := h.advance(t, detail.Order, "")
	if moved.Status != "active" {
		t.Fatalf("advance should clear the delay, got %s", moved.Status)
	}
	stale, err := h.svc.MarkDelayed(ctx, order.ID, first.ID)
	if err != nil || stale {
		t.Fatalf("check for a stage already left = %v, %v", stale, err)
	}
}

func TestCancelledOrderRejectsMutations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	order := h.create(t, 10)

	cancelled, err := h.svc.CancelOrder(ctx, clerk, order.ID, transport.VersionedRequest{ExpectedVersion: order.Version})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != "cancelled" {
		t.Fatalf("status %s", cancelled.Status)
	}
	_, err = h.svc.Advance(ctx, clerk, order.ID, transport.AdvanceRequest{ExpectedVersion: cancelled.Version})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict on cancelled order, got %v", err)
	}
}

func TestTimelineServedFromCacheUntilVersionChanges(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cache := &fakeCache{}
	h.svc.SetTimelineCache(cache)
	order := h.create(t, 10)

	if _, err := h.svc.Timeline(ctx, order.ID); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if _, err := h.svc.Timeline(ctx, order.ID); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if cache.sets != 1 || cache.hits != 1 {
		t.Fatalf("sets=%d hits=%d, want 1/1", cache.sets, cache.hits)
	}

	h.advance(t, order, "")
	tl, err := h.svc.Timeline(ctx, order.ID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if cache.sets != 2 || tl.Version != order.Version+1 {
		t.Fatalf("stale cache served: sets=%d version=%d", cache.sets, tl.Version)
	}
}

func TestCachedTimelineMeasuresOpenStageAtReadTime(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.svc.SetTimelineCache(&fakeCache{})
	order := h.create(t, 10)

	first, err := h.svc.Timeline(ctx, order.ID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	h.clock = h.clock.Add(3 * time.Hour)
	second, err := h.svc.Timeline(ctx, order.ID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}

	before := stageTimeline(t, first, "intake").DurationSeconds
	after := stageTimeline(t, second, "intake").DurationSeconds
	if after-before < int64((3 * time.Hour).Seconds()) {
		t.Fatalf("active intake duration went from %ds to %ds across 3h", before, after)
	}
	if !second.GeneratedAt.After(first.GeneratedAt) {
		t.Fatalf("generatedAt not refreshed: %v then %v", first.GeneratedAt, second.GeneratedAt)
	}
}

func TestTimelineBuildSurvivesCallerCancellation(t *testing.T) {
	h := newHarness(t)
	order := h.create(t, 10)
	catalog, _ := domain.DefaultCatalog()
	svc := New(cancelAware{h.repo}, catalog, h.bus, logger.New("test"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tl, err := svc.RefreshTimeline(ctx, order.ID)
	if err != nil {
		t.Fatalf("coalesced build failed with the caller's cancellation: %v", err)
	}
	if tl.OrderID != order.ID {
		t.Fatalf("timeline for %s", tl.OrderID)
	}
}

func TestListOrdersFiltersByStage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	first := h.create(t, 10)
	h.create(t, 20)
	h.advance(t, first, "")

	list, err := h.svc.ListOrders(ctx, transport.ListOrdersRequest{Stage: "cutting"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Total != 1 || list.Items[0].ID != first.ID {
		t.Fatalf("unexpected list %+v", list)
	}
	if _, err := h.svc.ListOrders(ctx, transport.ListOrdersRequest{Stage: "dyeing"}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("unknown stage should be rejected, got %v", err)
	}
}

func TestSweepDelaysFlagsOnlyOverdueOrders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	stale := h.create(t, 10)
	h.clock = h.clock.Add(20 * time.Hour)
	fresh := h.create(t, 10)

	// intake allows 24h: only the first order has outstayed it
	h.clock = h.clock.Add(5 * time.Hour)
	flagged, err := h.svc.SweepDelays(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if flagged != 1 {
		t.Fatalf("flagged %d orders, want 1", flagged)
	}

	staleDetail, _ := h.svc.GetOrder(ctx, stale.ID)
	freshDetail, _ := h.svc.GetOrder(ctx, fresh.ID)
	if staleDetail.Order.Status != "delayed" || freshDetail.Order.Status != "active" {
		t.Fatalf("statuses %s/%s, want delayed/active", staleDetail.Order.Status, freshDetail.Order.Status)
	}

	again, err := h.svc.SweepDelays(ctx)
	if err != nil || again != 0 {
		t.Fatalf("second sweep = %d, %v", again, err)
	}
}

func TestCreateOrderStripsMarkupFromClient(t *testing.T) {
	h := newHarness(t)
	order, err := h.svc.CreateOrder(context.Background(), clerk, transport.CreateOrderRequest{
		Client: "  <b>Maison</b>   Laurent ",
		Lines:  []transport.OrderLineRequest{{ReferenceID: refDress, SizeID: sizeM, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if order.Client != "Maison Laurent" {
		t.Fatalf("client %q", order.Client)
	}

	_, err = h.svc.CreateOrder(context.Background(), clerk, transport.CreateOrderRequest{
		Client: "<i></i>",
		Lines:  []transport.OrderLineRequest{{ReferenceID: refDress, SizeID: sizeM, Quantity: 2}},
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("markup-only client: got %v, want validation error", err)
	}
}
