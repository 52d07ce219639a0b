// Package service orchestrates the production workflow: it loads an order
// snapshot, lets the domain rules plan a change set, commits it against the
// caller's version and publishes what happened.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"atelier_backend/internal/events"
	"atelier_backend/internal/production/domain"
	"atelier_backend/internal/production/repository"
	"atelier_backend/internal/production/transport"
	"atelier_backend/platform/apperr"
	"atelier_backend/platform/logger"
	"atelier_backend/platform/sanitize"
)

const defaultPageSize = 20

// TimelineCache keeps built timelines keyed by order version.
type TimelineCache interface {
	Get(ctx context.Context, orderID uuid.UUID, version int64) (domain.Timeline, bool, error)
	Set(ctx context.Context, tl domain.Timeline) error
}

// DelayScheduler arranges for an order to be checked against the SLA of the
// stage it just entered.
type DelayScheduler interface {
	ScheduleDelayCheck(ctx context.Context, orderID, stageID uuid.UUID, runAt time.Time) error
}

type Service struct {
	repo    repository.Repository
	catalog *domain.Catalog
	bus     events.Bus
	log     *logger.Logger
	cache   TimelineCache
	delays  DelayScheduler
	builds  singleflight.Group
	now     func() time.Time
}

func New(repo repository.Repository, catalog *domain.Catalog, bus events.Bus, log *logger.Logger) *Service {
	return &Service{
		repo:    repo,
		catalog: catalog,
		bus:     bus,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetTimelineCache enables the Redis timeline cache.
func (s *Service) SetTimelineCache(cache TimelineCache) {
	s.cache = cache
}

// SetDelayScheduler enables SLA checks for stages that declare one.
func (s *Service) SetDelayScheduler(delays DelayScheduler) {
	s.delays = delays
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Catalog exposes the stage catalog the service runs on.
func (s *Service) Catalog() *domain.Catalog {
	return s.catalog
}

// =====================================
// Snapshot loading
// =====================================

type loadMask uint8

const (
	loadUnits loadMask = 1 << iota
	loadStageHistory
	loadUnitHistory
	loadShortages
	loadOutcomes

	loadAll = loadUnits | loadStageHistory | loadUnitHistory | loadShortages | loadOutcomes
)

type snapshot struct {
	order        domain.Order
	units        []domain.WorkUnit
	stageHistory []domain.StageHistoryEntry
	unitHistory  []domain.WorkUnitHistoryEntry
	shortages    []domain.ShortageRecord
	outcomes     []domain.ReviewOutcome
}

// load reads the order and, concurrently, the row sets named by what.
func (s *Service) load(ctx context.Context, orderID uuid.UUID, what loadMask) (snapshot, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return snapshot{}, s.storeErr("get order", err)
	}
	snap := snapshot{order: order}

	g, gctx := errgroup.WithContext(ctx)
	if what&loadUnits != 0 {
		g.Go(func() error {
			var err error
			snap.units, err = s.repo.ListWorkUnits(gctx, orderID)
			return err
		})
	}
	if what&loadStageHistory != 0 {
		g.Go(func() error {
			var err error
			snap.stageHistory, err = s.repo.ListStageHistory(gctx, orderID)
			return err
		})
	}
	if what&loadUnitHistory != 0 {
		g.Go(func() error {
			var err error
			snap.unitHistory, err = s.repo.ListWorkUnitHistory(gctx, orderID)
			return err
		})
	}
	if what&loadShortages != 0 {
		g.Go(func() error {
			var err error
			snap.shortages, err = s.repo.ListShortages(gctx, orderID)
			return err
		})
	}
	if what&loadOutcomes != 0 {
		g.Go(func() error {
			var err error
			snap.outcomes, err = s.repo.ListReviewOutcomes(gctx, orderID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return snapshot{}, s.storeErr("load order snapshot", err)
	}
	return snap, nil
}

// checkAndLock fails fast on a stale version with a point read before the
// snapshot is loaded. The lock itself is the compare-and-bump in Commit.
func (s *Service) checkAndLock(ctx context.Context, op string, orderID uuid.UUID, expected int64) error {
	current, err := s.repo.GetOrderVersion(ctx, orderID)
	if err != nil {
		return s.storeErr(op, err)
	}
	if current != expected {
		s.log.ConcurrencyConflict(op, orderID.String(), expected, current)
		return domain.CheckVersion(domain.Order{ID: orderID, Version: current}, expected)
	}
	return nil
}

// guardedLoad runs checkAndLock and then loads the snapshot.
func (s *Service) guardedLoad(ctx context.Context, op string, orderID uuid.UUID, expected int64, what loadMask) (snapshot, error) {
	if err := s.checkAndLock(ctx, op, orderID, expected); err != nil {
		return snapshot{}, err
	}
	snap, err := s.load(ctx, orderID, what)
	if err != nil {
		return snapshot{}, err
	}
	if err := domain.CheckVersion(snap.order, expected); err != nil {
		s.log.ConcurrencyConflict(op, orderID.String(), expected, snap.order.Version)
		return snapshot{}, err
	}
	return snap, nil
}

// commit applies cs only if the order is still at expected.
func (s *Service) commit(ctx context.Context, op string, cs domain.ChangeSet, expected int64) (domain.Order, error) {
	cs.ExpectedVersion = expected
	order, err := s.repo.Commit(ctx, cs)
	if err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			actual := int64(0)
			var e *apperr.Error
			if errors.As(err, &e) {
				if vc, ok := e.Details.(domain.VersionConflict); ok {
					actual = vc.CurrentVersion
				}
			}
			s.log.ConcurrencyConflict(op, cs.OrderID.String(), expected, actual)
		}
		return domain.Order{}, s.storeErr(op, err)
	}
	return order, nil
}

// storeErr passes typed errors through and turns anything else into an
// unknown-outcome error: the caller must re-fetch before retrying.
func (s *Service) storeErr(op string, err error) error {
	if apperr.GetKind(err) != apperr.KindUnknown {
		return err
	}
	s.log.DatabaseError(op, err)
	return apperr.Unavailable(fmt.Sprintf("%s failed; re-fetch the order before retrying", op), err)
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus != nil {
		s.bus.Publish(ctx, event)
	}
}

func (s *Service) scheduleDelayCheck(ctx context.Context, orderID uuid.UUID, stage domain.Stage, from time.Time) {
	if s.delays == nil || stage.SLA <= 0 {
		return
	}
	if err := s.delays.ScheduleDelayCheck(ctx, orderID, stage.ID, from.Add(stage.SLA)); err != nil {
		s.log.Warn("failed to schedule delay check", "orderId", orderID, "stage", stage.Code, "error", err)
	}
}

func (s *Service) stageByCode(code string) (domain.Stage, error) {
	st, ok := s.catalog.ByCode(code)
	if !ok {
		return domain.Stage{}, apperr.Validation(fmt.Sprintf("unknown stage %q", code))
	}
	return st, nil
}

func (s *Service) currentStage(order domain.Order) (domain.Stage, error) {
	st, ok := s.catalog.ByID(order.CurrentStageID)
	if !ok {
		return domain.Stage{}, apperr.Internal(fmt.Sprintf("order %s is in unknown stage %s", order.ID, order.CurrentStageID))
	}
	return st, nil
}

// =====================================
// Stages and orders
// =====================================

func (s *Service) Stages() []transport.StageResponse {
	stages := s.catalog.Stages()
	out := make([]transport.StageResponse, 0, len(stages))
	for _, st := range stages {
		out = append(out, toStageResponse(st))
	}
	return out
}

func (s *Service) CreateOrder(ctx context.Context, actorID uuid.UUID, req transport.CreateOrderRequest) (transport.OrderResponse, error) {
	in := domain.NewOrderInput{Client: sanitize.Text(req.Client), Assignee: toActorPtr(req.Assignee)}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, domain.OrderLine{ReferenceID: l.ReferenceID, SizeID: l.SizeID, Quantity: l.Quantity})
	}
	now := s.now()
	order, first, err := domain.NewOrder(s.catalog, in, now)
	if err != nil {
		return transport.OrderResponse{}, err
	}
	created, err := s.repo.CreateOrder(ctx, order, first)
	if err != nil {
		return transport.OrderResponse{}, s.storeErr("create order", err)
	}

	s.log.Info("order created", "orderId", created.ID, "sequence", created.SequenceNumber, "units", created.TotalUnits, "actorId", actorID)
	s.publish(ctx, events.OrderCreated{
		BaseEvent:      events.BaseEventAt(created.LastModifiedAt),
		OrderID:        created.ID,
		SequenceNumber: created.SequenceNumber,
		Client:         created.Client,
		TotalUnits:     created.TotalUnits,
		ActorID:        actorID,
	})
	s.scheduleDelayCheck(ctx, created.ID, s.catalog.First(), now)
	return s.toOrderResponse(created), nil
}

func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (transport.OrderDetailResponse, error) {
	snap, err := s.load(ctx, orderID, loadUnits|loadShortages|loadOutcomes)
	if err != nil {
		return transport.OrderDetailResponse{}, err
	}
	return transport.OrderDetailResponse{
		Order:     s.toOrderResponse(snap.order),
		Units:     s.toUnitResponses(domain.SortUnits(snap.units)),
		Shortages: toShortageResponses(snap.shortages),
		Outcomes:  toOutcomeResponses(snap.outcomes),
	}, nil
}

func (s *Service) ListOrders(ctx context.Context, req transport.ListOrdersRequest) (transport.OrderListResponse, error) {
	page, pageSize := req.Page, req.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	params := repository.ListParams{Search: req.Search, Limit: pageSize, Offset: (page - 1) * pageSize}
	if req.Status != "" {
		status := domain.OrderStatus(req.Status)
		params.Status = &status
	}
	if req.Stage != "" {
		st, err := s.stageByCode(req.Stage)
		if err != nil {
			return transport.OrderListResponse{}, err
		}
		params.StageID = &st.ID
	}

	orders, total, err := s.repo.ListOrders(ctx, params)
	if err != nil {
		return transport.OrderListResponse{}, s.storeErr("list orders", err)
	}
	items := make([]transport.OrderResponse, 0, len(orders))
	for _, o := range orders {
		items = append(items, s.toOrderResponse(o))
	}
	totalPages := (total + pageSize - 1) / pageSize
	return transport.OrderListResponse{Items: items, Total: total, Page: page, PageSize: pageSize, TotalPages: totalPages}, nil
}

func (s *Service) CancelOrder(ctx context.Context, actorID, orderID uuid.UUID, req transport.VersionedRequest) (transport.OrderResponse, error) {
	const op = "cancel order"
	snap, err := s.guardedLoad(ctx, op, orderID, req.ExpectedVersion, loadStageHistory)
	if err != nil {
		return transport.OrderResponse{}, err
	}
	cs, err := domain.PlanCancel(snap.order, snap.stageHistory, s.now())
	if err != nil {
		return transport.OrderResponse{}, err
	}
	order, err := s.commit(ctx, op, cs, req.ExpectedVersion)
	if err != nil {
		return transport.OrderResponse{}, err
	}
	s.log.Info("order cancelled", "orderId", orderID, "version", order.Version, "actorId", actorID)
	s.publish(ctx, events.OrderCancelled{BaseEvent: events.BaseEventAt(order.LastModifiedAt), OrderID: orderID, Version: order.Version, ActorID: actorID})
	return s.toOrderResponse(order), nil
}

// MarkDelayed flags an order that is still active in stageID. It reports
// false when there was nothing to flag.
func (s *Service) MarkDelayed(ctx context.Context, orderID, stageID uuid.UUID) (bool, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return false, nil
		}
		return false, s.storeErr("mark delayed", err)
	}
	cs, ok := domain.PlanDelay(order, stageID, s.now())
	if !ok {
		return false, nil
	}
	updated, err := s.commit(ctx, "mark delayed", cs, order.Version)
	if err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			// the order changed under us; the next SLA check decides again
			return false, nil
		}
		return false, err
	}
	stage := s.stageRef(stageID)
	s.log.Warn("order delayed", "orderId", orderID, "stage", stage.Code, "version", updated.Version)
	s.publish(ctx, events.OrderDelayed{BaseEvent: events.BaseEventAt(updated.LastModifiedAt), OrderID: orderID, StageCode: stage.Code, Version: updated.Version})
	return true, nil
}

// =====================================
// Stage sequencing and work units
// =====================================

// Advance moves an order to its next stage, or completes it from the last
// one. Targeting the current stage is a successful no-op, whatever version
// the caller holds, so a retried advance lands on the same result.
func (s *Service) Advance(ctx context.Context, actorID, orderID uuid.UUID, req transport.AdvanceRequest) (transport.AdvanceResponse, error) {
	const op = "advance order"
	if req.TargetStage != "" {
		resp, done, err := s.advancedAlready(ctx, op, orderID, req.TargetStage)
		if err != nil || done {
			return resp, err
		}
	}
	snap, err := s.guardedLoad(ctx, op, orderID, req.ExpectedVersion, loadUnits|loadShortages|loadStageHistory)
	if err != nil {
		return transport.AdvanceResponse{}, err
	}
	now := s.now()
	plan, err := domain.PlanAdvance(s.catalog, domain.AdvanceInput{
		Order:        snap.order,
		Units:        snap.units,
		Shortages:    snap.shortages,
		StageHistory: snap.stageHistory,
		Request: domain.AdvanceRequest{
			TargetStageCode: req.TargetStage,
			Assignee:        toActorPtr(req.Assignee),
			Notes:           sanitize.Text(req.Notes),
		},
		Now: now,
	})
	if err != nil {
		return transport.AdvanceResponse{}, err
	}
	if plan.Noop {
		return transport.AdvanceResponse{
			Order:     s.toOrderResponse(snap.order),
			FromStage: plan.From.Code,
			ToStage:   plan.To.Code,
			Noop:      true,
		}, nil
	}

	order, err := s.commit(ctx, op, plan.Changes, req.ExpectedVersion)
	if err != nil {
		return transport.AdvanceResponse{}, err
	}

	resp := transport.AdvanceResponse{
		Order:        s.toOrderResponse(order),
		FromStage:    plan.From.Code,
		Completed:    plan.CompletesOrder,
		CarriedUnits: len(plan.Carried),
	}
	event := events.OrderStageAdvanced{
		BaseEvent:    events.BaseEventAt(order.LastModifiedAt),
		OrderID:      orderID,
		FromStage:    plan.From.Code,
		Completed:    plan.CompletesOrder,
		CarriedUnits: len(plan.Carried),
		Version:      order.Version,
		ActorID:      actorID,
	}
	if !plan.CompletesOrder {
		resp.ToStage = plan.To.Code
		event.ToStage = plan.To.Code
		event.ToStageID = plan.To.ID
	}
	s.log.StageAdvanced(orderID.String(), plan.From.Code, resp.ToStage, order.Version)
	s.publish(ctx, event)
	if !plan.CompletesOrder {
		s.scheduleDelayCheck(ctx, orderID, plan.To, now)
	}
	return resp, nil
}

// advancedAlready reports a no-op when a live order already sits in target.
// It runs before the version guard: the retry of an advance whose response
// was lost still carries the version from before that advance.
func (s *Service) advancedAlready(ctx context.Context, op string, orderID uuid.UUID, target string) (transport.AdvanceResponse, bool, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return transport.AdvanceResponse{}, false, s.storeErr(op, err)
	}
	if order.Status.IsTerminal() {
		return transport.AdvanceResponse{}, false, nil
	}
	current, err := s.currentStage(order)
	if err != nil || current.Code != target {
		return transport.AdvanceResponse{}, false, err
	}
	return transport.AdvanceResponse{
		Order:     s.toOrderResponse(order),
		FromStage: current.Code,
		ToStage:   current.Code,
		Noop:      true,
	}, true, nil
}

// Split distributes the declared quantities of the current stage among
// actors. Every line must be allocated exactly.
func (s *Service) Split(ctx context.Context, actorID, orderID uuid.UUID, req transport.SplitRequest) (transport.UnitsResponse, error) {
	const op = "split stage"
	stage, err := s.stageByCode(req.Stage)
	if err != nil {
		return transport.UnitsResponse{}, err
	}
	snap, err := s.guardedLoad(ctx, op, orderID, req.ExpectedVersion, loadUnits)
	if err != nil {
		return transport.UnitsResponse{}, err
	}
	allocations := make([]domain.Allocation, 0, len(req.Allocations))
	for _, a := range req.Allocations {
		allocations = append(allocations, domain.Allocation{
			ReferenceID: a.ReferenceID,
			SizeID:      a.SizeID,
			Actor:       toActor(a.Actor),
			Quantity:    a.Quantity,
		})
	}
	cs, err := domain.PlanSplit(snap.order, stage, snap.units, allocations, s.now())
	if err != nil {
		return transport.UnitsResponse{}, err
	}
	order, err := s.commit(ctx, op, cs, req.ExpectedVersion)
	if err != nil {
		return transport.UnitsResponse{}, err
	}
	s.log.Info("stage split", "orderId", orderID, "stage", stage.Code, "units", len(cs.NewUnits), "version", order.Version)
	s.publishUnitsChanged(ctx, order, stage.Code, "split", len(cs.NewUnits), actorID)
	return transport.UnitsResponse{Order: s.toOrderResponse(order), Units: s.toUnitResponses(cs.NewUnits)}, nil
}

// CompleteUnits closes pending units of the current worker or workshop
// stage, either as completed or carried over.
func (s *Service) CompleteUnits(ctx context.Context, actorID, orderID uuid.UUID, req transport.CompleteUnitsRequest) (transport.UnitsResponse, error) {
	const op = "complete units"
	snap, err := s.guardedLoad(ctx, op, orderID, req.ExpectedVersion, loadUnits)
	if err != nil {
		return transport.UnitsResponse{}, err
	}
	stage, err := s.currentStage(snap.order)
	if err != nil {
		return transport.UnitsResponse{}, err
	}
	cs, err := domain.PlanCompleteUnits(snap.order, stage, snap.units, req.WorkUnitIDs, req.CarryOver, s.now())
	if err != nil {
		return transport.UnitsResponse{}, err
	}
	order, err := s.commit(ctx, op, cs, req.ExpectedVersion)
	if err != nil {
		return transport.UnitsResponse{}, err
	}
	operation := "complete"
	if req.CarryOver {
		operation = "carry_over"
	}
	s.log.Info("work units closed", "orderId", orderID, "stage", stage.Code, "operation", operation, "units", len(cs.UpdatedUnits), "version", order.Version)
	s.publishUnitsChanged(ctx, order, stage.Code, operation, len(cs.UpdatedUnits), actorID)
	return transport.UnitsResponse{Order: s.toOrderResponse(order), Units: s.toUnitResponses(cs.UpdatedUnits)}, nil
}

// Receive records what arrived at reception for a batch of units. The batch
// is committed as a whole or not at all.
func (s *Service) Receive(ctx context.Context, actorID, orderID uuid.UUID, req transport.ReceptionRequest) (transport.UnitsResponse, error) {
	const op = "record reception"
	receiver := actorID
	if req.ReceiverID != nil {
		receiver = *req.ReceiverID
	}
	snap, err := s.guardedLoad(ctx, op, orderID, req.ExpectedVersion, loadUnits)
	if err != nil {
		return transport.UnitsResponse{}, err
	}
	items := make([]domain.ReceptionItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.ReceptionItem{WorkUnitID: it.WorkUnitID, ReceivedQuantity: it.ReceivedQuantity})
	}
	cs, err := domain.PlanReception(snap.order, s.catalog.Reception(), snap.units, items, receiver, s.now())
	if err != nil {
		return transport.UnitsResponse{}, err
	}
	order, err := s.commit(ctx, op, cs, req.ExpectedVersion)
	if err != nil {
		return transport.UnitsResponse{}, err
	}

	missing := 0
	for _, sh := range cs.Shortages {
		missing += sh.MissingQuantity
	}
	s.log.Info("reception recorded", "orderId", orderID, "units", len(cs.UpdatedUnits), "missing", missing, "version", order.Version)
	s.publish(ctx, events.ReceptionRecorded{
		BaseEvent:  events.BaseEventAt(order.LastModifiedAt),
		OrderID:    orderID,
		ReceiverID: receiver,
		Units:      len(cs.UpdatedUnits),
		Missing:    missing,
		Version:    order.Version,
	})
	return transport.UnitsResponse{
		Order:     s.toOrderResponse(order),
		Units:     s.toUnitResponses(cs.UpdatedUnits),
		Shortages: toShortageResponses(cs.Shortages),
	}, nil
}

func (s *Service) publishUnitsChanged(ctx context.Context, order domain.Order, stageCode, operation string, units int, actorID uuid.UUID) {
	s.publish(ctx, events.WorkUnitsChanged{
		BaseEvent: events.BaseEventAt(order.LastModifiedAt),
		OrderID:   order.ID,
		StageCode: stageCode,
		Operation: operation,
		Units:     units,
		Version:   order.Version,
		ActorID:   actorID,
	})
}
