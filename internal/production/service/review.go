package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"atelier_backend/internal/events"
	"atelier_backend/internal/production/domain"
	"atelier_backend/internal/production/transport"
	"atelier_backend/platform/apperr"
)

func outcomeIndex(outcomes []domain.ReviewOutcome) map[uuid.UUID]domain.ReviewOutcome {
	out := make(map[uuid.UUID]domain.ReviewOutcome, len(outcomes))
	for _, o := range outcomes {
		out[o.WorkUnitID] = o
	}
	return out
}

func (s *Service) requireReview(order domain.Order) (domain.Stage, error) {
	review := s.catalog.Review()
	if order.CurrentStageID != review.ID {
		return domain.Stage{}, apperr.Validation(fmt.Sprintf("order is not in stage %s", review.Code))
	}
	return review, nil
}

// ReviewGroups lists every (reference, size, actor) group at review with its
// default or committed drafts.
func (s *Service) ReviewGroups(ctx context.Context, orderID uuid.UUID) ([]transport.ReviewGroupResponse, error) {
	snap, err := s.load(ctx, orderID, loadUnits|loadOutcomes)
	if err != nil {
		return nil, err
	}
	outcomes := outcomeIndex(snap.outcomes)
	groups := domain.GroupReviewUnits(snap.units, s.catalog.Review())
	out := make([]transport.ReviewGroupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, toReviewGroupResponse(g, domain.DefaultDrafts(g, outcomes)))
	}
	return out, nil
}

// PreviewReview applies one edit to the caller's drafts and returns the
// rebalanced group. Nothing is persisted; invalid drafts are reported, not
// rejected, so the caller can keep correcting them.
func (s *Service) PreviewReview(ctx context.Context, orderID uuid.UUID, req transport.ReviewPreviewRequest) (transport.ReviewGroupResponse, error) {
	snap, err := s.load(ctx, orderID, loadUnits|loadOutcomes)
	if err != nil {
		return transport.ReviewGroupResponse{}, err
	}
	g, err := s.findGroup(snap.units, toGroupKey(req.Group))
	if err != nil {
		return transport.ReviewGroupResponse{}, err
	}

	outcomes := outcomeIndex(snap.outcomes)
	drafts := domain.DefaultDrafts(g, outcomes)
	if len(req.Drafts) > 0 {
		if drafts, err = domain.AlignDrafts(g, toDrafts(req.Drafts)); err != nil {
			return transport.ReviewGroupResponse{}, err
		}
		// committed outcomes are not editable
		for i := range drafts {
			if o, ok := outcomes[drafts[i].WorkUnitID]; ok {
				drafts[i].Approved, drafts[i].Repair, drafts[i].Discard = o.Approved, o.Repair, o.Discard
			}
		}
	}

	if edit := req.Edit; edit != nil {
		bucket := domain.Bucket(edit.Bucket)
		if edit.WorkUnitID != nil {
			if _, done := outcomes[*edit.WorkUnitID]; done {
				return transport.ReviewGroupResponse{}, apperr.Conflict(fmt.Sprintf("work unit %s was already reviewed", *edit.WorkUnitID))
			}
			drafts, err = domain.SetUnitBucket(drafts, *edit.WorkUnitID, bucket, edit.Quantity)
		} else {
			if !g.Pending() {
				return transport.ReviewGroupResponse{}, apperr.Conflict(fmt.Sprintf("%s for %s was already reviewed", g.Key.Line(), g.Key.Actor))
			}
			drafts, err = domain.ApplyGroupEdit(drafts, bucket, edit.Quantity)
		}
		if err != nil {
			return transport.ReviewGroupResponse{}, err
		}
	}
	return toReviewGroupResponse(g, drafts), nil
}

// ConfirmGroup commits the drafts of one group. Every pending unit gets an
// outcome and nonzero repair buckets spawn repair units.
func (s *Service) ConfirmGroup(ctx context.Context, actorID, orderID uuid.UUID, req transport.ReviewConfirmRequest) (transport.ReviewConfirmResponse, error) {
	const op = "confirm review group"
	snap, err := s.guardedLoad(ctx, op, orderID, req.ExpectedVersion, loadUnits)
	if err != nil {
		return transport.ReviewConfirmResponse{}, err
	}
	if _, err := s.requireReview(snap.order); err != nil {
		return transport.ReviewConfirmResponse{}, err
	}
	key := toGroupKey(req.Group)
	g, err := s.findGroup(snap.units, key)
	if err != nil {
		return transport.ReviewConfirmResponse{}, err
	}
	cs, err := domain.PlanConfirmGroup(snap.order, g, toDrafts(req.Drafts), s.catalog.Repair(), actorID, s.now())
	if err != nil {
		return transport.ReviewConfirmResponse{}, err
	}
	return s.commitReview(ctx, op, cs, req.ExpectedVersion, key.Actor, actorID)
}

// ConfirmActor commits every pending group of one producing actor in a
// single change set.
func (s *Service) ConfirmActor(ctx context.Context, actorID, orderID uuid.UUID, req transport.ReviewConfirmActorRequest) (transport.ReviewConfirmResponse, error) {
	const op = "confirm review actor"
	snap, err := s.guardedLoad(ctx, op, orderID, req.ExpectedVersion, loadUnits)
	if err != nil {
		return transport.ReviewConfirmResponse{}, err
	}
	review, err := s.requireReview(snap.order)
	if err != nil {
		return transport.ReviewConfirmResponse{}, err
	}
	actor := toActor(req.Actor)
	supplied := make([]domain.GroupDrafts, 0, len(req.Groups))
	for _, g := range req.Groups {
		supplied = append(supplied, domain.GroupDrafts{
			Key:    domain.GroupKey{ReferenceID: g.ReferenceID, SizeID: g.SizeID, Actor: actor},
			Drafts: toDrafts(g.Drafts),
		})
	}
	groups := domain.GroupReviewUnits(snap.units, review)
	cs, err := domain.PlanConfirmActor(snap.order, groups, actor, supplied, s.catalog.Repair(), actorID, s.now())
	if err != nil {
		return transport.ReviewConfirmResponse{}, err
	}
	return s.commitReview(ctx, op, cs, req.ExpectedVersion, actor, actorID)
}

func (s *Service) commitReview(ctx context.Context, op string, cs domain.ChangeSet, expected int64, actor domain.Actor, reviewer uuid.UUID) (transport.ReviewConfirmResponse, error) {
	order, err := s.commit(ctx, op, cs, expected)
	if err != nil {
		return transport.ReviewConfirmResponse{}, err
	}

	event := events.ReviewConfirmed{
		BaseEvent:   events.BaseEventAt(order.LastModifiedAt),
		OrderID:     order.ID,
		Actor:       actor.String(),
		ReviewerID:  reviewer,
		RepairUnits: len(cs.NewUnits),
		Version:     order.Version,
	}
	for _, o := range cs.Outcomes {
		event.Approved += o.Approved
		event.Repair += o.Repair
		event.Discard += o.Discard
	}
	s.log.Info("review confirmed", "orderId", order.ID, "actor", actor.String(), "units", len(cs.Outcomes),
		"approved", event.Approved, "repair", event.Repair, "discard", event.Discard, "version", order.Version)
	s.publish(ctx, event)

	return transport.ReviewConfirmResponse{
		Order:       s.toOrderResponse(order),
		Outcomes:    toOutcomeResponses(cs.Outcomes),
		RepairUnits: s.toUnitResponses(cs.NewUnits),
	}, nil
}

func (s *Service) findGroup(units []domain.WorkUnit, key domain.GroupKey) (domain.ReviewGroup, error) {
	g, ok := domain.FindGroup(domain.GroupReviewUnits(units, s.catalog.Review()), key)
	if !ok {
		return domain.ReviewGroup{}, apperr.NotFound(fmt.Sprintf("no review group %s for %s", key.Line(), key.Actor))
	}
	return g, nil
}

// TrackRepairs lists unresolved repair units, of one actor or of all of
// them when actor is nil.
func (s *Service) TrackRepairs(ctx context.Context, orderID uuid.UUID, actor *transport.ActorRequest) ([]transport.WorkUnitResponse, error) {
	snap, err := s.load(ctx, orderID, loadUnits)
	if err != nil {
		return nil, err
	}
	if actor != nil {
		return s.toUnitResponses(domain.PendingRepairs(s.catalog, snap.units, toActor(*actor))), nil
	}
	repair := s.catalog.Repair()
	var pending []domain.WorkUnit
	for _, u := range domain.SortUnits(snap.units) {
		if u.StageID == repair.ID && !repair.IsTerminal(u.Status) {
			pending = append(pending, u)
		}
	}
	return s.toUnitResponses(pending), nil
}

// ResolveRepair completes a repair unit and returns its quantity to review.
func (s *Service) ResolveRepair(ctx context.Context, actorID, orderID, unitID uuid.UUID, req transport.VersionedRequest) (transport.RepairResolvedResponse, error) {
	const op = "resolve repair"
	snap, err := s.guardedLoad(ctx, op, orderID, req.ExpectedVersion, loadUnits)
	if err != nil {
		return transport.RepairResolvedResponse{}, err
	}
	cs, err := domain.PlanResolveRepair(snap.order, s.catalog, snap.units, unitID, s.now())
	if err != nil {
		return transport.RepairResolvedResponse{}, err
	}
	order, err := s.commit(ctx, op, cs, req.ExpectedVersion)
	if err != nil {
		return transport.RepairResolvedResponse{}, err
	}

	repaired, returned := cs.UpdatedUnits[0], cs.NewUnits[0]
	s.log.Info("repair resolved", "orderId", orderID, "repairUnitId", repaired.ID, "returnedUnitId", returned.ID,
		"quantity", returned.Quantity, "version", order.Version, "actorId", actorID)
	s.publish(ctx, events.RepairResolved{
		BaseEvent:      events.BaseEventAt(order.LastModifiedAt),
		OrderID:        orderID,
		RepairUnitID:   repaired.ID,
		ReturnedUnitID: returned.ID,
		Quantity:       returned.Quantity,
		Version:        order.Version,
	})
	return transport.RepairResolvedResponse{
		Order:        s.toOrderResponse(order),
		RepairUnit:   s.toUnitResponse(repaired),
		ReturnedUnit: s.toUnitResponse(returned),
	}, nil
}

// ActorStates reports per producing actor whether review is finished.
func (s *Service) ActorStates(ctx context.Context, orderID uuid.UUID) ([]transport.ActorStateResponse, error) {
	snap, err := s.load(ctx, orderID, loadUnits|loadOutcomes)
	if err != nil {
		return nil, err
	}
	return toActorStateResponses(domain.ActorStates(s.catalog, snap.units, snap.outcomes)), nil
}
