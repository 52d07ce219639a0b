package service

import (
	"math"

	"github.com/google/uuid"

	"atelier_backend/internal/production/domain"
	"atelier_backend/internal/production/transport"
)

func toActor(req transport.ActorRequest) domain.Actor {
	return domain.Actor{Kind: domain.ActorKind(req.Kind), ID: req.ID}
}

func toActorPtr(req *transport.ActorRequest) *domain.Actor {
	if req == nil {
		return nil
	}
	a := toActor(*req)
	return &a
}

func toActorResponse(a domain.Actor) transport.ActorResponse {
	resp := transport.ActorResponse{Kind: string(a.Kind)}
	if a.ID != uuid.Nil {
		resp.ID = a.ID.String()
	}
	return resp
}

func (s *Service) stageRef(id uuid.UUID) transport.StageRef {
	st, ok := s.catalog.ByID(id)
	if !ok {
		return transport.StageRef{ID: id}
	}
	return transport.StageRef{ID: st.ID, Code: st.Code, Name: st.Name}
}

func toStageResponse(st domain.Stage) transport.StageResponse {
	branches := st.Branches
	if branches == nil {
		branches = []string{}
	}
	return transport.StageResponse{
		ID:         st.ID,
		Code:       st.Code,
		Name:       st.Name,
		OrderIndex: st.OrderIndex,
		Kind:       string(st.Kind),
		Branches:   branches,
		Inherit:    st.Inherit,
		SLASeconds: int64(st.SLA.Seconds()),
	}
}

func (s *Service) toOrderResponse(o domain.Order) transport.OrderResponse {
	resp := transport.OrderResponse{
		ID:             o.ID,
		SequenceNumber: o.SequenceNumber,
		Client:         o.Client,
		Status:         string(o.Status),
		CurrentStage:   s.stageRef(o.CurrentStageID),
		TotalUnits:     o.TotalUnits,
		Version:        o.Version,
		CreatedAt:      o.CreatedAt,
		LastModifiedAt: o.LastModifiedAt,
	}
	for _, l := range o.Lines {
		resp.Lines = append(resp.Lines, transport.OrderLineResponse{ReferenceID: l.ReferenceID, SizeID: l.SizeID, Quantity: l.Quantity})
	}
	return resp
}

func (s *Service) toUnitResponse(u domain.WorkUnit) transport.WorkUnitResponse {
	return transport.WorkUnitResponse{
		ID:           u.ID,
		ReferenceID:  u.ReferenceID,
		SizeID:       u.SizeID,
		Quantity:     u.Quantity,
		Stage:        s.stageRef(u.StageID),
		WorkerID:     u.WorkerID,
		WorkshopID:   u.WorkshopID,
		Status:       string(u.Status),
		ReworkOrigin: u.ReworkOrigin,
		ParentID:     u.ParentID,
		CreatedAt:    u.CreatedAt,
		CompletedAt:  u.CompletedAt,
	}
}

func (s *Service) toUnitResponses(units []domain.WorkUnit) []transport.WorkUnitResponse {
	out := make([]transport.WorkUnitResponse, 0, len(units))
	for _, u := range units {
		out = append(out, s.toUnitResponse(u))
	}
	return out
}

func toShortageResponses(records []domain.ShortageRecord) []transport.ShortageResponse {
	out := make([]transport.ShortageResponse, 0, len(records))
	for _, r := range records {
		out = append(out, transport.ShortageResponse{ID: r.ID, WorkUnitID: r.WorkUnitID, MissingQuantity: r.MissingQuantity, RecordedAt: r.RecordedAt})
	}
	return out
}

func toOutcomeResponses(outcomes []domain.ReviewOutcome) []transport.ReviewOutcomeResponse {
	out := make([]transport.ReviewOutcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, transport.ReviewOutcomeResponse{
			WorkUnitID: o.WorkUnitID,
			Approved:   o.Approved,
			Repair:     o.Repair,
			Discard:    o.Discard,
			ReviewedBy: o.ReviewedBy,
			ReviewedAt: o.ReviewedAt,
		})
	}
	return out
}

func toDrafts(reqs []transport.DraftRequest) []domain.Draft {
	out := make([]domain.Draft, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, domain.Draft{WorkUnitID: r.WorkUnitID, Approved: r.Approved, Repair: r.Repair, Discard: r.Discard})
	}
	return out
}

func toGroupKey(sel transport.GroupSelection) domain.GroupKey {
	return domain.GroupKey{ReferenceID: sel.ReferenceID, SizeID: sel.SizeID, Actor: toActor(sel.Actor)}
}

func toReviewGroupResponse(g domain.ReviewGroup, drafts []domain.Draft) transport.ReviewGroupResponse {
	status := make(map[uuid.UUID]domain.WorkUnitStatus, len(g.Units))
	for _, u := range g.Units {
		status[u.ID] = u.Status
	}
	resp := transport.ReviewGroupResponse{
		ReferenceID: g.Key.ReferenceID,
		SizeID:      g.Key.SizeID,
		Actor:       toActorResponse(g.Key.Actor),
		Pending:     g.Pending(),
		Valid:       true,
		Drafts:      make([]transport.DraftResponse, 0, len(drafts)),
	}
	for _, d := range drafts {
		valid := d.Valid()
		resp.Valid = resp.Valid && valid
		resp.Drafts = append(resp.Drafts, transport.DraftResponse{
			WorkUnitID:   d.WorkUnitID,
			Assigned:     d.Assigned,
			ReworkOrigin: d.ReworkOrigin,
			Approved:     d.Approved,
			Repair:       d.Repair,
			Discard:      d.Discard,
			Valid:        valid,
			Reviewed:     status[d.WorkUnitID] != domain.WorkUnitPending,
		})
	}
	t := domain.Totals(drafts)
	resp.Totals = transport.GroupTotalsResponse{Assigned: t.Assigned, Approved: t.Approved, Repair: t.Repair, Discard: t.Discard}
	return resp
}

func toActorStateResponses(states []domain.ActorReviewState) []transport.ActorStateResponse {
	out := make([]transport.ActorStateResponse, 0, len(states))
	for _, st := range states {
		out = append(out, transport.ActorStateResponse{
			Actor:                 toActorResponse(st.Actor),
			OriginalUnits:         st.OriginalUnits,
			ReviewedUnits:         st.ReviewedUnits,
			PendingRepairUnits:    st.PendingRepairUnits,
			PendingRepairQuantity: st.PendingRepairQuantity,
			State:                 string(st.State),
		})
	}
	return out
}

func toTimelineResponse(tl domain.Timeline) transport.TimelineResponse {
	resp := transport.TimelineResponse{
		OrderID:     tl.OrderID,
		Version:     tl.Version,
		GeneratedAt: tl.GeneratedAt,
		Stages:      make([]transport.StageTimelineResponse, 0, len(tl.Stages)),
	}
	for _, st := range tl.Stages {
		item := transport.StageTimelineResponse{
			Stage:           transport.StageRef{ID: st.Stage.ID, Code: st.Stage.Code, Name: st.Stage.Name},
			Kind:            string(st.Stage.Kind),
			Active:          st.Active,
			Completed:       st.Completed,
			Skipped:         st.Skipped,
			StartedAt:       st.StartedAt,
			EndedAt:         st.EndedAt,
			DurationSeconds: int64(math.Round(st.Duration.Seconds())),
			Quantity:        st.Quantity,
			ReworkQuantity:  st.ReworkQuantity,
			Shortage:        st.Shortage,
			Actors:          make([]transport.ActorTimelineResponse, 0, len(st.Actors)),
		}
		for _, ps := range st.ProducerShortages {
			item.ProducerShortages = append(item.ProducerShortages, transport.ProducerShortageResponse{Actor: toActorResponse(ps.Actor), Missing: ps.Missing})
		}
		for _, a := range st.Actors {
			item.Actors = append(item.Actors, transport.ActorTimelineResponse{
				Actor:           toActorResponse(a.Actor),
				StartedAt:       a.StartedAt,
				CompletedAt:     a.CompletedAt,
				Closed:          a.Closed,
				DurationSeconds: int64(math.Round(a.Duration.Seconds())),
				Quantity:        a.Quantity,
				Units:           a.Units,
				ReworkQuantity:  a.ReworkQuantity,
			})
		}
		resp.Stages = append(resp.Stages, item)
	}
	return resp
}
