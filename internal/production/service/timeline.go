package service

import (
	"context"

	"github.com/google/uuid"

	"atelier_backend/internal/production/domain"
	"atelier_backend/internal/production/transport"
)

// Timeline returns the reconstructed history of an order, from the cache
// when it was built from the current version. Open stages and actors are
// measured at read time either way.
func (s *Service) Timeline(ctx context.Context, orderID uuid.UUID) (transport.TimelineResponse, error) {
	if s.cache != nil {
		version, err := s.repo.GetOrderVersion(ctx, orderID)
		if err != nil {
			return transport.TimelineResponse{}, s.storeErr("get order version", err)
		}
		tl, ok, err := s.cache.Get(ctx, orderID, version)
		if err != nil {
			s.log.Warn("timeline cache read failed", "orderId", orderID, "error", err)
		} else if ok {
			return toTimelineResponse(tl.At(s.now())), nil
		}
	}
	tl, err := s.buildTimeline(ctx, orderID)
	if err != nil {
		return transport.TimelineResponse{}, err
	}
	return toTimelineResponse(tl), nil
}

// RefreshTimeline rebuilds the timeline unconditionally and stores it. It
// runs after a burst of changes to an order has settled.
func (s *Service) RefreshTimeline(ctx context.Context, orderID uuid.UUID) (transport.TimelineResponse, error) {
	tl, err := s.buildTimeline(ctx, orderID)
	if err != nil {
		return transport.TimelineResponse{}, err
	}
	return toTimelineResponse(tl), nil
}

// buildTimeline coalesces concurrent builds of the same order. The shared
// build is detached from the first caller's cancellation so the callers
// that joined it still get a result.
func (s *Service) buildTimeline(ctx context.Context, orderID uuid.UUID) (domain.Timeline, error) {
	v, err, _ := s.builds.Do(orderID.String(), func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		snap, err := s.load(ctx, orderID, loadAll)
		if err != nil {
			return domain.Timeline{}, err
		}
		tl := domain.BuildTimeline(domain.TimelineInput{
			Order:        snap.order,
			Stages:       s.catalog.Stages(),
			StageHistory: snap.stageHistory,
			UnitHistory:  snap.unitHistory,
			Units:        snap.units,
			Shortages:    snap.shortages,
			Now:          s.now(),
		})
		if s.cache != nil {
			if err := s.cache.Set(ctx, tl); err != nil {
				s.log.Warn("timeline cache write failed", "orderId", orderID, "error", err)
			}
		}
		return tl, nil
	})
	if err != nil {
		return domain.Timeline{}, err
	}
	return v.(domain.Timeline), nil
}
