package service

import (
	"context"

	"github.com/google/uuid"

	"atelier_backend/internal/production/domain"
	"atelier_backend/internal/production/repository"
)

const sweepPageSize = 100

type overdueOrder struct {
	orderID uuid.UUID
	stageID uuid.UUID
}

// SweepDelays flags every active order that has outstayed the SLA of its
// current stage. Candidates are collected before any is flagged because
// flagging moves an order out of the active listing.
func (s *Service) SweepDelays(ctx context.Context) (int, error) {
	overdue, err := s.findOverdue(ctx)
	if err != nil {
		return 0, err
	}

	flagged := 0
	for _, o := range overdue {
		delayed, err := s.MarkDelayed(ctx, o.orderID, o.stageID)
		if err != nil {
			return flagged, err
		}
		if delayed {
			flagged++
		}
	}
	return flagged, nil
}

func (s *Service) findOverdue(ctx context.Context) ([]overdueOrder, error) {
	active := domain.OrderStatusActive
	now := s.now()
	var overdue []overdueOrder

	for offset := 0; ; {
		orders, total, err := s.repo.ListOrders(ctx, repository.ListParams{Status: &active, Limit: sweepPageSize, Offset: offset})
		if err != nil {
			return nil, s.storeErr("sweep delays", err)
		}
		for _, order := range orders {
			stage, ok := s.catalog.ByID(order.CurrentStageID)
			if !ok || stage.SLA <= 0 {
				continue
			}
			history, err := s.repo.ListStageHistory(ctx, order.ID)
			if err != nil {
				return nil, s.storeErr("sweep delays", err)
			}
			entered, ok := domain.StageEnteredAt(history, stage.ID)
			if ok && domain.Overdue(order, stage, entered, now) {
				overdue = append(overdue, overdueOrder{orderID: order.ID, stageID: stage.ID})
			}
		}
		offset += len(orders)
		if len(orders) == 0 || offset >= total {
			break
		}
	}
	return overdue, nil
}
