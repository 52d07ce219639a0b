package repository

import (
	"context"

	"github.com/google/uuid"

	"atelier_backend/internal/production/domain"
)

// =====================================
// Segregated Interfaces (Interface Segregation Principle)
// =====================================

// StageStore persists the stage catalog.
type StageStore interface {
	ListStages(ctx context.Context) ([]domain.Stage, error)
	UpsertStages(ctx context.Context, stages []domain.Stage) error
}

// OrderReader provides read-only access to orders.
type OrderReader interface {
	GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error)
	GetOrderVersion(ctx context.Context, id uuid.UUID) (int64, error)
	ListOrders(ctx context.Context, params ListParams) ([]domain.Order, int, error)
}

// WorkflowReader provides the per-order rows the workflow rules run on.
type WorkflowReader interface {
	ListWorkUnits(ctx context.Context, orderID uuid.UUID) ([]domain.WorkUnit, error)
	ListStageHistory(ctx context.Context, orderID uuid.UUID) ([]domain.StageHistoryEntry, error)
	ListWorkUnitHistory(ctx context.Context, orderID uuid.UUID) ([]domain.WorkUnitHistoryEntry, error)
	ListShortages(ctx context.Context, orderID uuid.UUID) ([]domain.ShortageRecord, error)
	ListReviewOutcomes(ctx context.Context, orderID uuid.UUID) ([]domain.ReviewOutcome, error)
}

// OrderWriter persists orders. Commit applies a change set atomically and
// only if the order is still at cs.ExpectedVersion, bumping the version.
type OrderWriter interface {
	CreateOrder(ctx context.Context, order domain.Order, first domain.StageHistoryEntry) (domain.Order, error)
	Commit(ctx context.Context, cs domain.ChangeSet) (domain.Order, error)
}

// Repository is the full store used by the production service.
type Repository interface {
	StageStore
	OrderReader
	WorkflowReader
	OrderWriter
}

// ListParams filters and pages ListOrders.
type ListParams struct {
	Status  *domain.OrderStatus
	StageID *uuid.UUID
	Search  string
	Limit   int
	Offset  int
}
