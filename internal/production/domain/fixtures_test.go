package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"atelier_backend/platform/apperr"
)

var (
	refShirt   = uuid.MustParse("00000000-0000-0000-0000-00000000a001")
	sizeS      = uuid.MustParse("00000000-0000-0000-0000-00000000b001")
	sizeM      = uuid.MustParse("00000000-0000-0000-0000-00000000b002")
	sizeL      = uuid.MustParse("00000000-0000-0000-0000-00000000b003")
	workshopA  = uuid.MustParse("00000000-0000-0000-0000-00000000c001")
	workshopB  = uuid.MustParse("00000000-0000-0000-0000-00000000c002")
	workerAna  = uuid.MustParse("00000000-0000-0000-0000-00000000d001")
	workerBeto = uuid.MustParse("00000000-0000-0000-0000-00000000d002")

	t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
)

func mustCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}
	return c
}

func mustStage(t *testing.T, c *Catalog, code string) Stage {
	t.Helper()
	s, ok := c.ByCode(code)
	if !ok {
		t.Fatalf("stage %s missing from catalog", code)
	}
	return s
}

func orderAt(stage Stage, lines ...OrderLine) Order {
	total := 0
	for _, l := range lines {
		total += l.Quantity
	}
	return Order{
		ID:             uuid.MustParse("00000000-0000-0000-0000-0000000000f1"),
		Client:         "Maison Laurent",
		CurrentStageID: stage.ID,
		Status:         OrderStatusActive,
		TotalUnits:     total,
		Version:        7,
		CreatedAt:      t0,
		LastModifiedAt: t0,
		Lines:          lines,
	}
}

func unitAt(stage Stage, size uuid.UUID, qty int, created time.Time) WorkUnit {
	return WorkUnit{
		ID:          uuid.New(),
		OrderID:     uuid.MustParse("00000000-0000-0000-0000-0000000000f1"),
		ReferenceID: refShirt,
		SizeID:      size,
		Quantity:    qty,
		StageID:     stage.ID,
		Status:      WorkUnitPending,
		CreatedAt:   created,
	}
}

func withWorkshop(u WorkUnit, id uuid.UUID) WorkUnit {
	u.WorkshopID = uuidPtr(id)
	return u
}

func withWorker(u WorkUnit, id uuid.UUID) WorkUnit {
	u.WorkerID = uuidPtr(id)
	return u
}

func withStatus(u WorkUnit, status WorkUnitStatus, at time.Time) WorkUnit {
	u.Status = status
	u.CompletedAt = timePtr(at)
	return u
}

func newID() uuid.UUID { return uuid.New() }

func asAppErr(err error, target **apperr.Error) bool {
	return errors.As(err, target)
}
