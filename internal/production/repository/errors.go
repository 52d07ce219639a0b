package repository

import (
	"fmt"

	"github.com/google/uuid"

	"atelier_backend/internal/production/domain"
	"atelier_backend/platform/apperr"
)

func orderNotFound(id uuid.UUID) error {
	return apperr.NotFound(fmt.Sprintf("order %s not found", id))
}

func staleVersion(id uuid.UUID, expected, current int64) error {
	return domain.CheckVersion(domain.Order{ID: id, Version: current}, expected)
}

func alreadyReviewed(unitID uuid.UUID) error {
	if unitID == uuid.Nil {
		return apperr.Conflict("a work unit in this change already has a review outcome")
	}
	return apperr.Conflict(fmt.Sprintf("work unit %s already has a review outcome", unitID))
}
