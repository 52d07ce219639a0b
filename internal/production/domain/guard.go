package domain

import (
	"fmt"

	"atelier_backend/platform/apperr"
)

// VersionConflict details are returned to callers so they can re-fetch.
type VersionConflict struct {
	OrderID         string `json:"orderId"`
	ExpectedVersion int64  `json:"expectedVersion"`
	CurrentVersion  int64  `json:"currentVersion"`
}

// CheckVersion rejects a mutation prepared against a stale read of the
// order. The caller must re-fetch and retry; nothing is merged.
func CheckVersion(order Order, expected int64) error {
	if order.Version == expected {
		return nil
	}
	return apperr.Conflict(fmt.Sprintf("order was modified by another user (version %d, expected %d)", order.Version, expected)).
		WithDetails(VersionConflict{
			OrderID:         order.ID.String(),
			ExpectedVersion: expected,
			CurrentVersion:  order.Version,
		})
}

// CheckMutable rejects mutations on completed or cancelled orders.
func CheckMutable(order Order) error {
	if order.Status.IsTerminal() {
		return apperr.Conflict(fmt.Sprintf("order is %s", order.Status))
	}
	return nil
}
