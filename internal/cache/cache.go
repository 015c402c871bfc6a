package cache

import (
	"context"

	"kasirledger/backend/internal/domain"
)

// ShiftCache holds the last known shift per employee for offline gating.
type ShiftCache interface {
	// GetShift returns nil, nil when nothing is cached for the employee.
	GetShift(ctx context.Context, tenantID string, employeeID string) (*domain.Shift, error)
	PutShift(ctx context.Context, shift domain.Shift) error
	ListUnsyncedEmergency(ctx context.Context, tenantID string) ([]domain.Shift, error)
}
