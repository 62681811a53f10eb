package dashboard

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labbook/labbook/internal/domain/referral"
)

var (
	ErrForbidden = errors.New("forbidden")
	ErrNoScope   = errors.New("dashboard scope is required")
)

// Repository runs the aggregate queries behind every dashboard.
type Repository interface {
	UsersByRole(ctx context.Context) (Counts, error)
	LabsByStatus(ctx context.Context) (Counts, error)
	BookingsByStatus(ctx context.Context, s Scope) (Counts, error)
	// Revenue sums the totals of paid bookings in scope.
	Revenue(ctx context.Context, s Scope) (decimal.Decimal, error)
	// ScheduledBetween counts non-cancelled bookings scheduled in [from, to).
	ScheduledBetween(ctx context.Context, s Scope, from, to time.Time) (int, error)
	ReportsReady(ctx context.Context, s Scope) (int, error)
	TopServices(ctx context.Context, labID uuid.UUID, limit int) ([]ServiceCount, error)
	CommissionSummary(ctx context.Context, salesExecID *uuid.UUID) (*referral.CommissionSummary, error)
	ActiveCodes(ctx context.Context, salesExecID uuid.UUID, now time.Time) (int, error)
}
