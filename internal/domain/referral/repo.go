package referral

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("invalid input")
	ErrForbidden         = errors.New("forbidden")
	ErrCodeTaken         = errors.New("referral code already exists")
	ErrCodeInactive      = errors.New("referral code is inactive")
	ErrCodeExpired       = errors.New("referral code has expired")
	ErrCodeExhausted     = errors.New("referral code has reached its usage limit")
	ErrExecutiveInactive = errors.New("sales executive is inactive")
	ErrAlreadyPaid       = errors.New("commission already paid out")
)

type CodeRepository interface {
	Create(ctx context.Context, c *ReferralCode) error
	GetByID(ctx context.Context, id uuid.UUID) (*ReferralCode, error)
	GetByCode(ctx context.Context, code string) (*ReferralCode, error)
	List(ctx context.Context, f CodeFilter, limit, offset int) ([]*ReferralCode, int, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	IncrementUsage(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
	DecrementUsage(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
}

type CommissionRepository interface {
	// InsertIfAbsent inserts c unless a commission already exists for
	// c.BookingID, and reports whether a row was written.
	InsertIfAbsent(ctx context.Context, c *Commission) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Commission, error)
	GetByBooking(ctx context.Context, bookingID uuid.UUID) (*Commission, error)
	List(ctx context.Context, f CommissionFilter, limit, offset int) ([]*Commission, int, error)
	// Cancel moves an earned commission to cancelled.
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	// MarkPaid moves the earned commissions among ids to paid.
	MarkPaid(ctx context.Context, ids []uuid.UUID, payoutRef string, at time.Time) (int, error)
	Summary(ctx context.Context, salesExecID *uuid.UUID) (*CommissionSummary, error)
}
