package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("invalid input")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrStatusConflict     = errors.New("booking status changed concurrently")
	ErrPaymentRequired    = errors.New("booking must be paid before it can be completed")
	ErrLabUnavailable     = errors.New("lab is not accepting bookings")
	ErrServiceUnavailable = errors.New("one or more services are unavailable at this lab")
	ErrInvalidReferral    = errors.New("referral code cannot be applied")
	ErrNotPayable         = errors.New("booking cannot be paid online")
	ErrAlreadyPaid        = errors.New("booking is already paid")
	ErrNotRefundable      = errors.New("booking has no payment to refund")
	ErrReportNotAllowed   = errors.New("reports can only be attached while processing or after completion")
	ErrNoReport           = errors.New("no report uploaded yet")
	ErrPresignUnsupported = errors.New("storage backend does not issue download links")
	ErrPaymentsDisabled   = errors.New("online payments are not configured")
)

type BookingRepository interface {
	// NextNumber allocates a booking number for day.
	NextNumber(ctx context.Context, day time.Time) (string, error)
	// Create inserts the booking and its items.
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	List(ctx context.Context, f BookingFilter, limit, offset int) ([]*Booking, int, error)
	// UpdateStatus moves the booking to to only if it is still in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
	SetPaymentStatus(ctx context.Context, id uuid.UUID, status string) error
	// SwapPaymentStatus sets the payment status to to only if it is still from.
	SwapPaymentStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
	SetReport(ctx context.Context, id uuid.UUID, key string) error
	AddHistory(ctx context.Context, h *StatusChange) error
	History(ctx context.Context, bookingID uuid.UUID) ([]*StatusChange, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByOrderID(ctx context.Context, orderID string) (*Payment, error)
	GetLatestForBooking(ctx context.Context, bookingID uuid.UUID) (*Payment, error)
	// MarkCaptured records the gateway payment id unless the payment is
	// already captured or refunded.
	MarkCaptured(ctx context.Context, id uuid.UUID, gatewayPaymentID string) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID) error
	// ClaimRefund moves a captured payment to refunding. Only one caller can
	// win the claim; the gateway is called by the winner.
	ClaimRefund(ctx context.Context, id uuid.UUID) (bool, error)
	// ReleaseRefund returns a refunding payment to captured.
	ReleaseRefund(ctx context.Context, id uuid.UUID) error
	// MarkRefunded completes a claimed refund.
	MarkRefunded(ctx context.Context, id uuid.UUID) error
}
