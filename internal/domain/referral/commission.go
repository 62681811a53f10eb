package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/labbook/labbook/internal/platform/auth"
	"github.com/labbook/labbook/internal/platform/notification"
)

// Notifier queues a templated email.
type Notifier interface {
	Notify(ctx context.Context, templateID, to string, data map[string]string) error
}

// CommissionService settles, reverses and pays out commissions. Settle and
// Reverse are meant to run inside the caller's transaction.
type CommissionService struct {
	codes       CodeRepository
	commissions CommissionRepository
	execs       ExecutiveLookup
	notifier    Notifier
	now         func() time.Time
	logger      zerolog.Logger
}

func NewCommissionService(codes CodeRepository, commissions CommissionRepository, execs ExecutiveLookup) *CommissionService {
	return &CommissionService{
		codes:       codes,
		commissions: commissions,
		execs:       execs,
		now:         time.Now,
		logger:      zerolog.Nop(),
	}
}

func (s *CommissionService) SetNotifier(n Notifier)     { s.notifier = n }
func (s *CommissionService) SetLogger(l zerolog.Logger) { s.logger = l }

// Settle credits the referring executive for a completed booking. It is a
// no-op for bookings without a referral code. The commission row is unique
// per booking, so a repeated call returns the existing row with created
// false and leaves the code counters untouched.
func (s *CommissionService) Settle(ctx context.Context, in SettleInput) (*Commission, bool, error) {
	if in.ReferralCodeID == nil {
		return nil, false, nil
	}
	code, err := s.codes.GetByID(ctx, *in.ReferralCodeID)
	if err != nil {
		return nil, false, fmt.Errorf("load referral code: %w", err)
	}
	exec, err := s.execs.GetSalesExecutive(ctx, code.SalesExecID)
	if err != nil {
		return nil, false, fmt.Errorf("load sales executive: %w", err)
	}

	c := &Commission{
		BookingID:      in.BookingID,
		SalesExecID:    code.SalesExecID,
		ReferralCodeID: code.ID,
		BaseAmount:     in.TotalAmount,
		Rate:           exec.CommissionRate,
		Amount:         CommissionAmount(in.TotalAmount, exec.CommissionRate),
		Status:         CommissionEarned,
	}
	inserted, err := s.commissions.InsertIfAbsent(ctx, c)
	if err != nil {
		return nil, false, fmt.Errorf("insert commission: %w", err)
	}
	if !inserted {
		existing, err := s.commissions.GetByBooking(ctx, in.BookingID)
		if err != nil {
			return nil, false, err
		}
		s.logger.Debug().Str("booking_id", in.BookingID.String()).Msg("commission already settled")
		return existing, false, nil
	}
	if err := s.codes.IncrementUsage(ctx, code.ID, c.Amount); err != nil {
		return nil, false, fmt.Errorf("update referral counters: %w", err)
	}

	s.logger.Info().
		Str("booking_id", in.BookingID.String()).
		Str("sales_exec_id", c.SalesExecID.String()).
		Str("amount", c.Amount.StringFixed(2)).
		Msg("commission earned")
	return c, true, nil
}

// NotifyEarned tells the executive about a new commission. Call it after the
// settling transaction has committed.
func (s *CommissionService) NotifyEarned(ctx context.Context, c *Commission, bookingNumber string) {
	if s.notifier == nil || c == nil {
		return
	}
	exec, err := s.execs.GetSalesExecutive(ctx, c.SalesExecID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("commission notification skipped")
		return
	}
	code, err := s.codes.GetByID(ctx, c.ReferralCodeID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("commission notification skipped")
		return
	}
	err = s.notifier.Notify(ctx, notification.TemplateCommissionEarned, exec.Email, map[string]string{
		"name":           exec.Name,
		"code":           code.Code,
		"amount":         c.Amount.StringFixed(2),
		"booking_number": bookingNumber,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("commission notification not queued")
	}
}

// Reverse cancels the commission earned on a booking and rolls back the
// code counters. A paid commission is left as is and ErrAlreadyPaid is
// returned with it. Bookings without a commission return nil, nil.
func (s *CommissionService) Reverse(ctx context.Context, bookingID uuid.UUID) (*Commission, error) {
	c, err := s.commissions.GetByBooking(ctx, bookingID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	switch c.Status {
	case CommissionCancelled:
		return c, nil
	case CommissionPaid:
		return c, ErrAlreadyPaid
	}

	cancelled, err := s.commissions.Cancel(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("cancel commission: %w", err)
	}
	if !cancelled {
		// Lost a race with a payout or another reversal.
		current, err := s.commissions.GetByID(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == CommissionPaid {
			return current, ErrAlreadyPaid
		}
		return current, nil
	}
	if err := s.codes.DecrementUsage(ctx, c.ReferralCodeID, c.Amount); err != nil {
		return nil, fmt.Errorf("update referral counters: %w", err)
	}
	c.Status = CommissionCancelled

	s.logger.Info().Str("booking_id", bookingID.String()).Msg("commission reversed")
	return c, nil
}

// MarkPaid records a payout for the earned commissions among ids and
// returns how many were updated.
func (s *CommissionService) MarkPaid(ctx context.Context, ids []uuid.UUID, payoutRef string) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: ids are required", ErrValidation)
	}
	if payoutRef == "" {
		return 0, fmt.Errorf("%w: payout_ref is required", ErrValidation)
	}
	n, err := s.commissions.MarkPaid(ctx, ids, payoutRef, s.now())
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int("count", n).Str("payout_ref", payoutRef).Msg("commissions paid")
	return n, nil
}

func (s *CommissionService) ListCommissions(ctx context.Context, p *auth.Principal, f CommissionFilter, limit, offset int) ([]*Commission, int, error) {
	if f.Status != "" && !validCommissionStatuses[f.Status] {
		return nil, 0, fmt.Errorf("%w: invalid status %q", ErrValidation, f.Status)
	}
	if !p.IsAdmin() {
		if p == nil || p.SalesExecID == nil {
			return nil, 0, ErrForbidden
		}
		f.SalesExecID = p.SalesExecID
	}
	return s.commissions.List(ctx, f, limit, offset)
}

// Summary totals commissions per status for the caller, or for salesExecID
// (all executives when nil) when the caller is an admin.
func (s *CommissionService) Summary(ctx context.Context, p *auth.Principal, salesExecID *uuid.UUID) (*CommissionSummary, error) {
	if !p.IsAdmin() {
		if p == nil || p.SalesExecID == nil {
			return nil, ErrForbidden
		}
		salesExecID = p.SalesExecID
	}
	return s.commissions.Summary(ctx, salesExecID)
}

// CommissionAmount is total * rate / 100 rounded to two decimals.
func CommissionAmount(total, rate decimal.Decimal) decimal.Decimal {
	return total.Mul(rate).Div(decimal.NewFromInt(100)).Round(2)
}
