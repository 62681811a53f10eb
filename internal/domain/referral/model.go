package referral

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Commission statuses.
const (
	CommissionEarned    = "earned"
	CommissionPaid      = "paid"
	CommissionCancelled = "cancelled"
)

var validCommissionStatuses = map[string]bool{
	CommissionEarned:    true,
	CommissionPaid:      true,
	CommissionCancelled: true,
}

// MaxDiscountPercent caps the patient discount a referral code may carry.
var MaxDiscountPercent = decimal.NewFromInt(50)

// ReferralCode is owned by a sales executive and attached to bookings.
type ReferralCode struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	Code            string          `db:"code" json:"code"`
	SalesExecID     uuid.UUID       `db:"sales_exec_id" json:"sales_exec_id"`
	DiscountPercent decimal.Decimal `db:"discount_percent" json:"discount_percent"`
	MaxUses         *int            `db:"max_uses" json:"max_uses,omitempty"`
	UsesCount       int             `db:"uses_count" json:"uses_count"`
	TotalEarned     decimal.Decimal `db:"total_earned" json:"total_earned"`
	Active          bool            `db:"active" json:"active"`
	ExpiresAt       *time.Time      `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Usable reports why the code cannot be applied at now, or nil.
func (c *ReferralCode) Usable(now time.Time) error {
	switch {
	case !c.Active:
		return ErrCodeInactive
	case c.ExpiresAt != nil && !now.Before(*c.ExpiresAt):
		return ErrCodeExpired
	case c.MaxUses != nil && c.UsesCount >= *c.MaxUses:
		return ErrCodeExhausted
	}
	return nil
}

// Discount is the amount taken off subtotal, rounded to paise.
func (c *ReferralCode) Discount(subtotal decimal.Decimal) decimal.Decimal {
	if !c.DiscountPercent.IsPositive() {
		return decimal.Zero
	}
	return subtotal.Mul(c.DiscountPercent).Div(decimal.NewFromInt(100)).Round(2)
}

type CreateCodeInput struct {
	Code            string          `json:"code"`
	SalesExecID     *uuid.UUID      `json:"sales_exec_id"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	MaxUses         *int            `json:"max_uses"`
	ExpiresAt       *time.Time      `json:"expires_at"`
}

type CodeFilter struct {
	SalesExecID *uuid.UUID
	ActiveOnly  bool
}

// Validation is the public answer to "can I use this code?".
type Validation struct {
	Code            string          `json:"code"`
	Valid           bool            `json:"valid"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Reason          string          `json:"reason,omitempty"`
}

// Commission is earned by a sales executive when a referred booking completes.
type Commission struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	BookingID      uuid.UUID       `db:"booking_id" json:"booking_id"`
	SalesExecID    uuid.UUID       `db:"sales_exec_id" json:"sales_exec_id"`
	ReferralCodeID uuid.UUID       `db:"referral_code_id" json:"referral_code_id"`
	BaseAmount     decimal.Decimal `db:"base_amount" json:"base_amount"`
	Rate           decimal.Decimal `db:"rate" json:"rate"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Status         string          `db:"status" json:"status"`
	PayoutRef      *string         `db:"payout_ref" json:"payout_ref,omitempty"`
	PaidAt         *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

type CommissionFilter struct {
	SalesExecID *uuid.UUID
	Status      string
	From        *time.Time
	To          *time.Time
}

// Totals is a count and sum of commission amounts.
type Totals struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type CommissionSummary struct {
	SalesExecID *uuid.UUID `json:"sales_exec_id,omitempty"`
	Earned      Totals     `json:"earned"`
	Paid        Totals     `json:"paid"`
	Cancelled   Totals     `json:"cancelled"`
}

// Add folds one status row into the summary.
func (s *CommissionSummary) Add(status string, count int, amount decimal.Decimal) {
	t := Totals{Count: count, Amount: amount}
	switch status {
	case CommissionEarned:
		s.Earned = t
	case CommissionPaid:
		s.Paid = t
	case CommissionCancelled:
		s.Cancelled = t
	}
}

// SettleInput carries the booking fields commission settlement needs.
type SettleInput struct {
	BookingID      uuid.UUID
	BookingNumber  string
	ReferralCodeID *uuid.UUID
	TotalAmount    decimal.Decimal
}

type PayoutRequest struct {
	IDs       []uuid.UUID `json:"ids"`
	PayoutRef string      `json:"payout_ref"`
}
