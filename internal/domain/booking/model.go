package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Booking statuses.
const (
	StatusPending         = "pending"
	StatusConfirmed       = "confirmed"
	StatusSampleCollected = "sample_collected"
	StatusProcessing      = "processing"
	StatusCompleted       = "completed"
	StatusCancelled       = "cancelled"
)

// Payment statuses on a booking.
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

const (
	MethodOnline = "online"
	MethodCash   = "cash"

	CollectionLab  = "lab"
	CollectionHome = "home"
)

// Gateway payment record statuses.
const (
	PayCreated   = "created"
	PayCaptured  = "captured"
	PayFailed    = "failed"
	PayRefunding = "refunding"
	PayRefunded  = "refunded"
)

type Booking struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	BookingNumber     string          `db:"booking_number" json:"booking_number"`
	PatientID         uuid.UUID       `db:"patient_id" json:"patient_id"`
	LabID             uuid.UUID       `db:"lab_id" json:"lab_id"`
	Items             []*BookingItem  `json:"items"`
	Subtotal          decimal.Decimal `db:"subtotal" json:"subtotal"`
	Discount          decimal.Decimal `db:"discount" json:"discount"`
	TotalAmount       decimal.Decimal `db:"total_amount" json:"total_amount"`
	ReferralCodeID    *uuid.UUID      `db:"referral_code_id" json:"referral_code_id,omitempty"`
	Status            string          `db:"status" json:"status"`
	PaymentStatus     string          `db:"payment_status" json:"payment_status"`
	PaymentMethod     string          `db:"payment_method" json:"payment_method"`
	CollectionType    string          `db:"collection_type" json:"collection_type"`
	CollectionAddress *string         `db:"collection_address" json:"collection_address,omitempty"`
	ScheduledAt       time.Time       `db:"scheduled_at" json:"scheduled_at"`
	ReportKey         *string         `db:"report_key" json:"-"`
	HasReport         bool            `json:"has_report"`
	Notes             *string         `db:"notes" json:"notes,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether no further status change is possible.
func (b *Booking) IsTerminal() bool {
	return b.Status == StatusCompleted || b.Status == StatusCancelled
}

type BookingItem struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	BookingID uuid.UUID       `db:"booking_id" json:"-"`
	ServiceID uuid.UUID       `db:"service_id" json:"service_id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
}

// StatusChange is one row of a booking's status history.
type StatusChange struct {
	ID         uuid.UUID `db:"id" json:"id"`
	BookingID  uuid.UUID `db:"booking_id" json:"booking_id"`
	FromStatus string    `db:"from_status" json:"from_status"`
	ToStatus   string    `db:"to_status" json:"to_status"`
	ChangedBy  uuid.UUID `db:"changed_by" json:"changed_by"`
	Note       *string   `db:"note" json:"note,omitempty"`
	ChangedAt  time.Time `db:"changed_at" json:"changed_at"`
}

type Payment struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	BookingID        uuid.UUID       `db:"booking_id" json:"booking_id"`
	OrderID          string          `db:"order_id" json:"order_id"`
	GatewayPaymentID *string         `db:"gateway_payment_id" json:"gateway_payment_id,omitempty"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Currency         string          `db:"currency" json:"currency"`
	Status           string          `db:"status" json:"status"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

type CreateBookingInput struct {
	LabID             uuid.UUID   `json:"lab_id"`
	ServiceIDs        []uuid.UUID `json:"service_ids"`
	PaymentMethod     string      `json:"payment_method"`
	CollectionType    string      `json:"collection_type"`
	CollectionAddress *string     `json:"collection_address"`
	ScheduledAt       time.Time   `json:"scheduled_at"`
	ReferralCode      string      `json:"referral_code"`
	Notes             *string     `json:"notes"`
}

type BookingFilter struct {
	PatientID     *uuid.UUID
	LabID         *uuid.UUID
	Status        string
	PaymentStatus string
	From          *time.Time
	To            *time.Time
}

type StatusUpdate struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

type ConfirmPaymentInput struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// FormatBookingNumber renders LB-YYYYMMDD-NNNNNN from the day and a
// sequence value.
func FormatBookingNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("LB-%s-%06d", day.UTC().Format("20060102"), seq%1000000)
}
