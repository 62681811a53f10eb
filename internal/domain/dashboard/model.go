package dashboard

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labbook/labbook/internal/domain/referral"
)

// Counts maps a status or role to the number of rows in it.
type Counts map[string]int

// Total sums every bucket.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Scope narrows booking aggregates. A zero Scope covers every booking.
type Scope struct {
	LabID       *uuid.UUID
	PatientID   *uuid.UUID
	SalesExecID *uuid.UUID
}

type ServiceCount struct {
	ServiceID uuid.UUID       `json:"service_id"`
	Name      string          `json:"name"`
	Bookings  int             `json:"bookings"`
	Revenue   decimal.Decimal `json:"revenue"`
}

type AdminStats struct {
	UsersByRole      Counts                      `json:"users_by_role"`
	LabsByStatus     Counts                      `json:"labs_by_status"`
	BookingsByStatus Counts                      `json:"bookings_by_status"`
	TotalBookings    int                         `json:"total_bookings"`
	GrossRevenue     decimal.Decimal             `json:"gross_revenue"`
	Commissions      *referral.CommissionSummary `json:"commissions"`
	GeneratedAt      time.Time                   `json:"generated_at"`
}

type LabStats struct {
	LabID            uuid.UUID       `json:"lab_id"`
	BookingsByStatus Counts          `json:"bookings_by_status"`
	TotalBookings    int             `json:"total_bookings"`
	Revenue          decimal.Decimal `json:"revenue"`
	TodayBookings    int             `json:"today_bookings"`
	TopServices      []ServiceCount  `json:"top_services"`
	GeneratedAt      time.Time       `json:"generated_at"`
}

type SalesStats struct {
	SalesExecID      uuid.UUID                   `json:"sales_exec_id"`
	ActiveCodes      int                         `json:"active_codes"`
	ReferredBookings int                         `json:"referred_bookings"`
	BookingsByStatus Counts                      `json:"bookings_by_status"`
	Commissions      *referral.CommissionSummary `json:"commissions"`
	// PendingPayout is commission earned but not yet paid out.
	PendingPayout decimal.Decimal `json:"pending_payout"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

type PatientStats struct {
	BookingsByStatus Counts          `json:"bookings_by_status"`
	TotalBookings    int             `json:"total_bookings"`
	TotalSpent       decimal.Decimal `json:"total_spent"`
	UpcomingBookings int             `json:"upcoming_bookings"`
	ReportsReady     int             `json:"reports_ready"`
	GeneratedAt      time.Time       `json:"generated_at"`
}
