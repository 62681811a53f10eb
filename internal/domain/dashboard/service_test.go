package dashboard

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labbook/labbook/internal/domain/referral"
	"github.com/labbook/labbook/internal/platform/auth"
)

// mockRepo answers from fixed figures and records the scopes it was asked for.
type mockRepo struct {
	scopes    []Scope
	windows   [][2]time.Time
	topFor    *uuid.UUID
	execFor   *uuid.UUID
	failUsers bool
}

func (m *mockRepo) UsersByRole(context.Context) (Counts, error) {
	if m.failUsers {
		return nil, errors.New("connection refused")
	}
	return Counts{"patient": 10, "lab_partner": 2, "sales_executive": 1, "super_admin": 1}, nil
}

func (m *mockRepo) LabsByStatus(context.Context) (Counts, error) {
	return Counts{"approved": 2, "pending": 1}, nil
}

func (m *mockRepo) BookingsByStatus(_ context.Context, s Scope) (Counts, error) {
	m.scopes = append(m.scopes, s)
	return Counts{"pending": 3, "completed": 4, "cancelled": 1}, nil
}

func (m *mockRepo) Revenue(_ context.Context, s Scope) (decimal.Decimal, error) {
	m.scopes = append(m.scopes, s)
	return decimal.RequireFromString("1234.50"), nil
}

func (m *mockRepo) ScheduledBetween(_ context.Context, s Scope, from, to time.Time) (int, error) {
	m.scopes = append(m.scopes, s)
	m.windows = append(m.windows, [2]time.Time{from, to})
	return 2, nil
}

func (m *mockRepo) ReportsReady(_ context.Context, s Scope) (int, error) {
	m.scopes = append(m.scopes, s)
	return 1, nil
}

func (m *mockRepo) TopServices(_ context.Context, labID uuid.UUID, limit int) ([]ServiceCount, error) {
	m.topFor = &labID
	return []ServiceCount{{ServiceID: uuid.New(), Name: "CBC", Bookings: 5, Revenue: decimal.NewFromInt(1500)}}, nil
}

func (m *mockRepo) CommissionSummary(_ context.Context, salesExecID *uuid.UUID) (*referral.CommissionSummary, error) {
	m.execFor = salesExecID
	return &referral.CommissionSummary{
		SalesExecID: salesExecID,
		Earned:      referral.Totals{Count: 2, Amount: decimal.NewFromInt(90)},
		Paid:        referral.Totals{Count: 1, Amount: decimal.NewFromInt(40)},
	}, nil
}

func (m *mockRepo) ActiveCodes(context.Context, uuid.UUID, time.Time) (int, error) {
	return 3, nil
}

var fixedNow = time.Date(2026, 5, 14, 15, 30, 0, 0, time.UTC)

func newTestService() (*Service, *mockRepo) {
	repo := &mockRepo{}
	svc := NewService(repo)
	svc.now = func() time.Time { return fixedNow }
	return svc, repo
}

var admin = &auth.Principal{UserID: uuid.New(), Role: auth.RoleSuperAdmin}

func partnerOf(labID uuid.UUID) *auth.Principal {
	return &auth.Principal{UserID: uuid.New(), Role: auth.RoleLabPartner, LabID: &labID}
}

func execOf(id uuid.UUID) *auth.Principal {
	return &auth.Principal{UserID: uuid.New(), Role: auth.RoleSalesExecutive, SalesExecID: &id}
}

func TestCounts_Total(t *testing.T) {
	if n := (Counts{"a": 2, "b": 3}).Total(); n != 5 {
		t.Errorf("expected 5, got %d", n)
	}
	if n := (Counts{}).Total(); n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
}

func TestAdminStats(t *testing.T) {
	svc, repo := newTestService()
	out, err := svc.AdminStats(context.Background(), admin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.TotalBookings != 8 || out.UsersByRole["patient"] != 10 || out.LabsByStatus["approved"] != 2 {
		t.Errorf("unexpected stats %+v", out)
	}
	if !out.GrossRevenue.Equal(decimal.RequireFromString("1234.5")) {
		t.Errorf("unexpected revenue %s", out.GrossRevenue)
	}
	if repo.execFor != nil {
		t.Error("admin commission summary must not be scoped to one executive")
	}
	for _, s := range repo.scopes {
		if s != (Scope{}) {
			t.Errorf("admin aggregates must be unscoped, got %+v", s)
		}
	}

	partner := partnerOf(uuid.New())
	if _, err := svc.AdminStats(context.Background(), partner); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestAdminStats_RepoError(t *testing.T) {
	svc, repo := newTestService()
	repo.failUsers = true
	if _, err := svc.AdminStats(context.Background(), admin); err == nil {
		t.Error("expected repository error")
	}
}

func TestLabStats(t *testing.T) {
	svc, repo := newTestService()
	labID := uuid.New()

	out, err := svc.LabStats(context.Background(), partnerOf(labID), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.LabID != labID || out.TodayBookings != 2 || len(out.TopServices) != 1 {
		t.Errorf("unexpected stats %+v", out)
	}
	if repo.topFor == nil || *repo.topFor != labID {
		t.Error("top services must be scoped to the lab")
	}
	for _, s := range repo.scopes {
		if s.LabID == nil || *s.LabID != labID || s.PatientID != nil || s.SalesExecID != nil {
			t.Errorf("unexpected scope %+v", s)
		}
	}
	window := repo.windows[0]
	if !window[0].Equal(time.Date(2026, 5, 14, 0, 0, 0, 0, time.UTC)) || window[1].Sub(window[0]) != 24*time.Hour {
		t.Errorf("today's window is wrong: %v", window)
	}
}

func TestLabStats_Access(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	labID := uuid.New()
	other := uuid.New()

	if _, err := svc.LabStats(ctx, partnerOf(labID), &other); !errors.Is(err, ErrForbidden) {
		t.Errorf("partner cannot read another lab, got %v", err)
	}
	if _, err := svc.LabStats(ctx, partnerOf(labID), &labID); err != nil {
		t.Errorf("partner naming their own lab should work, got %v", err)
	}
	if _, err := svc.LabStats(ctx, admin, nil); !errors.Is(err, ErrNoScope) {
		t.Errorf("admin must name a lab, got %v", err)
	}
	if out, err := svc.LabStats(ctx, admin, &other); err != nil || out.LabID != other {
		t.Errorf("admin should read any lab, got %v", err)
	}
	patient := &auth.Principal{UserID: uuid.New(), Role: auth.RolePatient}
	if _, err := svc.LabStats(ctx, patient, &labID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.LabStats(ctx, &auth.Principal{Role: auth.RoleLabPartner}, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("partner without a lab should be forbidden, got %v", err)
	}
}

func TestSalesStats(t *testing.T) {
	svc, repo := newTestService()
	execID := uuid.New()

	out, err := svc.SalesStats(context.Background(), execOf(execID), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ActiveCodes != 3 || out.ReferredBookings != 8 {
		t.Errorf("unexpected stats %+v", out)
	}
	if !out.PendingPayout.Equal(decimal.NewFromInt(90)) {
		t.Errorf("pending payout should equal earned commission, got %s", out.PendingPayout)
	}
	if repo.execFor == nil || *repo.execFor != execID {
		t.Error("commission summary must be scoped to the executive")
	}
	if s := repo.scopes[0]; s.SalesExecID == nil || *s.SalesExecID != execID {
		t.Errorf("unexpected scope %+v", s)
	}

	other := uuid.New()
	if _, err := svc.SalesStats(context.Background(), execOf(execID), &other); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.SalesStats(context.Background(), admin, nil); !errors.Is(err, ErrNoScope) {
		t.Errorf("expected ErrNoScope, got %v", err)
	}
}

func TestPatientStats(t *testing.T) {
	svc, repo := newTestService()
	p := &auth.Principal{UserID: uuid.New(), Role: auth.RolePatient}

	out, err := svc.PatientStats(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.TotalBookings != 8 || out.UpcomingBookings != 2 || out.ReportsReady != 1 {
		t.Errorf("unexpected stats %+v", out)
	}
	if !out.TotalSpent.Equal(decimal.RequireFromString("1234.50")) {
		t.Errorf("unexpected total spent %s", out.TotalSpent)
	}
	for _, s := range repo.scopes {
		if s.PatientID == nil || *s.PatientID != p.UserID {
			t.Errorf("patient aggregates must be scoped to the caller, got %+v", s)
		}
	}
	if !repo.windows[0][0].Equal(fixedNow) {
		t.Errorf("upcoming window should start now, got %v", repo.windows[0][0])
	}

	if _, err := svc.PatientStats(context.Background(), admin); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestForPrincipal(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name string
		p    *auth.Principal
		want string
	}{
		{"admin", admin, "*dashboard.AdminStats"},
		{"lab partner", partnerOf(uuid.New()), "*dashboard.LabStats"},
		{"sales", execOf(uuid.New()), "*dashboard.SalesStats"},
		{"patient", &auth.Principal{UserID: uuid.New(), Role: auth.RolePatient}, "*dashboard.PatientStats"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := svc.ForPrincipal(ctx, tt.p)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := fmt.Sprintf("%T", out); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}

	if _, err := svc.ForPrincipal(ctx, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}
