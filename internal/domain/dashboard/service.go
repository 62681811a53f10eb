// Package dashboard aggregates booking, revenue and commission figures for
// each role's landing page.
package dashboard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labbook/labbook/internal/platform/auth"
)

const topServicesLimit = 5

type Service struct {
	repo   Repository
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now, logger: zerolog.Nop()}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

func (s *Service) AdminStats(ctx context.Context, p *auth.Principal) (*AdminStats, error) {
	if !p.IsAdmin() {
		return nil, ErrForbidden
	}
	out := &AdminStats{GeneratedAt: s.now().UTC()}
	var err error
	if out.UsersByRole, err = s.repo.UsersByRole(ctx); err != nil {
		return nil, err
	}
	if out.LabsByStatus, err = s.repo.LabsByStatus(ctx); err != nil {
		return nil, err
	}
	if out.BookingsByStatus, err = s.repo.BookingsByStatus(ctx, Scope{}); err != nil {
		return nil, err
	}
	out.TotalBookings = out.BookingsByStatus.Total()
	if out.GrossRevenue, err = s.repo.Revenue(ctx, Scope{}); err != nil {
		return nil, err
	}
	if out.Commissions, err = s.repo.CommissionSummary(ctx, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// LabStats reports on the caller's lab. Admins name the lab explicitly.
func (s *Service) LabStats(ctx context.Context, p *auth.Principal, labID *uuid.UUID) (*LabStats, error) {
	switch {
	case p.IsAdmin():
		if labID == nil {
			return nil, ErrNoScope
		}
	case p != nil && p.Role == auth.RoleLabPartner && p.LabID != nil:
		if labID != nil && *labID != *p.LabID {
			return nil, ErrForbidden
		}
		labID = p.LabID
	default:
		return nil, ErrForbidden
	}

	now := s.now().UTC()
	scope := Scope{LabID: labID}
	out := &LabStats{LabID: *labID, GeneratedAt: now}
	var err error
	if out.BookingsByStatus, err = s.repo.BookingsByStatus(ctx, scope); err != nil {
		return nil, err
	}
	out.TotalBookings = out.BookingsByStatus.Total()
	if out.Revenue, err = s.repo.Revenue(ctx, scope); err != nil {
		return nil, err
	}
	day := now.Truncate(24 * time.Hour)
	if out.TodayBookings, err = s.repo.ScheduledBetween(ctx, scope, day, day.Add(24*time.Hour)); err != nil {
		return nil, err
	}
	if out.TopServices, err = s.repo.TopServices(ctx, *labID, topServicesLimit); err != nil {
		return nil, err
	}
	return out, nil
}

// SalesStats reports on a sales executive's referrals and commission.
func (s *Service) SalesStats(ctx context.Context, p *auth.Principal, salesExecID *uuid.UUID) (*SalesStats, error) {
	switch {
	case p.IsAdmin():
		if salesExecID == nil {
			return nil, ErrNoScope
		}
	case p != nil && p.Role == auth.RoleSalesExecutive && p.SalesExecID != nil:
		if salesExecID != nil && *salesExecID != *p.SalesExecID {
			return nil, ErrForbidden
		}
		salesExecID = p.SalesExecID
	default:
		return nil, ErrForbidden
	}

	now := s.now().UTC()
	out := &SalesStats{SalesExecID: *salesExecID, GeneratedAt: now}
	var err error
	if out.ActiveCodes, err = s.repo.ActiveCodes(ctx, *salesExecID, now); err != nil {
		return nil, err
	}
	if out.BookingsByStatus, err = s.repo.BookingsByStatus(ctx, Scope{SalesExecID: salesExecID}); err != nil {
		return nil, err
	}
	out.ReferredBookings = out.BookingsByStatus.Total()
	if out.Commissions, err = s.repo.CommissionSummary(ctx, salesExecID); err != nil {
		return nil, err
	}
	out.PendingPayout = out.Commissions.Earned.Amount
	return out, nil
}

func (s *Service) PatientStats(ctx context.Context, p *auth.Principal) (*PatientStats, error) {
	if p == nil || p.Role != auth.RolePatient {
		return nil, ErrForbidden
	}
	id := p.UserID
	scope := Scope{PatientID: &id}
	now := s.now().UTC()
	out := &PatientStats{GeneratedAt: now}
	var err error
	if out.BookingsByStatus, err = s.repo.BookingsByStatus(ctx, scope); err != nil {
		return nil, err
	}
	out.TotalBookings = out.BookingsByStatus.Total()
	if out.TotalSpent, err = s.repo.Revenue(ctx, scope); err != nil {
		return nil, err
	}
	if out.UpcomingBookings, err = s.repo.ScheduledBetween(ctx, scope, now, farFuture); err != nil {
		return nil, err
	}
	if out.ReportsReady, err = s.repo.ReportsReady(ctx, scope); err != nil {
		return nil, err
	}
	return out, nil
}

var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// ForPrincipal picks the dashboard matching the caller's role.
func (s *Service) ForPrincipal(ctx context.Context, p *auth.Principal) (interface{}, error) {
	if p == nil {
		return nil, ErrForbidden
	}
	switch p.Role {
	case auth.RoleSuperAdmin:
		return s.AdminStats(ctx, p)
	case auth.RoleLabPartner:
		return s.LabStats(ctx, p, nil)
	case auth.RoleSalesExecutive:
		return s.SalesStats(ctx, p, nil)
	case auth.RolePatient:
		return s.PatientStats(ctx, p)
	}
	return nil, ErrForbidden
}
