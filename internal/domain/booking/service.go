// Package booking implements patient bookings, their status state machine,
// lab reports and the online payment flow.
package booking

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/labbook/labbook/internal/domain/identity"
	"github.com/labbook/labbook/internal/domain/lab"
	"github.com/labbook/labbook/internal/domain/referral"
	"github.com/labbook/labbook/internal/platform/auth"
	"github.com/labbook/labbook/internal/platform/blobstore"
	"github.com/labbook/labbook/internal/platform/db"
	"github.com/labbook/labbook/internal/platform/notification"
	"github.com/labbook/labbook/internal/platform/payment"
)

// LabCatalog resolves the lab and catalog entries a booking is made against.
type LabCatalog interface {
	GetLabForBooking(ctx context.Context, id uuid.UUID) (*lab.Lab, error)
	ServicesByIDs(ctx context.Context, ids []uuid.UUID) ([]*lab.LabService, error)
}

// ReferralResolver turns a code typed by the patient into a usable referral.
type ReferralResolver interface {
	Resolve(ctx context.Context, code string) (*referral.ReferralCode, error)
}

// CommissionSettler is the part of referral.CommissionService bookings use.
type CommissionSettler interface {
	Settle(ctx context.Context, in referral.SettleInput) (*referral.Commission, bool, error)
	NotifyEarned(ctx context.Context, c *referral.Commission, bookingNumber string)
	Reverse(ctx context.Context, bookingID uuid.UUID) (*referral.Commission, error)
}

// UserLookup finds the patient to address notifications to.
type UserLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

// Notifier queues a templated email.
type Notifier interface {
	Notify(ctx context.Context, templateID, to string, data map[string]string) error
}

type Service struct {
	bookings    BookingRepository
	payments    PaymentRepository
	tx          db.TxRunner
	catalog     LabCatalog
	referrals   ReferralResolver
	commissions CommissionSettler
	store       blobstore.Store

	gateway  payment.Gateway
	currency string
	users    UserLookup
	notifier Notifier
	now      func() time.Time
	logger   zerolog.Logger
}

func NewService(bookings BookingRepository, payments PaymentRepository, tx db.TxRunner, catalog LabCatalog,
	referrals ReferralResolver, commissions CommissionSettler, store blobstore.Store) *Service {
	return &Service{
		bookings:    bookings,
		payments:    payments,
		tx:          tx,
		catalog:     catalog,
		referrals:   referrals,
		commissions: commissions,
		store:       store,
		currency:    "INR",
		now:         time.Now,
		logger:      zerolog.Nop(),
	}
}

// SetGateway enables online payments through g, charging in currency.
func (s *Service) SetGateway(g payment.Gateway, currency string) {
	s.gateway = g
	if currency != "" {
		s.currency = currency
	}
}

func (s *Service) SetUsers(u UserLookup)      { s.users = u }
func (s *Service) SetNotifier(n Notifier)     { s.notifier = n }
func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

// -- Booking lifecycle --

func (s *Service) CreateBooking(ctx context.Context, p *auth.Principal, in CreateBookingInput) (*Booking, error) {
	if p == nil {
		return nil, ErrForbidden
	}
	if in.PaymentMethod != MethodOnline && in.PaymentMethod != MethodCash {
		return nil, fmt.Errorf("%w: payment_method must be %q or %q", ErrValidation, MethodOnline, MethodCash)
	}
	if in.CollectionType == "" {
		in.CollectionType = CollectionLab
	}
	if in.CollectionType != CollectionLab && in.CollectionType != CollectionHome {
		return nil, fmt.Errorf("%w: collection_type must be %q or %q", ErrValidation, CollectionLab, CollectionHome)
	}
	if in.CollectionType == CollectionHome {
		if in.CollectionAddress == nil || strings.TrimSpace(*in.CollectionAddress) == "" {
			return nil, fmt.Errorf("%w: collection_address is required for home collection", ErrValidation)
		}
	} else {
		in.CollectionAddress = nil
	}
	if !in.ScheduledAt.After(s.now()) {
		return nil, fmt.Errorf("%w: scheduled_at must be in the future", ErrValidation)
	}
	ids := uniqueIDs(in.ServiceIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one service is required", ErrValidation)
	}

	l, err := s.catalog.GetLabForBooking(ctx, in.LabID)
	if err != nil {
		if errors.Is(err, lab.ErrNotFound) {
			return nil, ErrLabUnavailable
		}
		return nil, err
	}
	if !l.IsApproved() {
		return nil, ErrLabUnavailable
	}

	services, err := s.catalog.ServicesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(services) != len(ids) {
		return nil, ErrServiceUnavailable
	}
	b := &Booking{
		PatientID:         p.UserID,
		LabID:             l.ID,
		Status:            StatusPending,
		PaymentStatus:     PaymentPending,
		PaymentMethod:     in.PaymentMethod,
		CollectionType:    in.CollectionType,
		CollectionAddress: in.CollectionAddress,
		ScheduledAt:       in.ScheduledAt.UTC(),
		Notes:             in.Notes,
		Subtotal:          decimal.Zero,
		Discount:          decimal.Zero,
	}
	for _, svc := range services {
		if svc.LabID != l.ID || !svc.Active {
			return nil, ErrServiceUnavailable
		}
		if in.CollectionType == CollectionHome && !svc.HomeCollection {
			return nil, fmt.Errorf("%w: %s is not available for home collection", ErrServiceUnavailable, svc.Name)
		}
		price := svc.EffectivePrice()
		b.Items = append(b.Items, &BookingItem{ServiceID: svc.ID, Name: svc.Name, Price: price})
		b.Subtotal = b.Subtotal.Add(price)
	}

	if code := strings.TrimSpace(in.ReferralCode); code != "" {
		rc, err := s.referrals.Resolve(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidReferral, err)
		}
		b.ReferralCodeID = &rc.ID
		b.Discount = rc.Discount(b.Subtotal)
	}
	b.TotalAmount = b.Subtotal.Sub(b.Discount)

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		num, err := s.bookings.NextNumber(ctx, s.now())
		if err != nil {
			return err
		}
		b.BookingNumber = num
		if err := s.bookings.Create(ctx, b); err != nil {
			return err
		}
		return s.bookings.AddHistory(ctx, &StatusChange{
			BookingID: b.ID,
			ToStatus:  StatusPending,
			ChangedBy: p.UserID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", b.ID.String()).
		Str("booking_number", b.BookingNumber).
		Str("lab_id", l.ID.String()).
		Str("total", b.TotalAmount.StringFixed(2)).
		Msg("booking created")

	s.notifyPatient(ctx, b, notification.TemplateBookingConfirmed, map[string]string{
		"lab_name":     l.Name,
		"scheduled_at": b.ScheduledAt.Format(time.RFC1123),
		"total":        b.TotalAmount.StringFixed(2),
	})
	return b, nil
}

// GetBooking returns b when p may see it. Bookings outside the caller's
// scope are reported as not found.
func (s *Service) GetBooking(ctx context.Context, p *auth.Principal, id uuid.UUID) (*Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(p, b) {
		return nil, ErrNotFound
	}
	return b, nil
}

// ListBookings scopes the filter to the caller: patients see their own
// bookings, lab partners their lab's and admins everything.
func (s *Service) ListBookings(ctx context.Context, p *auth.Principal, f BookingFilter, limit, offset int) ([]*Booking, int, error) {
	if f.Status != "" && !ValidStatus(f.Status) {
		return nil, 0, fmt.Errorf("%w: invalid status %q", ErrValidation, f.Status)
	}
	switch {
	case p.IsAdmin():
	case p == nil:
		return nil, 0, ErrForbidden
	case p.Role == auth.RolePatient:
		id := p.UserID
		f.PatientID = &id
	case p.Role == auth.RoleLabPartner && p.LabID != nil:
		f.LabID = p.LabID
	default:
		return nil, 0, ErrForbidden
	}
	return s.bookings.List(ctx, f, limit, offset)
}

// UpdateStatus moves a booking along the state machine. Completing a booking
// settles its referral commission in the same transaction.
func (s *Service) UpdateStatus(ctx context.Context, p *auth.Principal, id uuid.UUID, to, note string) (*Booking, error) {
	if !ValidStatus(to) {
		return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, to)
	}

	var (
		b      *Booking
		earned *referral.Commission
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.bookings.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !canView(p, b) {
			return ErrNotFound
		}
		if err := ValidateTransition(b.Status, to); err != nil {
			return err
		}
		if err := authorizeTransition(p, b, to); err != nil {
			return err
		}

		if to == StatusCompleted && b.PaymentStatus != PaymentPaid {
			if b.PaymentMethod == MethodOnline {
				return ErrPaymentRequired
			}
			// Cash is collected at the lab by the time results are out.
			if err := s.bookings.SetPaymentStatus(ctx, b.ID, PaymentPaid); err != nil {
				return err
			}
			b.PaymentStatus = PaymentPaid
		}

		if err := s.transition(ctx, b, to, p.UserID, note); err != nil {
			return err
		}

		if to == StatusCompleted {
			c, created, err := s.commissions.Settle(ctx, referral.SettleInput{
				BookingID:      b.ID,
				BookingNumber:  b.BookingNumber,
				ReferralCodeID: b.ReferralCodeID,
				TotalAmount:    b.TotalAmount,
			})
			if err != nil {
				return fmt.Errorf("settle commission: %w", err)
			}
			if created {
				earned = c
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", b.ID.String()).
		Str("status", b.Status).
		Str("actor", p.UserID.String()).
		Msg("booking status changed")

	s.notifyPatient(ctx, b, notification.TemplateBookingStatus, map[string]string{
		"status": strings.ReplaceAll(b.Status, "_", " "),
	})
	if earned != nil {
		s.commissions.NotifyEarned(ctx, earned, b.BookingNumber)
	}
	return b, nil
}

// transition applies from -> to with a conditional update and records the
// history row. It must run inside a transaction.
func (s *Service) transition(ctx context.Context, b *Booking, to string, actor uuid.UUID, note string) error {
	from := b.Status
	ok, err := s.bookings.UpdateStatus(ctx, b.ID, from, to)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStatusConflict
	}
	h := &StatusChange{BookingID: b.ID, FromStatus: from, ToStatus: to, ChangedBy: actor}
	if note = strings.TrimSpace(note); note != "" {
		h.Note = &note
	}
	if err := s.bookings.AddHistory(ctx, h); err != nil {
		return err
	}
	b.Status = to
	return nil
}

func (s *Service) CancelBooking(ctx context.Context, p *auth.Principal, id uuid.UUID, reason string) (*Booking, error) {
	return s.UpdateStatus(ctx, p, id, StatusCancelled, reason)
}

func (s *Service) History(ctx context.Context, p *auth.Principal, id uuid.UUID) ([]*StatusChange, error) {
	if _, err := s.GetBooking(ctx, p, id); err != nil {
		return nil, err
	}
	return s.bookings.History(ctx, id)
}

// -- Reports --

// AttachReport stores a result file for a booking of the caller's lab.
func (s *Service) AttachReport(ctx context.Context, p *auth.Principal, id uuid.UUID, contentType string, r io.Reader) (*Booking, error) {
	b, err := s.GetBooking(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && !p.OwnsLab(b.LabID) {
		return nil, ErrForbidden
	}
	if b.Status != StatusProcessing && b.Status != StatusCompleted {
		return nil, ErrReportNotAllowed
	}

	data, ct, err := blobstore.ReadUpload(contentType, r)
	if err != nil {
		return nil, err
	}
	key := blobstore.Key("reports", b.ID.String(), uuid.NewString()+blobstore.ExtensionFor(ct))
	if _, err := s.store.Put(ctx, key, ct, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}
	if err := s.bookings.SetReport(ctx, b.ID, key); err != nil {
		return nil, err
	}
	if b.ReportKey != nil {
		if err := s.store.Delete(ctx, *b.ReportKey); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			s.logger.Warn().Err(err).Str("key", *b.ReportKey).Msg("old report not removed")
		}
	}
	b.ReportKey = &key
	b.HasReport = true

	s.logger.Info().Str("booking_id", b.ID.String()).Int("size", len(data)).Msg("report attached")

	labName := ""
	if l, err := s.catalog.GetLabForBooking(ctx, b.LabID); err == nil {
		labName = l.Name
	}
	s.notifyPatient(ctx, b, notification.TemplateReportReady, map[string]string{"lab_name": labName})
	return b, nil
}

func (s *Service) DownloadReport(ctx context.Context, p *auth.Principal, id uuid.UUID) (io.ReadCloser, *blobstore.Object, error) {
	b, err := s.GetBooking(ctx, p, id)
	if err != nil {
		return nil, nil, err
	}
	if b.ReportKey == nil {
		return nil, nil, ErrNoReport
	}
	return s.store.Get(ctx, *b.ReportKey)
}

// ReportURL returns a short-lived direct download link when the storage
// backend supports it.
func (s *Service) ReportURL(ctx context.Context, p *auth.Principal, id uuid.UUID, expiry time.Duration) (string, error) {
	presigner, ok := s.store.(blobstore.Presigner)
	if !ok {
		return "", ErrPresignUnsupported
	}
	b, err := s.GetBooking(ctx, p, id)
	if err != nil {
		return "", err
	}
	if b.ReportKey == nil {
		return "", ErrNoReport
	}
	return presigner.PresignGet(ctx, *b.ReportKey, expiry)
}

// -- Refunds --

// Refund returns the money for a paid booking and reverses any commission
// it earned. Online payments are claimed and refunded at the gateway first,
// so concurrent refunds of one payment reach the gateway at most once.
func (s *Service) Refund(ctx context.Context, p *auth.Principal, id uuid.UUID) (*Booking, error) {
	if !p.IsAdmin() {
		return nil, ErrForbidden
	}
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.PaymentStatus != PaymentPaid {
		return nil, ErrNotRefundable
	}

	var pay *Payment
	if b.PaymentMethod == MethodOnline {
		if s.gateway == nil {
			return nil, ErrPaymentsDisabled
		}
		pay, err = s.payments.GetLatestForBooking(ctx, b.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrNotRefundable
			}
			return nil, err
		}
		if pay.Status != PayCaptured || pay.GatewayPaymentID == nil {
			return nil, ErrNotRefundable
		}
		claimed, err := s.payments.ClaimRefund(ctx, pay.ID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return nil, ErrNotRefundable
		}
		rf, err := s.gateway.Refund(ctx, *pay.GatewayPaymentID, pay.Amount)
		if err != nil {
			if rerr := s.payments.ReleaseRefund(ctx, pay.ID); rerr != nil {
				s.logger.Error().Err(rerr).Str("payment_id", pay.ID.String()).Msg("release refund claim")
			}
			return nil, err
		}
		s.logger.Info().Str("booking_id", b.ID.String()).Str("refund_id", rf.ID).Msg("gateway refund issued")
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.bookings.SwapPaymentStatus(ctx, b.ID, PaymentPaid, PaymentRefunded)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotRefundable
		}
		if pay != nil {
			if err := s.payments.MarkRefunded(ctx, pay.ID); err != nil {
				return err
			}
		}
		_, err = s.commissions.Reverse(ctx, b.ID)
		if errors.Is(err, referral.ErrAlreadyPaid) {
			s.logger.Warn().Str("booking_id", b.ID.String()).Msg("refunded booking has a commission that was already paid out")
			return nil
		}
		return err
	})
	if err != nil {
		if pay != nil {
			s.logger.Error().Err(err).Str("booking_id", b.ID.String()).Msg("gateway refund issued but booking not updated")
		}
		return nil, err
	}
	b.PaymentStatus = PaymentRefunded
	return b, nil
}

// -- helpers --

func (s *Service) notifyPatient(ctx context.Context, b *Booking, templateID string, data map[string]string) {
	if s.notifier == nil || s.users == nil {
		return
	}
	u, err := s.users.GetUser(ctx, b.PatientID)
	if err != nil {
		s.logger.Warn().Err(err).Str("booking_id", b.ID.String()).Msg("notification skipped")
		return
	}
	data["name"] = u.Name
	data["booking_number"] = b.BookingNumber
	if err := s.notifier.Notify(ctx, templateID, u.Email, data); err != nil {
		s.logger.Warn().Err(err).Str("template", templateID).Msg("notification not queued")
	}
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
