package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/labbook/labbook/internal/platform/auth"
	"github.com/labbook/labbook/internal/platform/notification"
	"github.com/labbook/labbook/internal/platform/payment"
)

// InitiatePayment opens a gateway order for the patient's own online
// booking. An open order for the same amount is reused.
func (s *Service) InitiatePayment(ctx context.Context, p *auth.Principal, bookingID uuid.UUID) (*Payment, error) {
	if s.gateway == nil {
		return nil, ErrPaymentsDisabled
	}
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if p == nil || b.PatientID != p.UserID {
		return nil, ErrNotFound
	}
	if b.PaymentMethod != MethodOnline {
		return nil, ErrNotPayable
	}
	if b.PaymentStatus == PaymentPaid || b.PaymentStatus == PaymentRefunded {
		return nil, ErrAlreadyPaid
	}
	if b.Status != StatusPending && b.Status != StatusConfirmed {
		return nil, ErrNotPayable
	}

	latest, err := s.payments.GetLatestForBooking(ctx, b.ID)
	switch {
	case err == nil:
		if latest.Status == PayCreated && latest.Amount.Equal(b.TotalAmount) {
			return latest, nil
		}
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	order, err := s.gateway.CreateOrder(ctx, b.TotalAmount, s.currency, b.BookingNumber)
	if err != nil {
		return nil, err
	}
	pay := &Payment{
		BookingID: b.ID,
		OrderID:   order.ID,
		Amount:    b.TotalAmount,
		Currency:  s.currency,
		Status:    PayCreated,
	}
	if err := s.payments.Create(ctx, pay); err != nil {
		return nil, err
	}
	s.logger.Info().Str("booking_id", b.ID.String()).Str("order_id", order.ID).Msg("payment order created")
	return pay, nil
}

// ConfirmPayment verifies the checkout signature returned to the client and
// marks the booking paid. Confirming twice returns the booking unchanged.
func (s *Service) ConfirmPayment(ctx context.Context, p *auth.Principal, in ConfirmPaymentInput) (*Booking, error) {
	if s.gateway == nil {
		return nil, ErrPaymentsDisabled
	}
	if in.OrderID == "" || in.PaymentID == "" {
		return nil, fmt.Errorf("%w: order_id and payment_id are required", ErrValidation)
	}
	if err := s.gateway.VerifySignature(in.OrderID, in.PaymentID, in.Signature); err != nil {
		return nil, err
	}
	pay, err := s.payments.GetByOrderID(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	b, err := s.bookings.GetByID(ctx, pay.BookingID)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && (p == nil || b.PatientID != p.UserID) {
		return nil, ErrNotFound
	}
	return s.capture(ctx, b, pay, in.PaymentID)
}

// HandleWebhook applies a signed gateway event. Events for unknown orders
// are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if s.gateway == nil {
		return ErrPaymentsDisabled
	}
	if err := s.gateway.VerifyWebhook(body, signature); err != nil {
		return err
	}
	ev, err := payment.ParseWebhook(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	pay, err := s.payments.GetByOrderID(ctx, ev.OrderID)
	if errors.Is(err, ErrNotFound) {
		s.logger.Warn().Str("order_id", ev.OrderID).Str("event", ev.Event).Msg("webhook for unknown order")
		return nil
	}
	if err != nil {
		return err
	}

	switch ev.Event {
	case payment.EventPaymentCaptured:
		if !ev.Amount.Equal(pay.Amount) {
			return fmt.Errorf("%w: webhook amount %s does not match order amount %s", ErrValidation, ev.Amount, pay.Amount)
		}
		b, err := s.bookings.GetByID(ctx, pay.BookingID)
		if err != nil {
			return err
		}
		_, err = s.capture(ctx, b, pay, ev.PaymentID)
		return err
	case payment.EventPaymentFailed:
		return s.fail(ctx, pay)
	default:
		s.logger.Debug().Str("event", ev.Event).Msg("webhook event ignored")
		return nil
	}
}

// capture records a successful payment. A pending booking is confirmed
// along with it.
func (s *Service) capture(ctx context.Context, b *Booking, pay *Payment, gatewayPaymentID string) (*Booking, error) {
	if pay.Status == PayCaptured || pay.Status == PayRefunding || pay.Status == PayRefunded {
		return b, nil
	}

	captured := false
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.payments.MarkCaptured(ctx, pay.ID, gatewayPaymentID)
		if err != nil {
			return err
		}
		if !ok {
			// Captured concurrently by the webhook or a second confirm.
			return nil
		}
		captured = true
		if err := s.bookings.SetPaymentStatus(ctx, b.ID, PaymentPaid); err != nil {
			return err
		}
		b.PaymentStatus = PaymentPaid
		if b.Status == StatusPending {
			return s.transition(ctx, b, StatusConfirmed, b.PatientID, "payment received")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !captured {
		return s.bookings.GetByID(ctx, b.ID)
	}

	s.logger.Info().
		Str("booking_id", b.ID.String()).
		Str("order_id", pay.OrderID).
		Str("payment_id", gatewayPaymentID).
		Msg("payment captured")

	s.notifyPatient(ctx, b, notification.TemplatePaymentReceived, map[string]string{
		"amount":     pay.Amount.StringFixed(2),
		"payment_id": gatewayPaymentID,
	})
	return b, nil
}

func (s *Service) fail(ctx context.Context, pay *Payment) error {
	if pay.Status != PayCreated {
		return nil
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.payments.MarkFailed(ctx, pay.ID); err != nil {
			return err
		}
		b, err := s.bookings.GetByID(ctx, pay.BookingID)
		if err != nil {
			return err
		}
		if b.PaymentStatus != PaymentPending {
			return nil
		}
		s.logger.Info().Str("booking_id", b.ID.String()).Str("order_id", pay.OrderID).Msg("payment failed")
		return s.bookings.SetPaymentStatus(ctx, b.ID, PaymentFailed)
	})
}
