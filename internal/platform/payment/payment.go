// Package payment talks to the card/UPI payment gateway. Orders are created
// server side, the client completes checkout, and the server verifies the
// returned signature (or a webhook) before marking a booking paid.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidSignature = errors.New("invalid payment signature")
	ErrGateway          = errors.New("payment gateway error")
)

// Webhook event names.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
)

// Order is a gateway-side order the client pays against.
type Order struct {
	ID       string          `json:"id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Receipt  string          `json:"receipt"`
	Status   string          `json:"status"`
}

// Refund describes a refund issued by the gateway.
type Refund struct {
	ID        string          `json:"id"`
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
}

// WebhookEvent is the subset of a gateway webhook the booking flow needs.
type WebhookEvent struct {
	Event     string
	OrderID   string
	PaymentID string
	Amount    decimal.Decimal
	Status    string
}

// Gateway is implemented by every payment driver.
type Gateway interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*Order, error)
	VerifySignature(orderID, paymentID, signature string) error
	VerifyWebhook(body []byte, signature string) error
	Refund(ctx context.Context, paymentID string, amount decimal.Decimal) (*Refund, error)
}

// ToMinorUnits converts a currency amount to the smallest unit (paise, cents).
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

// Sign computes the checkout signature for orderID and paymentID.
func Sign(secret, orderID, paymentID string) string {
	return hmacHex(secret, []byte(orderID+"|"+paymentID))
}

// SignWebhook computes the webhook signature for body.
func SignWebhook(secret string, body []byte) string {
	return hmacHex(secret, body)
}

func hmacHex(secret string, msg []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHex(expected, got string) error {
	if got == "" || !hmac.Equal([]byte(expected), []byte(got)) {
		return ErrInvalidSignature
	}
	return nil
}

type webhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Amount  int64  `json:"amount"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseWebhook decodes a webhook body. The signature must be verified first.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if p.Event == "" {
		return nil, errors.New("webhook event is required")
	}
	e := p.Payload.Payment.Entity
	return &WebhookEvent{
		Event:     p.Event,
		OrderID:   e.OrderID,
		PaymentID: e.ID,
		Amount:    FromMinorUnits(e.Amount),
		Status:    e.Status,
	}, nil
}
