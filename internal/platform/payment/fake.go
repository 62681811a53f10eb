package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// FakeSecret signs fake checkout and webhook payloads.
const FakeSecret = "labbook-fake-gateway"

// FakeGateway is a deterministic in-process Gateway for development and tests.
type FakeGateway struct {
	mu      sync.Mutex
	seq     int
	Orders  map[string]*Order
	Refunds []*Refund
	// FailCreate makes CreateOrder return ErrGateway.
	FailCreate bool
	// FailRefund makes Refund return ErrGateway.
	FailRefund bool
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{Orders: make(map[string]*Order)}
}

// CreateOrder implements Gateway.
func (g *FakeGateway) CreateOrder(_ context.Context, amount decimal.Decimal, currency, receipt string) (*Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailCreate {
		return nil, fmt.Errorf("%w: fake failure", ErrGateway)
	}
	g.seq++
	o := &Order{
		ID:       fmt.Sprintf("order_fake_%06d", g.seq),
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}
	g.Orders[o.ID] = o
	return o, nil
}

// VerifySignature implements Gateway.
func (g *FakeGateway) VerifySignature(orderID, paymentID, signature string) error {
	return verifyHex(Sign(FakeSecret, orderID, paymentID), signature)
}

// VerifyWebhook implements Gateway.
func (g *FakeGateway) VerifyWebhook(body []byte, signature string) error {
	return verifyHex(SignWebhook(FakeSecret, body), signature)
}

// Refund implements Gateway.
func (g *FakeGateway) Refund(_ context.Context, paymentID string, amount decimal.Decimal) (*Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailRefund {
		return nil, fmt.Errorf("%w: fake refund failure", ErrGateway)
	}
	r := &Refund{
		ID:        fmt.Sprintf("rfnd_fake_%06d", len(g.Refunds)+1),
		PaymentID: paymentID,
		Amount:    amount,
		Status:    "processed",
	}
	g.Refunds = append(g.Refunds, r)
	return r, nil
}
