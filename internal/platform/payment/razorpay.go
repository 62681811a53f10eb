package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const defaultRazorpayURL = "https://api.razorpay.com"

// RazorpayConfig configures RazorpayGateway.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
	HTTPClient    *http.Client
}

// RazorpayGateway is a Gateway backed by the Razorpay REST API.
type RazorpayGateway struct {
	cfg    RazorpayConfig
	client *http.Client
}

func NewRazorpayGateway(cfg RazorpayConfig) *RazorpayGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultRazorpayURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &RazorpayGateway{cfg: cfg, client: client}
}

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// CreateOrder implements Gateway.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*Order, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("order amount must be positive")
	}
	req := map[string]interface{}{
		"amount":   ToMinorUnits(amount),
		"currency": currency,
		"receipt":  receipt,
	}
	var out razorpayOrder
	if err := g.do(ctx, http.MethodPost, "/v1/orders", req, &out); err != nil {
		return nil, err
	}
	return &Order{
		ID:       out.ID,
		Amount:   FromMinorUnits(out.Amount),
		Currency: out.Currency,
		Receipt:  out.Receipt,
		Status:   out.Status,
	}, nil
}

// VerifySignature implements Gateway.
func (g *RazorpayGateway) VerifySignature(orderID, paymentID, signature string) error {
	return verifyHex(Sign(g.cfg.KeySecret, orderID, paymentID), signature)
}

// VerifyWebhook implements Gateway.
func (g *RazorpayGateway) VerifyWebhook(body []byte, signature string) error {
	return verifyHex(SignWebhook(g.cfg.WebhookSecret, body), signature)
}

type razorpayRefund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

// Refund implements Gateway.
func (g *RazorpayGateway) Refund(ctx context.Context, paymentID string, amount decimal.Decimal) (*Refund, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("payment id is required")
	}
	req := map[string]interface{}{"amount": ToMinorUnits(amount)}
	var out razorpayRefund
	if err := g.do(ctx, http.MethodPost, "/v1/payments/"+paymentID+"/refund", req, &out); err != nil {
		return nil, err
	}
	return &Refund{
		ID:        out.ID,
		PaymentID: out.PaymentID,
		Amount:    FromMinorUnits(out.Amount),
		Status:    out.Status,
	}, nil
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (g *RazorpayGateway) do(ctx context.Context, method, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(g.cfg.KeyID, g.cfg.KeySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrGateway, err)
	}
	if resp.StatusCode >= 300 {
		var e razorpayError
		if json.Unmarshal(data, &e) == nil && e.Error.Description != "" {
			return fmt.Errorf("%w: %s: %s", ErrGateway, e.Error.Code, e.Error.Description)
		}
		return fmt.Errorf("%w: status %d", ErrGateway, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrGateway, err)
	}
	return nil
}
