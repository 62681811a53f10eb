package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"450", 45000},
		{"99.99", 9999},
		{"10.005", 1001},
		{"0.01", 1},
	}
	for _, tt := range tests {
		if got := ToMinorUnits(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("ToMinorUnits(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if !FromMinorUnits(9999).Equal(decimal.RequireFromString("99.99")) {
		t.Error("FromMinorUnits(9999) != 99.99")
	}
}

func TestRazorpay_CreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/orders" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			t.Errorf("missing basic auth")
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["amount"].(float64) != 45050 || body["currency"] != "INR" || body["receipt"] != "LB-1" {
			t.Errorf("unexpected body %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"order_123","amount":45050,"currency":"INR","receipt":"LB-1","status":"created"}`)
	}))
	defer srv.Close()

	g := NewRazorpayGateway(RazorpayConfig{KeyID: "key", KeySecret: "secret", BaseURL: srv.URL + "/"})
	o, err := g.CreateOrder(context.Background(), decimal.RequireFromString("450.50"), "INR", "LB-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.ID != "order_123" || !o.Amount.Equal(decimal.RequireFromString("450.50")) {
		t.Errorf("unexpected order %+v", o)
	}
}

func TestRazorpay_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"code":"BAD_REQUEST_ERROR","description":"amount too small"}}`)
	}))
	defer srv.Close()

	g := NewRazorpayGateway(RazorpayConfig{KeyID: "key", KeySecret: "secret", BaseURL: srv.URL})
	_, err := g.CreateOrder(context.Background(), decimal.NewFromInt(1), "INR", "r")
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
}

func TestRazorpay_RejectsNonPositiveAmount(t *testing.T) {
	g := NewRazorpayGateway(RazorpayConfig{})
	if _, err := g.CreateOrder(context.Background(), decimal.Zero, "INR", "r"); err == nil {
		t.Error("expected error for zero amount")
	}
}

func TestRazorpay_Refund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/pay_1/refund" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, `{"id":"rfnd_1","payment_id":"pay_1","amount":10000,"status":"processed"}`)
	}))
	defer srv.Close()

	g := NewRazorpayGateway(RazorpayConfig{KeyID: "k", KeySecret: "s", BaseURL: srv.URL})
	r, err := g.Refund(context.Background(), "pay_1", decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.ID != "rfnd_1" || !r.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("unexpected refund %+v", r)
	}
}

func TestRazorpay_Signatures(t *testing.T) {
	g := NewRazorpayGateway(RazorpayConfig{KeySecret: "secret", WebhookSecret: "whsec"})

	sig := Sign("secret", "order_1", "pay_1")
	if err := g.VerifySignature("order_1", "pay_1", sig); err != nil {
		t.Errorf("expected valid signature: %v", err)
	}
	if err := g.VerifySignature("order_1", "pay_2", sig); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
	if err := g.VerifySignature("order_1", "pay_1", ""); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature for empty signature, got %v", err)
	}

	body := []byte(`{"event":"payment.captured"}`)
	if err := g.VerifyWebhook(body, SignWebhook("whsec", body)); err != nil {
		t.Errorf("expected valid webhook: %v", err)
	}
	if err := g.VerifyWebhook(body, SignWebhook("secret", body)); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected webhook signed with wrong secret to fail, got %v", err)
	}
}

func TestParseWebhook(t *testing.T) {
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_9","order_id":"order_9","amount":12345,"status":"captured"}}}}`)
	ev, err := ParseWebhook(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Event != EventPaymentCaptured || ev.OrderID != "order_9" || ev.PaymentID != "pay_9" {
		t.Errorf("unexpected event %+v", ev)
	}
	if !ev.Amount.Equal(decimal.RequireFromString("123.45")) {
		t.Errorf("amount = %s", ev.Amount)
	}

	if _, err := ParseWebhook([]byte(`{}`)); err == nil {
		t.Error("expected error for missing event")
	}
	if _, err := ParseWebhook([]byte(`nope`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestFakeGateway(t *testing.T) {
	g := NewFakeGateway()
	o1, _ := g.CreateOrder(context.Background(), decimal.NewFromInt(100), "INR", "a")
	o2, _ := g.CreateOrder(context.Background(), decimal.NewFromInt(200), "INR", "b")
	if o1.ID == o2.ID || len(g.Orders) != 2 {
		t.Error("expected distinct orders")
	}
	if err := g.VerifySignature(o1.ID, "pay_x", Sign(FakeSecret, o1.ID, "pay_x")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	g.FailCreate = true
	if _, err := g.CreateOrder(context.Background(), decimal.NewFromInt(1), "INR", "c"); !errors.Is(err, ErrGateway) {
		t.Errorf("expected ErrGateway, got %v", err)
	}
}
