package notification

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTemplateEngine_RegisterAndRender(t *testing.T) {
	eng := NewTemplateEngine()
	eng.RegisterTemplate(Template{
		ID:      "test-tpl",
		Name:    "Test Template",
		Subject: "Hello {{name}}",
		Body:    "Dear {{name}}, your code is {{code}}.",
	})

	subject, body, err := eng.Render("test-tpl", map[string]string{
		"name": "Alice",
		"code": "1234",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Hello Alice" {
		t.Errorf("subject = %q, want %q", subject, "Hello Alice")
	}
	if body != "Dear Alice, your code is 1234." {
		t.Errorf("body = %q", body)
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	eng := NewTemplateEngine()
	if _, _, err := eng.Render("nonexistent", nil); err == nil {
		t.Fatal("expected error for missing template, got nil")
	}
}

func TestTemplateEngine_BuiltInTemplates(t *testing.T) {
	eng := NewTemplateEngine()
	data := map[string]string{
		"name":           "Asha",
		"role":           "patient",
		"email":          "asha@example.com",
		"booking_number": "LB-20260101-ABC123",
		"lab_name":       "City Diagnostics",
		"scheduled_at":   "2026-01-02 09:00",
		"total":          "450.00",
		"status":         "completed",
		"code":           "SALES10",
		"amount":         "45.00",
		"payment_id":     "pay_1",
	}
	for _, id := range []string{
		TemplateWelcome, TemplateBookingConfirmed, TemplateBookingStatus,
		TemplateReportReady, TemplateCommissionEarned, TemplatePaymentReceived,
	} {
		subject, body, err := eng.Render(id, data)
		if err != nil {
			t.Errorf("built-in template %q not found: %v", id, err)
			continue
		}
		if strings.Contains(subject+body, "{{") {
			t.Errorf("template %q left unresolved placeholders: %q / %q", id, subject, body)
		}
	}
	if got := len(eng.IDs()); got != 6 {
		t.Errorf("expected 6 built-in templates, got %d", got)
	}
}

func TestTemplateEngine_MissingKeysLeftAsIs(t *testing.T) {
	eng := NewTemplateEngine()
	subject, _, err := eng.Render(TemplateBookingStatus, map[string]string{"status": "confirmed"})
	if err != nil {
		t.Fatal(err)
	}
	if subject != "Booking {{booking_number}} is now confirmed" {
		t.Errorf("subject = %q", subject)
	}
}

func TestSMTPSender_BuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	var gotAuth smtp.Auth
	s := NewSMTPSender(SMTPConfig{Host: "mail.local", Username: "u", Password: "p", From: "noreply@labbook.test"})
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, msg
		return nil
	}

	if err := s.SendEmail(context.Background(), "p@example.com", "Hi", "line1\nline2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAddr != "mail.local:587" {
		t.Errorf("addr = %s", gotAddr)
	}
	if gotAuth == nil {
		t.Error("expected auth when username is set")
	}
	if gotFrom != "noreply@labbook.test" || len(gotTo) != 1 || gotTo[0] != "p@example.com" {
		t.Errorf("unexpected envelope %s -> %v", gotFrom, gotTo)
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "Subject: Hi\r\n") || !strings.Contains(msg, "line1\r\nline2") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestSMTPSender_RejectsHeaderInjection(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "mail.local", From: "a@b.c"})
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send should not be called")
		return nil
	}
	if err := s.SendEmail(context.Background(), "x@y.z\r\nBcc: evil@x", "s", "b"); err == nil {
		t.Error("expected error for CRLF in recipient")
	}
}

func TestSMTPSender_WrapsError(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "mail.local", From: "a@b.c"})
	boom := errors.New("connection refused")
	s.send = func(string, smtp.Auth, string, []string, []byte) error { return boom }
	if err := s.SendEmail(context.Background(), "x@y.z", "s", "b"); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestDispatcher_DeliversQueuedMessages(t *testing.T) {
	sender := &MockEmailSender{}
	d := NewDispatcher(sender, nil, zerolog.Nop(), DispatcherOptions{QueueSize: 8, Backoff: time.Millisecond})
	d.Start(context.Background())

	for i := 0; i < 3; i++ {
		if err := d.Notify(context.Background(), TemplateWelcome, "a@example.com", map[string]string{"name": "A"}); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	d.Stop()

	calls := sender.Calls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(calls))
	}
	if calls[0].Subject != "Welcome to LabBook, A" {
		t.Errorf("subject = %q", calls[0].Subject)
	}
	if d.Stats()[StatusSent] != 3 {
		t.Errorf("stats = %v", d.Stats())
	}
}

func TestDispatcher_RetriesThenSucceeds(t *testing.T) {
	sender := &MockEmailSender{FailFirst: 2}
	d := NewDispatcher(sender, nil, zerolog.Nop(), DispatcherOptions{MaxRetries: 3, Backoff: time.Millisecond})
	d.Start(context.Background())

	m := &Message{To: "a@example.com", Subject: "s", Body: "b"}
	if err := d.Enqueue(m); err != nil {
		t.Fatal(err)
	}
	d.Stop()

	if m.Status != StatusSent || m.Attempts != 3 {
		t.Errorf("expected sent after 3 attempts, got %s/%d", m.Status, m.Attempts)
	}
}

func TestDispatcher_GivesUpAfterMaxRetries(t *testing.T) {
	sender := &MockEmailSender{ShouldFail: true, FailError: "smtp down"}
	d := NewDispatcher(sender, nil, zerolog.Nop(), DispatcherOptions{MaxRetries: 2, Backoff: time.Millisecond})
	d.Start(context.Background())

	m := &Message{To: "a@example.com", Subject: "s", Body: "b"}
	d.Enqueue(m)
	d.Stop()

	if m.Status != StatusFailed || m.Attempts != 2 || m.Error != "smtp down" {
		t.Errorf("unexpected message state %+v", m)
	}
	if len(sender.Calls()) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(sender.Calls()))
	}
}

func TestDispatcher_EnqueueNeverBlocks(t *testing.T) {
	d := NewDispatcher(&MockEmailSender{}, nil, zerolog.Nop(), DispatcherOptions{QueueSize: 1})
	// Worker not started, so the second message has nowhere to go.
	if err := d.Enqueue(&Message{To: "a@example.com"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := d.Enqueue(&Message{To: "b@example.com"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	if d.Stats()[StatusDropped] != 1 {
		t.Errorf("stats = %v", d.Stats())
	}
}

func TestDispatcher_DrainsAfterContextCancelled(t *testing.T) {
	sender := &MockEmailSender{}
	d := NewDispatcher(sender, nil, zerolog.Nop(), DispatcherOptions{Backoff: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	cancel()

	// A request still in flight during shutdown queues mail after the
	// signal context is done.
	if err := d.Notify(context.Background(), TemplateWelcome, "late@example.com", map[string]string{"name": "L"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	d.Stop()

	if calls := sender.Calls(); len(calls) != 1 || calls[0].To != "late@example.com" {
		t.Errorf("queued message must be delivered on Stop, got %+v", calls)
	}
	if st := d.Stats(); st[StatusSent] != 1 {
		t.Errorf("stats = %v", st)
	}
}

func TestDispatcher_EnqueueAfterStop(t *testing.T) {
	d := NewDispatcher(&MockEmailSender{}, nil, zerolog.Nop(), DispatcherOptions{})
	d.Start(context.Background())
	d.Stop()
	d.Stop()
	if err := d.Enqueue(&Message{To: "a@example.com"}); !errors.Is(err, ErrDispatcherStopped) {
		t.Errorf("expected ErrDispatcherStopped, got %v", err)
	}
}

func TestDispatcher_NotifyValidation(t *testing.T) {
	d := NewDispatcher(&MockEmailSender{}, nil, zerolog.Nop(), DispatcherOptions{})
	if err := d.Notify(context.Background(), TemplateWelcome, "", nil); err == nil {
		t.Error("expected error for empty recipient")
	}
	if err := d.Notify(context.Background(), "nope", "a@example.com", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}
