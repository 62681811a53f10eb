// Package notification renders and delivers transactional email: booking
// confirmations, status changes, report availability, payment receipts and
// commission notices.
package notification

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Built-in template IDs.
const (
	TemplateWelcome          = "welcome"
	TemplateBookingConfirmed = "booking-confirmed"
	TemplateBookingStatus    = "booking-status"
	TemplateReportReady      = "report-ready"
	TemplateCommissionEarned = "commission-earned"
	TemplatePaymentReceived  = "payment-received"
)

// Template defines a reusable email template. Placeholders use {{key}}.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateWelcome,
			Name:    "Welcome",
			Subject: "Welcome to LabBook, {{name}}",
			Body:    "Hi {{name}}, your {{role}} account has been created. Sign in with {{email}} to get started.",
		},
		{
			ID:      TemplateBookingConfirmed,
			Name:    "Booking Confirmed",
			Subject: "Booking {{booking_number}} received",
			Body:    "Hi {{name}}, your booking {{booking_number}} at {{lab_name}} is scheduled for {{scheduled_at}}. Total: {{total}}.",
		},
		{
			ID:      TemplateBookingStatus,
			Name:    "Booking Status",
			Subject: "Booking {{booking_number}} is now {{status}}",
			Body:    "Hi {{name}}, the status of booking {{booking_number}} changed to {{status}}.",
		},
		{
			ID:      TemplateReportReady,
			Name:    "Report Ready",
			Subject: "Your report for {{booking_number}} is ready",
			Body:    "Hi {{name}}, {{lab_name}} has uploaded the report for booking {{booking_number}}. Sign in to download it.",
		},
		{
			ID:      TemplateCommissionEarned,
			Name:    "Commission Earned",
			Subject: "Commission earned on {{booking_number}}",
			Body:    "Hi {{name}}, referral code {{code}} earned you {{amount}} on booking {{booking_number}}.",
		},
		{
			ID:      TemplatePaymentReceived,
			Name:    "Payment Received",
			Subject: "Payment received for {{booking_number}}",
			Body:    "Hi {{name}}, we received your payment of {{amount}} for booking {{booking_number}}. Reference: {{payment_id}}.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// IDs returns the registered template IDs in sorted order.
func (e *TemplateEngine) IDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.templates))
	for id := range e.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}
