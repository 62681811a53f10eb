package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrQueueFull is returned by Enqueue when the buffer has no room.
var ErrQueueFull = errors.New("notification queue full")

// ErrDispatcherStopped is returned by Enqueue after Stop.
var ErrDispatcherStopped = errors.New("notification dispatcher stopped")

// Message statuses.
const (
	StatusQueued  = "queued"
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusDropped = "dropped"
)

// Message is a single outbound email.
type Message struct {
	ID         string     `json:"id"`
	To         string     `json:"to"`
	Subject    string     `json:"subject"`
	Body       string     `json:"body"`
	TemplateID string     `json:"template_id,omitempty"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
}

// DispatcherOptions tunes the queue. Zero values pick defaults.
type DispatcherOptions struct {
	QueueSize  int
	MaxRetries int
	Backoff    time.Duration
}

// Dispatcher delivers messages on a background worker so request handlers
// never wait on the mail server.
type Dispatcher struct {
	sender    EmailSender
	templates *TemplateEngine
	logger    zerolog.Logger
	opts      DispatcherOptions

	queue chan *Message
	wg    sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	stats   map[string]int
}

// NewDispatcher constructs a Dispatcher. Call Start before enqueueing.
func NewDispatcher(sender EmailSender, templates *TemplateEngine, logger zerolog.Logger, opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &Dispatcher{
		sender:    sender,
		templates: templates,
		logger:    logger.With().Str("component", "notification").Logger(),
		opts:      opts,
		queue:     make(chan *Message, opts.QueueSize),
		stats:     make(map[string]int),
	}
}

// Start launches the worker. Cancelling ctx does not stop it: a message
// accepted by Enqueue is delivered (or retried to exhaustion) before the
// worker exits, which happens once Stop has closed the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for m := range d.queue {
			d.deliver(ctx, m)
		}
	}()
}

// Stop closes the queue and waits for queued messages to drain. Call it
// after the HTTP server has finished in-flight requests.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

// Notify renders templateID with data and enqueues the result for to.
func (d *Dispatcher) Notify(_ context.Context, templateID, to string, data map[string]string) error {
	if to == "" {
		return errors.New("notification recipient is required")
	}
	subject, body, err := d.templates.Render(templateID, data)
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}
	return d.Enqueue(&Message{To: to, Subject: subject, Body: body, TemplateID: templateID})
}

// Enqueue adds m to the queue without blocking.
func (d *Dispatcher) Enqueue(m *Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = time.Now().UTC()
	m.Status = StatusQueued

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	select {
	case d.queue <- m:
		d.stats[StatusQueued]++
		return nil
	default:
		d.stats[StatusDropped]++
		d.logger.Warn().Str("to", m.To).Str("template", m.TemplateID).Msg("notification queue full, message dropped")
		return ErrQueueFull
	}
}

func (d *Dispatcher) deliver(ctx context.Context, m *Message) {
	backoff := d.opts.Backoff
	for m.Attempts < d.opts.MaxRetries {
		m.Attempts++
		err := d.sender.SendEmail(ctx, m.To, m.Subject, m.Body)
		if err == nil {
			now := time.Now().UTC()
			m.SentAt = &now
			m.Status = StatusSent
			m.Error = ""
			d.record(StatusSent)
			return
		}
		m.Error = err.Error()
		d.logger.Warn().Err(err).Str("id", m.ID).Int("attempt", m.Attempts).Msg("notification send failed")
		if m.Attempts >= d.opts.MaxRetries {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	m.Status = StatusFailed
	d.record(StatusFailed)
	d.logger.Error().Str("id", m.ID).Str("to", m.To).Str("error", m.Error).Msg("notification abandoned")
}

func (d *Dispatcher) record(status string) {
	d.mu.Lock()
	d.stats[status]++
	d.mu.Unlock()
}

// Stats returns message counts grouped by outcome.
func (d *Dispatcher) Stats() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.stats))
	for k, v := range d.stats {
		out[k] = v
	}
	return out
}
