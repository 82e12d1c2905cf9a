package notifier

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher invokes the Sender best-effort from issuance: detached
// goroutine, independent timeout, panic recovery. Delivery failure is
// logged and never surfaces to the caller.
type Dispatcher struct {
	sender  *Sender
	timeout time.Duration
	logger  *slog.Logger

	wg sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger for delivery outcomes.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatchTimeout bounds one whole dispatch, retries included.
func WithDispatchTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher creates a Dispatcher. An empty webhook URL yields a
// functional no-op dispatcher, so call sites need no nil checks.
func NewDispatcher(cfg Config, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		timeout: time.Minute,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}

	if cfg.WebhookURL == "" {
		return d
	}

	sender, err := NewSender(cfg)
	if err != nil {
		d.logger.Error("webhook sender misconfigured, notifications disabled",
			slog.String("error", err.Error()))
		return d
	}
	d.sender = sender
	return d
}

// CertIssued dispatches a cert.issued event without blocking the caller.
// The issuance outcome is already committed; nothing here can unwind it.
func (d *Dispatcher) CertIssued(ctx context.Context, hostname, certificateID string) {
	if d.sender == nil {
		return
	}

	event := Event{Event: EventCertIssued, Domain: hostname, CertID: certificateID}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("panic in webhook dispatch",
					slog.Any("panic", r),
					slog.String("certificate_id", certificateID))
			}
		}()

		// Detached from the job's context: the notification outlives the
		// completion job that triggered it.
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.sender.Send(sendCtx, event); err != nil {
			d.logger.Error("webhook delivery failed",
				slog.String("event", event.Event),
				slog.String("hostname", hostname),
				slog.String("certificate_id", certificateID),
				slog.String("error", err.Error()))
			return
		}
		d.logger.Info("webhook delivered",
			slog.String("event", event.Event),
			slog.String("hostname", hostname),
			slog.String("certificate_id", certificateID))
	}()
}

// Wait blocks until all in-flight dispatches finish. Used at shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
