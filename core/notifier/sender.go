package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
)

// Event is the wire payload POSTed to the agent.
type Event struct {
	Event  string `json:"event"`
	Domain string `json:"domain"`
	CertID string `json:"certId"`
}

// EventCertIssued announces a newly issued certificate.
const EventCertIssued = "cert.issued"

// Sender delivers one event to the configured endpoint with retries.
type Sender struct {
	url          string
	secret       string
	client       *http.Client
	maxRetries   uint64
	retryBackoff time.Duration
	now          func() time.Time
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithHTTPClient overrides the HTTP client, primarily for tests.
func WithHTTPClient(client *http.Client) SenderOption {
	return func(s *Sender) {
		if client != nil {
			s.client = client
		}
	}
}

// WithSenderClock overrides the signature timestamp source for tests.
func WithSenderClock(now func() time.Time) SenderOption {
	return func(s *Sender) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSender creates a Sender from config. Returns ErrNoEndpoint when the
// URL is empty; callers wanting a no-op should use the Dispatcher.
func NewSender(cfg Config, opts ...SenderOption) (*Sender, error) {
	if cfg.WebhookURL == "" {
		return nil, ErrNoEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}

	s := &Sender{
		url:          cfg.WebhookURL,
		secret:       cfg.Secret,
		client:       &http.Client{Timeout: cfg.Timeout},
		maxRetries:   uint64(cfg.MaxRetries),
		retryBackoff: cfg.RetryBackoff,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Send delivers the event, retrying temporary failures with exponential
// backoff. A 4xx response aborts immediately with ErrPermanentFailure.
func (s *Sender) Send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.retryBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.attempt(ctx, payload); err != nil {
			if errors.Is(err, ErrPermanentFailure) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPermanentFailure) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

func (s *Sender) attempt(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if s.secret != "" {
		ts := strconv.FormatInt(s.now().Unix(), 10)
		req.Header.Set("X-Webhook-Timestamp", ts)
		req.Header.Set("X-Webhook-Signature", Sign(s.secret, ts, payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTemporaryFailure, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d", ErrPermanentFailure, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrTemporaryFailure, resp.StatusCode)
	}
}

// Sign computes the hex HMAC-SHA256 of "<timestamp>.<payload>". Receivers
// recompute it from the headers and body to verify origin and freshness.
func Sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature against the shared secret
// with a freshness tolerance on the timestamp.
func VerifySignature(secret, timestamp, signature string, payload []byte, tolerance time.Duration, now time.Time) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid webhook timestamp: %w", err)
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return errors.New("webhook timestamp outside tolerance")
	}

	expected := Sign(secret, timestamp, payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.New("webhook signature mismatch")
	}
	return nil
}
