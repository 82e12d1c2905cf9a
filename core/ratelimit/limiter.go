package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// Config holds the issuance ceiling and window size.
type Config struct {
	// Limit is the maximum number of issuances per registered domain per
	// window. Kept below the CA's hard limit of 50 per week.
	Limit int `env:"RATE_LIMIT_PER_WEEK" envDefault:"45"`

	// Window is the sliding window length.
	Window time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"168h"`
}

// Store records issuance timestamps per key inside a sliding window. Take
// must atomically prune entries older than the window, compare the
// remaining count against limit, and record the new timestamp only when
// under the limit.
type Store interface {
	Take(ctx context.Context, key string, window time.Duration, limit int, now time.Time) (ok bool, count int, err error)
}

// Limiter enforces the per-registered-domain issuance ceiling.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Limiter over the given store. Zero config fields fall back
// to the defaults (45 per 168h).
func New(store Store, cfg Config, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 45
	}
	if cfg.Window <= 0 {
		cfg.Window = 7 * 24 * time.Hour
	}

	l := &Limiter{
		store:  store,
		limit:  cfg.Limit,
		window: cfg.Window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// CheckAndRecord returns ErrLimitExceeded when the hostname's registered
// domain is at its ceiling, otherwise records the issuance timestamp.
func (l *Limiter) CheckAndRecord(ctx context.Context, hostname string) error {
	key := RegisteredDomain(hostname)

	ok, count, err := l.store.Take(ctx, key, l.window, l.limit, l.now())
	if err != nil {
		return fmt.Errorf("rate limit store: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s has %d issuances in the last %s", ErrLimitExceeded, key, count, l.window)
	}
	return nil
}

// RegisteredDomain derives the eTLD+1 of a hostname from the public-suffix
// list. When the list cannot classify the name it falls back to the last
// two labels.
func RegisteredDomain(hostname string) string {
	hostname = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")

	domain, err := publicsuffix.Domain(hostname)
	if err == nil && domain != "" {
		return domain
	}

	labels := strings.Split(hostname, ".")
	if len(labels) < 2 {
		return hostname
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
