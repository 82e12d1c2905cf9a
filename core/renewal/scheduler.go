package renewal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/unquietwiki/changerawr-sub002/core/certstore"
)

// Issuer re-initiates issuance for a hostname. Satisfied by
// issuance.Service.
type Issuer interface {
	RequestHTTP01(ctx context.Context, domainID, hostname string) (string, error)
}

// Result summarizes one renewal run.
type Result struct {
	Checked int      `json:"checked"`
	Renewed int      `json:"renewed"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Health is the read-only certificate fleet report.
type Health struct {
	Total         int `json:"total"`
	Issued        int `json:"issued"`
	Pending       int `json:"pending"`
	PendingHTTP01 int `json:"pendingHttp01"`
	PendingDNS01  int `json:"pendingDns01"`
	Failed        int `json:"failed"`
	Expired       int `json:"expired"`
	ExpiringSoon  int `json:"expiringSoon"`
}

// Scheduler runs renewal batches and health reads against the store.
type Scheduler struct {
	storage   certstore.Storage
	issuer    Issuer
	threshold time.Duration
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConfig applies environment-derived settings.
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) {
		if cfg.Threshold > 0 {
			s.threshold = cfg.Threshold
		}
		if cfg.BatchSize > 0 {
			s.batchSize = cfg.BatchSize
		}
	}
}

// WithLogger sets the logger for renewal activity.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Scheduler over the given storage and issuer.
func New(storage certstore.Storage, issuer Issuer, opts ...Option) (*Scheduler, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	if issuer == nil {
		return nil, ErrIssuerNil
	}

	s := &Scheduler{
		storage:   storage,
		issuer:    issuer,
		threshold: 30 * 24 * time.Hour,
		batchSize: 10,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunAutoRenewal renews one batch of expiring certificates. Per-item
// failures are recorded and collected without aborting the batch. When
// another run holds the renewal lock, it returns a zero Result.
func (s *Scheduler) RunAutoRenewal(ctx context.Context) (Result, error) {
	locked, err := s.storage.TryLockRenewal(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("acquire renewal lock: %w", err)
	}
	if !locked {
		s.logger.InfoContext(ctx, "renewal run skipped, another run in progress")
		return Result{}, nil
	}
	defer func() {
		if err := s.storage.UnlockRenewal(ctx); err != nil {
			s.logger.ErrorContext(ctx, "failed to release renewal lock",
				slog.String("error", err.Error()))
		}
	}()

	now := s.now()
	expiring, err := s.storage.ListExpiring(ctx, now.Add(s.threshold), s.batchSize)
	if err != nil {
		return Result{}, fmt.Errorf("list expiring certificates: %w", err)
	}

	result := Result{Checked: len(expiring)}
	for _, cert := range expiring {
		if err := s.renewOne(ctx, cert); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", cert.Hostname, err))
			s.logger.WarnContext(ctx, "certificate renewal failed",
				slog.String("certificate_id", cert.ID),
				slog.String("hostname", cert.Hostname),
				slog.String("error", err.Error()))
			continue
		}
		result.Renewed++
		s.logger.InfoContext(ctx, "certificate renewal initiated",
			slog.String("certificate_id", cert.ID),
			slog.String("hostname", cert.Hostname))
	}

	s.logger.InfoContext(ctx, "renewal run complete",
		slog.Int("checked", result.Checked),
		slog.Int("renewed", result.Renewed),
		slog.Int("failed", result.Failed))
	return result, nil
}

// renewOne re-initiates issuance for a single expiring certificate. The
// old record keeps serving; the replacement flows through the normal
// completion pipeline. DNS-01 certificates need the domain owner to
// republish a TXT record, so they are flagged instead of renewed.
func (s *Scheduler) renewOne(ctx context.Context, cert *certstore.DomainCertificate) error {
	if cert.ChallengeType == certstore.ChallengeDNS01 {
		if err := s.storage.RecordRenewalFailure(ctx, cert.ID, "requires manual renewal"); err != nil {
			return fmt.Errorf("record manual renewal flag: %w", err)
		}
		return fmt.Errorf("dns-01 certificate requires manual renewal")
	}

	if _, err := s.issuer.RequestHTTP01(ctx, cert.DomainID, cert.Hostname); err != nil {
		if recErr := s.storage.RecordRenewalFailure(ctx, cert.ID, err.Error()); recErr != nil {
			s.logger.ErrorContext(ctx, "failed to record renewal failure",
				slog.String("certificate_id", cert.ID),
				slog.String("error", recErr.Error()))
		}
		return err
	}
	return nil
}

// CheckCertificateHealth aggregates certificate counts by state. Expiry
// is classified at read time from ExpiresAt, never stored.
func (s *Scheduler) CheckCertificateHealth(ctx context.Context) (Health, error) {
	counts, err := s.storage.CountByStatus(ctx)
	if err != nil {
		return Health{}, fmt.Errorf("count certificates: %w", err)
	}

	now := s.now()
	expired, err := s.storage.CountIssuedExpiringBefore(ctx, now)
	if err != nil {
		return Health{}, fmt.Errorf("count expired certificates: %w", err)
	}
	withinThreshold, err := s.storage.CountIssuedExpiringBefore(ctx, now.Add(s.threshold))
	if err != nil {
		return Health{}, fmt.Errorf("count expiring certificates: %w", err)
	}

	h := Health{
		PendingHTTP01: counts[certstore.StatusPendingHTTP01],
		PendingDNS01:  counts[certstore.StatusPendingDNS01],
		Failed:        counts[certstore.StatusFailed],
		Expired:       expired,
		ExpiringSoon:  withinThreshold - expired,
	}
	h.Pending = h.PendingHTTP01 + h.PendingDNS01
	h.Issued = counts[certstore.StatusIssued] - expired
	h.Total = counts[certstore.StatusIssued] + h.Pending + h.Failed
	return h, nil
}
