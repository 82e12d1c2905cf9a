package issuance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/unquietwiki/changerawr-sub002/core/certjobs"
	"github.com/unquietwiki/changerawr-sub002/core/certstore"
	"github.com/unquietwiki/changerawr-sub002/core/hostguard"
	"github.com/unquietwiki/changerawr-sub002/core/keyvault"
	"github.com/unquietwiki/changerawr-sub002/core/ratelimit"
)

// JobEnqueuer creates durable completion jobs for pending certificates.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, kind certjobs.Kind, certificateID string) error
}

// TxRunner is implemented by storage backends that can scope a function to
// a single transaction. The orchestrator uses it to commit a pending
// record and its completion job together, so neither can exist without the
// other.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AgentNotifier tells the TLS-terminating proxy about issued certificates.
// Implementations must be best-effort and non-blocking to the caller.
type AgentNotifier interface {
	CertIssued(ctx context.Context, hostname, certificateID string)
}

// DNSChallenge is what the domain owner must publish before DNS-01
// completion can run.
type DNSChallenge struct {
	CertificateID string `json:"certId"`
	TXTName       string `json:"txtName"`
	TXTValue      string `json:"txtValue"`
}

// Service is the challenge orchestrator. All dependencies are explicit;
// there is no package-level state.
type Service struct {
	storage  certstore.Storage
	vault    keyvault.Vault
	guard    *hostguard.Guard
	driver   Driver
	jobs     JobEnqueuer
	limiter  *ratelimit.Limiter
	notifier AgentNotifier
	sandbox  bool

	lookupTXT func(ctx context.Context, name string) ([]string, error)
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRateLimiter enables the per-registered-domain issuance limiter.
func WithRateLimiter(limiter *ratelimit.Limiter) Option {
	return func(s *Service) { s.limiter = limiter }
}

// WithNotifier sets the agent notifier invoked after every transition to
// ISSUED.
func WithNotifier(n AgentNotifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithSandbox marks the service as running against a sandbox driver: the
// rate limiter and the DNS propagation pre-check are bypassed.
func WithSandbox() Option {
	return func(s *Service) { s.sandbox = true }
}

// WithTXTLookup overrides the DNS TXT resolver used by the propagation
// pre-check, primarily for tests.
func WithTXTLookup(fn func(ctx context.Context, name string) ([]string, error)) Option {
	return func(s *Service) {
		if fn != nil {
			s.lookupTXT = fn
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates the orchestrator.
func New(storage certstore.Storage, vault keyvault.Vault, guard *hostguard.Guard, driver Driver, jobs JobEnqueuer, opts ...Option) (*Service, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	if vault == nil {
		return nil, ErrVaultNil
	}
	if guard == nil {
		return nil, ErrGuardNil
	}
	if driver == nil {
		return nil, ErrDriverNil
	}
	if jobs == nil {
		return nil, ErrEnqueuerNil
	}

	resolver := &net.Resolver{}
	s := &Service{
		storage:   storage,
		vault:     vault,
		guard:     guard,
		driver:    driver,
		jobs:      jobs,
		lookupTXT: resolver.LookupTXT,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RequestHTTP01 sets up an HTTP-01 order for the hostname, persists a
// PENDING_HTTP01 record, enqueues its completion job, and returns the
// record ID. The call never blocks on challenge validation.
func (s *Service) RequestHTTP01(ctx context.Context, domainID, hostname string) (string, error) {
	host, err := s.admit(ctx, domainID, hostname)
	if err != nil {
		return "", err
	}

	order, chal, err := s.setupOrder(ctx, host, certstore.ChallengeHTTP01)
	if err != nil {
		return "", err
	}

	keyAuth, err := s.driver.HTTP01KeyAuth(ctx, chal.Token)
	if err != nil {
		return "", fmt.Errorf("compute key authorization: %w", err)
	}

	record, err := s.newPendingRecord(domainID, host, certstore.StatusPendingHTTP01, order, chal, func(rec *certstore.DomainCertificate) {
		rec.ChallengeKeyAuth = keyAuth
	})
	if err != nil {
		return "", err
	}

	if err := s.persistAndEnqueue(ctx, record, certjobs.KindFinalizeHTTP01); err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "http-01 challenge initiated",
		slog.String("certificate_id", record.ID),
		slog.String("hostname", host))
	return record.ID, nil
}

// InitiateDNS01 is DNS-01 phase 1: it sets up the order, persists a
// PENDING_DNS01 record, and returns the TXT record the owner must publish.
// No completion job is enqueued until CompleteDNS01.
func (s *Service) InitiateDNS01(ctx context.Context, domainID, hostname string) (DNSChallenge, error) {
	host, err := s.admit(ctx, domainID, hostname)
	if err != nil {
		return DNSChallenge{}, err
	}

	order, chal, err := s.setupOrder(ctx, host, certstore.ChallengeDNS01)
	if err != nil {
		return DNSChallenge{}, err
	}

	txtValue, err := s.driver.DNS01TXTValue(ctx, chal.Token)
	if err != nil {
		return DNSChallenge{}, fmt.Errorf("compute TXT record value: %w", err)
	}

	record, err := s.newPendingRecord(domainID, host, certstore.StatusPendingDNS01, order, chal, func(rec *certstore.DomainCertificate) {
		rec.DNSTxtValue = txtValue
	})
	if err != nil {
		return DNSChallenge{}, err
	}
	if err := s.storage.CreateCertificate(ctx, record); err != nil {
		return DNSChallenge{}, fmt.Errorf("persist pending certificate: %w", err)
	}

	s.logger.InfoContext(ctx, "dns-01 challenge initiated, awaiting TXT publication",
		slog.String("certificate_id", record.ID),
		slog.String("hostname", host))

	return DNSChallenge{
		CertificateID: record.ID,
		TXTName:       "_acme-challenge." + host,
		TXTValue:      txtValue,
	}, nil
}

// CompleteDNS01 is DNS-01 phase 2. It fails fast with ErrStateMismatch
// when the record is not awaiting completion, verifies TXT propagation
// in-band (ErrPropagation is retryable after a delay), and enqueues the
// durable finalize job.
func (s *Service) CompleteDNS01(ctx context.Context, certificateID string) error {
	record, err := s.storage.GetCertificate(ctx, certificateID)
	if err != nil {
		return err
	}
	if record.Status != certstore.StatusPendingDNS01 {
		return fmt.Errorf("%w: certificate %s is %s", ErrStateMismatch, certificateID, record.Status)
	}

	if !s.sandbox {
		if err := s.verifyTXT(ctx, record.Hostname, record.DNSTxtValue); err != nil {
			return err
		}
	}

	if err := s.jobs.Enqueue(ctx, certjobs.KindFinalizeDNS01, record.ID); err != nil {
		return fmt.Errorf("enqueue completion job: %w", err)
	}

	s.logger.InfoContext(ctx, "dns-01 completion enqueued",
		slog.String("certificate_id", record.ID),
		slog.String("hostname", record.Hostname))
	return nil
}

// admit runs the synchronous gate: hostname normalization, SSRF guard,
// domain existence, the single-pending-record check, and the rate limiter
// (skipped in sandbox mode). Nothing is persisted when any gate rejects.
func (s *Service) admit(ctx context.Context, domainID, hostname string) (string, error) {
	host, err := hostguard.Normalize(hostname)
	if err != nil {
		return "", err
	}
	if err := s.guard.AssertExternal(ctx, host); err != nil {
		return "", err
	}
	if _, err := s.storage.GetDomain(ctx, domainID); err != nil {
		return "", err
	}

	// The pending gate runs before the limiter so a rejected repeat does
	// not burn issuance budget.
	pending, err := s.storage.HasPendingForDomain(ctx, domainID)
	if err != nil {
		return "", fmt.Errorf("check pending certificates: %w", err)
	}
	if pending {
		return "", fmt.Errorf("%w: domain %s", ErrPendingExists, domainID)
	}

	if !s.sandbox && s.limiter != nil {
		if err := s.limiter.CheckAndRecord(ctx, host); err != nil {
			return "", err
		}
	}
	return host, nil
}

// setupOrder creates the order and locates the requested challenge type.
func (s *Service) setupOrder(ctx context.Context, host string, chalType certstore.ChallengeType) (*Order, Challenge, error) {
	order, err := s.driver.CreateOrder(ctx, host)
	if err != nil {
		return nil, Challenge{}, fmt.Errorf("create order: %w", err)
	}

	chal, err := s.findChallenge(ctx, order, chalType)
	if err != nil {
		return nil, Challenge{}, err
	}
	return order, chal, nil
}

// findChallenge walks the order's authorizations looking for the
// requested challenge type.
func (s *Service) findChallenge(ctx context.Context, order *Order, chalType certstore.ChallengeType) (Challenge, error) {
	for _, authzURL := range order.AuthzURLs {
		authz, err := s.driver.GetAuthorization(ctx, authzURL)
		if err != nil {
			return Challenge{}, fmt.Errorf("get authorization: %w", err)
		}
		for _, chal := range authz.Challenges {
			if chal.Type == chalType {
				return chal, nil
			}
		}
	}
	return Challenge{}, fmt.Errorf("%w: %s", ErrChallengeUnavailable, chalType)
}

// newPendingRecord generates the certificate key and CSR, encrypts the
// key, and builds the pending record. Nothing is stored; the caller
// decides how the write pairs with its completion job.
func (s *Service) newPendingRecord(domainID, host string, status certstore.Status, order *Order, chal Challenge, customize func(*certstore.DomainCertificate)) (*certstore.DomainCertificate, error) {
	keyPEM, csrPEM, err := newCertKeyAndCSR(host)
	if err != nil {
		return nil, err
	}

	encryptedKey, err := s.vault.Encrypt(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("encrypt certificate key: %w", err)
	}

	record := &certstore.DomainCertificate{
		ID:             uuid.NewString(),
		DomainID:       domainID,
		Hostname:       host,
		Status:         status,
		ChallengeType:  chal.Type,
		ChallengeToken: chal.Token,
		OrderURL:       order.URL,
		PrivateKeyPEM:  encryptedKey,
		CSRPEM:         string(csrPEM),
	}
	if customize != nil {
		customize(record)
	}
	return record, nil
}

// persistAndEnqueue stores the pending record together with its completion
// job. Transactional backends commit both writes atomically; otherwise a
// failed enqueue rolls the record back so no pending row is left without a
// job to drive it.
func (s *Service) persistAndEnqueue(ctx context.Context, record *certstore.DomainCertificate, kind certjobs.Kind) error {
	if tx, ok := s.storage.(TxRunner); ok {
		return tx.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.storage.CreateCertificate(ctx, record); err != nil {
				return fmt.Errorf("persist pending certificate: %w", err)
			}
			if err := s.jobs.Enqueue(ctx, kind, record.ID); err != nil {
				return fmt.Errorf("enqueue completion job: %w", err)
			}
			return nil
		})
	}

	if err := s.storage.CreateCertificate(ctx, record); err != nil {
		return fmt.Errorf("persist pending certificate: %w", err)
	}
	if err := s.jobs.Enqueue(ctx, kind, record.ID); err != nil {
		if delErr := s.storage.DeleteCertificate(ctx, record.ID); delErr != nil {
			s.logger.ErrorContext(ctx, "failed to roll back pending certificate after enqueue failure",
				slog.String("certificate_id", record.ID),
				slog.String("error", delErr.Error()))
		}
		return fmt.Errorf("enqueue completion job: %w", err)
	}
	return nil
}

// verifyTXT checks that the expected challenge value is visible in DNS.
func (s *Service) verifyTXT(ctx context.Context, hostname, want string) error {
	name := "_acme-challenge." + hostname
	values, err := s.lookupTXT(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPropagation, name, err)
	}
	for _, v := range values {
		if v == want {
			return nil
		}
	}
	return fmt.Errorf("%w: %s has %d TXT records, none matching", ErrPropagation, name, len(values))
}
