package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/acme"

	"github.com/unquietwiki/changerawr-sub002/core/certjobs"
	"github.com/unquietwiki/changerawr-sub002/core/certstore"
)

// The Service is the completion worker's processor: every pending record's
// job lands back here to be driven to a terminal state.
var _ certjobs.Processor = (*Service)(nil)

// FinalizeHTTP01 completes a PENDING_HTTP01 record: accept, poll,
// finalize, download, split, mark ISSUED, notify.
func (s *Service) FinalizeHTTP01(ctx context.Context, certificateID string) error {
	return s.finalize(ctx, certificateID, certstore.StatusPendingHTTP01)
}

// FinalizeDNS01 completes a PENDING_DNS01 record through the same path.
func (s *Service) FinalizeDNS01(ctx context.Context, certificateID string) error {
	return s.finalize(ctx, certificateID, certstore.StatusPendingDNS01)
}

// AbandonCertificate records the terminal failure after a completion job
// exhausted its retries.
func (s *Service) AbandonCertificate(ctx context.Context, certificateID string, cause error) {
	if err := s.storage.MarkFailed(ctx, certificateID, cause.Error()); err != nil && !errors.Is(err, certstore.ErrNotPending) {
		s.logger.ErrorContext(ctx, "failed to mark abandoned certificate",
			slog.String("certificate_id", certificateID),
			slog.String("error", err.Error()))
		return
	}
	s.logger.WarnContext(ctx, "certificate abandoned after exhausted retries",
		slog.String("certificate_id", certificateID),
		slog.String("cause", cause.Error()))
}

// finalize drives one pending record to a terminal state. Returned errors
// are retryable by the job worker; permanent CA failures are written to
// the record as FAILED and the job completes. Safe to re-run: an already
// terminal record is a no-op, so reclaimed jobs exit cleanly.
func (s *Service) finalize(ctx context.Context, certificateID string, wantStatus certstore.Status) error {
	record, err := s.storage.GetCertificate(ctx, certificateID)
	if err != nil {
		if errors.Is(err, certstore.ErrCertificateNotFound) {
			s.logger.WarnContext(ctx, "completion job for unknown certificate",
				slog.String("certificate_id", certificateID))
			return nil
		}
		return fmt.Errorf("%w: load certificate: %w", ErrIssuanceFailed, err)
	}

	if record.Status.Terminal() {
		return nil
	}
	if record.Status != wantStatus {
		s.logger.WarnContext(ctx, "completion job kind does not match certificate status",
			slog.String("certificate_id", certificateID),
			slog.String("status", string(record.Status)))
		return nil
	}

	if err := s.validateAuthorizations(ctx, record); err != nil {
		return s.failOrRetry(ctx, record, err)
	}

	chainPEM, err := s.downloadChain(ctx, record)
	if err != nil {
		return s.failOrRetry(ctx, record, err)
	}

	leafPEM, fullChainPEM, notAfter, err := SplitChain(chainPEM)
	if err != nil {
		return s.failOrRetry(ctx, record, fmt.Errorf("split chain: %w", err))
	}

	issuedAt := s.now()
	err = s.storage.MarkIssued(ctx, record.ID, certstore.IssuedMaterial{
		CertificatePEM: leafPEM,
		FullChainPEM:   fullChainPEM,
		IssuedAt:       issuedAt,
		ExpiresAt:      notAfter,
	})
	if err != nil {
		if errors.Is(err, certstore.ErrNotPending) {
			// Lost a race with another worker; the record is terminal.
			return nil
		}
		return fmt.Errorf("%w: mark issued: %w", ErrIssuanceFailed, err)
	}

	if err := s.storage.SetDomainSSLMode(ctx, record.DomainID, certstore.SSLModeCAIssued); err != nil {
		// The certificate is genuinely issued; a mode update failure must
		// not unwind it.
		s.logger.ErrorContext(ctx, "failed to update domain ssl mode",
			slog.String("domain_id", record.DomainID),
			slog.String("error", err.Error()))
	}

	if s.notifier != nil {
		s.notifier.CertIssued(ctx, record.Hostname, record.ID)
	}

	s.logger.InfoContext(ctx, "certificate issued",
		slog.String("certificate_id", record.ID),
		slog.String("hostname", record.Hostname),
		slog.Time("expires_at", notAfter))
	return nil
}

// validateAuthorizations accepts and waits out every authorization on the
// stored order that is not already valid.
func (s *Service) validateAuthorizations(ctx context.Context, record *certstore.DomainCertificate) error {
	order, err := s.driver.GetOrder(ctx, record.OrderURL)
	if err != nil {
		return fmt.Errorf("resume order: %w", err)
	}

	for _, authzURL := range order.AuthzURLs {
		authz, err := s.driver.GetAuthorization(ctx, authzURL)
		if err != nil {
			return fmt.Errorf("get authorization: %w", err)
		}
		if authz.Status == "valid" {
			continue
		}

		var chal *Challenge
		for i := range authz.Challenges {
			if authz.Challenges[i].Type == record.ChallengeType {
				chal = &authz.Challenges[i]
				break
			}
		}
		if chal == nil {
			return fmt.Errorf("%w: %s", ErrChallengeUnavailable, record.ChallengeType)
		}

		if err := s.driver.AcceptChallenge(ctx, *chal); err != nil {
			return fmt.Errorf("accept challenge: %w", err)
		}
		if err := s.driver.WaitAuthorization(ctx, authzURL); err != nil {
			return fmt.Errorf("wait authorization: %w", err)
		}
	}
	return nil
}

func (s *Service) downloadChain(ctx context.Context, record *certstore.DomainCertificate) ([]byte, error) {
	order, err := s.driver.GetOrder(ctx, record.OrderURL)
	if err != nil {
		return nil, fmt.Errorf("resume order: %w", err)
	}

	csrDER, err := csrDERFromPEM(record.CSRPEM)
	if err != nil {
		return nil, err
	}

	chainPEM, err := s.driver.Finalize(ctx, order.FinalizeURL, csrDER)
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	return chainPEM, nil
}

// failOrRetry classifies a completion failure. Permanent CA rejections are
// written to the record as FAILED and the job completes; anything else is
// returned to the worker for retry with backoff.
func (s *Service) failOrRetry(ctx context.Context, record *certstore.DomainCertificate, cause error) error {
	if !isPermanent(cause) {
		return fmt.Errorf("%w: %w", ErrIssuanceFailed, cause)
	}

	if err := s.storage.MarkFailed(ctx, record.ID, cause.Error()); err != nil && !errors.Is(err, certstore.ErrNotPending) {
		return fmt.Errorf("%w: mark failed: %w", ErrIssuanceFailed, err)
	}

	s.logger.WarnContext(ctx, "certificate failed",
		slog.String("certificate_id", record.ID),
		slog.String("hostname", record.Hostname),
		slog.String("error", cause.Error()))
	return nil
}

// isPermanent reports whether a CA-side failure will not succeed on retry.
func isPermanent(err error) bool {
	if errors.Is(err, ErrChallengeUnavailable) || errors.Is(err, ErrAuthorizationFailed) {
		return true
	}

	var authzErr *acme.AuthorizationError
	if errors.As(err, &authzErr) {
		return true
	}

	var acmeErr *acme.Error
	if errors.As(err, &acmeErr) {
		// Client-side rejections won't heal; 429 and server errors might.
		return acmeErr.StatusCode >= 400 && acmeErr.StatusCode < 500 && acmeErr.StatusCode != 429
	}
	return false
}
