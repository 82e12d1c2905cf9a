package certstore

import (
	"context"
	"time"
)

// AccountRepository persists the singleton ACME account.
type AccountRepository interface {
	// CreateAccount stores the account with at-most-once semantics.
	// Returns ErrAccountExists if a row is already present; the caller
	// should re-read and use the existing account (first-writer wins).
	CreateAccount(ctx context.Context, account *AcmeAccount) error

	// GetAccount returns the singleton account or ErrAccountNotFound.
	GetAccount(ctx context.Context) (*AcmeAccount, error)
}

// DomainRepository persists tenant domains.
type DomainRepository interface {
	CreateDomain(ctx context.Context, domain *Domain) error

	// GetDomain returns the domain or ErrDomainNotFound.
	GetDomain(ctx context.Context, id string) (*Domain, error)

	// SetDomainSSLMode updates the domain's SSL mode.
	SetDomainSSLMode(ctx context.Context, id, mode string) error
}

// CertificateRepository persists certificate records and enforces the
// state machine: a record is moved out of a pending status exactly once.
type CertificateRepository interface {
	CreateCertificate(ctx context.Context, cert *DomainCertificate) error

	// GetCertificate returns the record or ErrCertificateNotFound.
	GetCertificate(ctx context.Context, id string) (*DomainCertificate, error)

	// DeleteCertificate removes the record, or ErrCertificateNotFound.
	// Used to roll back an initiation whose completion job could not be
	// enqueued; never called on records the engine has handed out.
	DeleteCertificate(ctx context.Context, id string) error

	// MarkIssued transitions a pending record to ISSUED with its result
	// material. Returns ErrNotPending if the record is already terminal.
	MarkIssued(ctx context.Context, id string, material IssuedMaterial) error

	// MarkFailed transitions a pending record to FAILED, records the error
	// message, and increments RenewalAttempts. Returns ErrNotPending if
	// the record is already terminal.
	MarkFailed(ctx context.Context, id string, errMsg string) error

	// RecordRenewalFailure notes a failed renewal attempt on a record
	// without changing its status: sets LastError and increments
	// RenewalAttempts. Used when the serving certificate stays in place
	// (DNS-01 manual renewals, failed re-initiation).
	RecordRenewalFailure(ctx context.Context, id string, errMsg string) error

	// ListExpiring returns ISSUED certificates with ExpiresAt <= before,
	// soonest first, capped at limit, excluding certificates whose domain
	// already has another record in a pending status.
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]*DomainCertificate, error)

	// HasPendingForDomain reports whether the domain has a record in a
	// pending status.
	HasPendingForDomain(ctx context.Context, domainID string) (bool, error)

	// FindPendingHTTP01ByToken returns the PENDING_HTTP01 record carrying
	// the given challenge token, or ErrCertificateNotFound. Backs the
	// /.well-known/acme-challenge responder.
	FindPendingHTTP01ByToken(ctx context.Context, token string) (*DomainCertificate, error)

	// CountByStatus returns the number of records per stored status.
	CountByStatus(ctx context.Context) (map[Status]int, error)

	// CountIssuedExpiringBefore returns the number of ISSUED records with
	// ExpiresAt <= t.
	CountIssuedExpiringBefore(ctx context.Context, t time.Time) (int, error)
}

// RenewalLocker serializes renewal batches across concurrent runs.
type RenewalLocker interface {
	// TryLockRenewal attempts to take the renewal lock without blocking.
	// Returns false when another run holds it.
	TryLockRenewal(ctx context.Context) (bool, error)

	// UnlockRenewal releases the renewal lock.
	UnlockRenewal(ctx context.Context) error
}

// Storage combines all repositories. Implementations serve as the complete
// persistence backend for the engine.
type Storage interface {
	AccountRepository
	DomainRepository
	CertificateRepository
	RenewalLocker
}
