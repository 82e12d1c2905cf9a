package certstore

import "errors"

var (
	// ErrAccountExists is returned by CreateAccount when the singleton
	// account row already exists. Callers should re-read and use the winner.
	ErrAccountExists = errors.New("acme account already exists")

	// ErrAccountNotFound is returned when no ACME account has been
	// registered yet.
	ErrAccountNotFound = errors.New("acme account not found")

	// ErrDomainNotFound is returned when a domain record does not exist.
	ErrDomainNotFound = errors.New("domain not found")

	// ErrCertificateNotFound is returned when a certificate record does
	// not exist.
	ErrCertificateNotFound = errors.New("certificate not found")

	// ErrCertificateExists is returned when creating a certificate with an
	// identifier that is already taken.
	ErrCertificateExists = errors.New("certificate already exists")

	// ErrNotPending is returned by MarkIssued and MarkFailed when the
	// record has already left its pending status. Terminal states are
	// written exactly once.
	ErrNotPending = errors.New("certificate is not in a pending status")
)
