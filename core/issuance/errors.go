package issuance

import "errors"

var (
	// ErrChallengeUnavailable is returned when the CA did not offer the
	// requested challenge type for the hostname. HTTP-01 callers should
	// fall back to DNS-01.
	ErrChallengeUnavailable = errors.New("requested challenge type not offered by the CA")

	// ErrStateMismatch is returned when DNS-01 completion is called on a
	// record that is not in PENDING_DNS01. No CA calls are made.
	ErrStateMismatch = errors.New("certificate is not awaiting DNS-01 completion")

	// ErrPendingExists is returned when initiation is requested for a
	// domain that already has a record awaiting validation. A domain holds
	// at most one non-terminal certificate at a time; the caller should
	// complete or wait out the existing attempt.
	ErrPendingExists = errors.New("domain already has a pending certificate")

	// ErrPropagation is returned when the expected TXT record is not
	// visible yet. Retryable: the caller should re-run completion after a
	// delay without re-initiating phase 1.
	ErrPropagation = errors.New("TXT record not found or not propagated yet")

	// ErrAuthorizationFailed is returned when the CA reports a terminal
	// authorization status.
	ErrAuthorizationFailed = errors.New("acme authorization failed")

	// ErrIssuanceFailed wraps retryable CA-side failures in the completion
	// path. It never reaches the initiating caller; it is recorded on the
	// certificate when retries run out.
	ErrIssuanceFailed = errors.New("certificate issuance failed")

	// Construction errors.
	ErrStorageNil  = errors.New("storage cannot be nil")
	ErrVaultNil    = errors.New("key vault cannot be nil")
	ErrGuardNil    = errors.New("hostname guard cannot be nil")
	ErrDriverNil   = errors.New("driver cannot be nil")
	ErrEnqueuerNil = errors.New("job enqueuer cannot be nil")
)
