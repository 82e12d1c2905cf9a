package acmeaccount

import "errors"

var (
	// ErrMissingEmail is returned when no contact email is configured.
	// Registration never reaches the CA without one.
	ErrMissingEmail = errors.New("contact email is required for the ACME account")

	// ErrMissingDirectoryURL is returned when the directory URL resolves
	// to empty after defaults.
	ErrMissingDirectoryURL = errors.New("acme directory URL is required")

	// ErrStorageNil is returned when the manager is constructed without
	// account storage.
	ErrStorageNil = errors.New("account storage cannot be nil")

	// ErrVaultNil is returned when the manager is constructed without a
	// key vault.
	ErrVaultNil = errors.New("key vault cannot be nil")

	// ErrRegistrationFailed wraps CA-side failures during account
	// registration.
	ErrRegistrationFailed = errors.New("acme account registration failed")
)
