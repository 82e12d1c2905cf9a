package hostguard

import "errors"

var (
	// ErrInvalidHostname is returned for names that fail IDNA/syntax
	// validation or are literal IP addresses.
	ErrInvalidHostname = errors.New("invalid hostname")

	// ErrHostResolution is returned when the hostname cannot be resolved.
	ErrHostResolution = errors.New("hostname resolution failed")

	// ErrDisallowedHost is returned when any resolved address is loopback,
	// private, link-local, multicast, or unspecified.
	ErrDisallowedHost = errors.New("hostname resolves to a disallowed address range")
)
