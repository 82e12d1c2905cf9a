package ratelimit

import "errors"

var (
	// ErrLimitExceeded is returned when the registered domain has reached
	// its issuance ceiling for the current window.
	ErrLimitExceeded = errors.New("weekly issuance limit exceeded for registered domain")

	// ErrStoreNil is returned when a Limiter is constructed without a store.
	ErrStoreNil = errors.New("store cannot be nil")
)
