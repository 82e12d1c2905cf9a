package certapi

import "errors"

var (
	ErrStorageNil      = errors.New("storage cannot be nil")
	ErrIssuerNil       = errors.New("issuer cannot be nil")
	ErrSchedulerNil    = errors.New("scheduler cannot be nil")
	ErrMissingSecret   = errors.New("shared secret is required for ops routes")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnknownChalType = errors.New("unknown challenge type")
)
