package renewal

import "errors"

var (
	ErrStorageNil = errors.New("storage cannot be nil")
	ErrIssuerNil  = errors.New("issuer cannot be nil")
)
