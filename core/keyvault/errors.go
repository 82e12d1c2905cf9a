package keyvault

import "errors"

var (
	ErrInvalidAppKey     = errors.New("application key must be 32 bytes")
	ErrInvalidScopeKey   = errors.New("scope key must be 32 bytes")
	ErrKeyDerivation     = errors.New("key derivation failed")
	ErrEncryptionFailed  = errors.New("encryption failed")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrInvalidCiphertext = errors.New("ciphertext is malformed or truncated")
)
