package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfo binds derived keys to this subsystem so the same key pair used
// elsewhere yields a different encryption key.
var hkdfInfo = []byte("certificate-keyvault-v1")

// AESVault implements Vault with AES-256-GCM. The encryption key is derived
// once at construction via HKDF-SHA256 from the application key (secret)
// and the scope key (salt).
type AESVault struct {
	aead cipher.AEAD
}

// New validates both keys, derives the compound key, and returns a ready
// vault. The input keys are not retained.
func New(appKey, scopeKey []byte) (*AESVault, error) {
	if len(appKey) != KeySize {
		return nil, ErrInvalidAppKey
	}
	if len(scopeKey) != KeySize {
		return nil, ErrInvalidScopeKey
	}

	derived := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, appKey, scopeKey, hkdfInfo)
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyDerivation, err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyDerivation, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyDerivation, err)
	}

	clear(derived)

	return &AESVault{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce. The nonce is prefixed
// to the ciphertext and the whole value is base64-encoded.
func (v *AESVault) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}

	sealed := v.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any tampering with the
// stored value fails GCM authentication and returns ErrDecryptionFailed.
func (v *AESVault) Decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCiphertext, err)
	}

	nonceSize := v.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
