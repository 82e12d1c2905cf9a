package keyvault

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// KeySize is the required length of the application and scope keys.
const KeySize = 32

// Vault seals and opens secret byte material. Implementations must produce
// ciphertexts that are safe to store as text columns.
type Vault interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
}

// GenerateKey returns a cryptographically random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// ParseKeyHex decodes a hex-encoded 32-byte key, the format used for
// environment configuration.
func ParseKeyHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("decoded key is %d bytes, want %d", len(key), KeySize)
	}
	return key, nil
}
