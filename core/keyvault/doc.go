// Package keyvault encrypts private-key PEM material before it reaches the
// persistence layer and decrypts it on the way back.
//
// The production implementation is AES-256-GCM with a compound key derived
// via HKDF from two 32-byte secrets: an application key shared by the
// deployment and a scope key for the certificate subsystem. Ciphertexts are
// base64 strings with the random nonce prefixed, so every encryption of the
// same plaintext differs and tampering fails authentication on decrypt.
//
//	vault, err := keyvault.New(appKey, scopeKey)
//	if err != nil {
//		return err
//	}
//	sealed, err := vault.Encrypt(keyPEM)
//
// Only account keys and certificate private keys go through the vault; CSRs
// and issued certificates contain no secrets and are stored in plaintext.
package keyvault
