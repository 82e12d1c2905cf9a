package issuance

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
)

// SplitChain separates a downloaded chain into the leaf (first PEM block)
// and the full normalized chain, and reads the leaf's expiry.
func SplitChain(chainPEM []byte) (leafPEM string, fullChainPEM string, notAfter time.Time, err error) {
	block, _ := pem.Decode(chainPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return "", "", time.Time{}, errors.New("chain does not start with a certificate PEM block")
	}

	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("parse leaf certificate: %w", err)
	}

	leafPEM = string(pem.EncodeToMemory(block))
	fullChainPEM = string(bytes.TrimSpace(chainPEM)) + "\n"
	return leafPEM, fullChainPEM, leaf.NotAfter, nil
}

// encodeChainPEM concatenates DER certificates into PEM, leaf first.
func encodeChainPEM(der [][]byte) []byte {
	var buf bytes.Buffer
	for _, d := range der {
		_ = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: d})
	}
	return buf.Bytes()
}

// newCertKeyAndCSR generates an EC256 certificate key and a CSR for the
// hostname, both PEM-encoded.
func newCertKeyAndCSR(hostname string) (keyPEM, csrPEM []byte, err error) {
	key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	if err != nil {
		return nil, nil, fmt.Errorf("generate certificate key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, nil, fmt.Errorf("certificate key type %T is not a signer", key)
	}

	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: hostname},
		DNSNames: []string{hostname},
	}, signer)
	if err != nil {
		return nil, nil, fmt.Errorf("create CSR: %w", err)
	}

	keyPEM = certcrypto.PEMEncode(key)
	csrPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csrDER})
	return keyPEM, csrPEM, nil
}

// csrDERFromPEM extracts the DER bytes of a stored CSR.
func csrDERFromPEM(csrPEM string) ([]byte, error) {
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return nil, errors.New("stored CSR is not a certificate request PEM block")
	}
	return block.Bytes, nil
}
