package issuance

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// sandboxLifetime mirrors the CA's 90-day certificates.
const sandboxLifetime = 90 * 24 * time.Hour

// SandboxDriver fabricates CA interactions deterministically and without
// network I/O. Orders, authorizations, and tokens are derived from the
// hostname, and Finalize self-signs a certificate for the CSR after a
// configured delay. It exists so challenge bookkeeping, webhook delivery,
// and polling surfaces can be exercised without consuming CA quota.
type SandboxDriver struct {
	delay      time.Duration
	issuerKey  *ecdsa.PrivateKey
	issuerPEM  []byte
	issuerCert *x509.Certificate
}

var _ Driver = (*SandboxDriver)(nil)

// NewSandboxDriver creates a sandbox driver with its own ephemeral issuing
// key. The delay simulates the CA round-trip during finalization.
func NewSandboxDriver(delay time.Duration) (*SandboxDriver, error) {
	issuerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate sandbox issuer key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate sandbox issuer serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "Sandbox Intermediate CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &issuerKey.PublicKey, issuerKey)
	if err != nil {
		return nil, fmt.Errorf("self-sign sandbox issuer: %w", err)
	}
	issuerCert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse sandbox issuer: %w", err)
	}

	return &SandboxDriver{
		delay:      delay,
		issuerKey:  issuerKey,
		issuerPEM:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		issuerCert: issuerCert,
	}, nil
}

func (d *SandboxDriver) CreateOrder(ctx context.Context, hostname string) (*Order, error) {
	return &Order{
		URL:         "sandbox://order/" + hostname,
		FinalizeURL: "sandbox://finalize/" + hostname,
		AuthzURLs:   []string{"sandbox://authz/" + hostname},
	}, nil
}

func (d *SandboxDriver) GetOrder(ctx context.Context, orderURL string) (*Order, error) {
	hostname, ok := strings.CutPrefix(orderURL, "sandbox://order/")
	if !ok {
		return nil, fmt.Errorf("not a sandbox order URL: %s", orderURL)
	}
	return d.CreateOrder(ctx, hostname)
}

func (d *SandboxDriver) GetAuthorization(ctx context.Context, authzURL string) (*Authorization, error) {
	hostname, ok := strings.CutPrefix(authzURL, "sandbox://authz/")
	if !ok {
		return nil, fmt.Errorf("not a sandbox authorization URL: %s", authzURL)
	}

	token := sandboxToken(hostname)
	return &Authorization{
		URL:    authzURL,
		Status: "pending",
		Challenges: []Challenge{
			{Type: "http-01", URL: "sandbox://challenge/http-01/" + hostname, Token: token},
			{Type: "dns-01", URL: "sandbox://challenge/dns-01/" + hostname, Token: token},
		},
	}, nil
}

func (d *SandboxDriver) AcceptChallenge(ctx context.Context, chal Challenge) error {
	return nil
}

func (d *SandboxDriver) WaitAuthorization(ctx context.Context, authzURL string) error {
	return nil
}

func (d *SandboxDriver) HTTP01KeyAuth(ctx context.Context, token string) (string, error) {
	return token + ".sandbox", nil
}

func (d *SandboxDriver) DNS01TXTValue(ctx context.Context, token string) (string, error) {
	sum := sha256.Sum256([]byte("sandbox-txt:" + token))
	return hex.EncodeToString(sum[:]), nil
}

// Finalize sleeps for the simulated CA delay, then signs a certificate for
// the CSR's hostname with the sandbox issuer. The returned chain is leaf
// plus issuer, matching the real driver's shape.
func (d *SandboxDriver) Finalize(ctx context.Context, finalizeURL string, csrDER []byte) ([]byte, error) {
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return nil, fmt.Errorf("parse CSR: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      csr.Subject,
		DNSNames:     csr.DNSNames,
		NotBefore:    now,
		NotAfter:     now.Add(sandboxLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, d.issuerCert, csr.PublicKey, d.issuerKey)
	if err != nil {
		return nil, fmt.Errorf("sign sandbox certificate: %w", err)
	}

	leafPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return append(leafPEM, d.issuerPEM...), nil
}

// sandboxToken derives a stable challenge token from the hostname so
// repeated runs are reproducible.
func sandboxToken(hostname string) string {
	sum := sha256.Sum256([]byte("sandbox-token:" + hostname))
	return hex.EncodeToString(sum[:16])
}
