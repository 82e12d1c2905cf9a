package certstore

import (
	"time"
)

// AcmeAccountID is the fixed identifier of the singleton ACME account row.
const AcmeAccountID = "acme-account"

// Status tracks a certificate record through its lifecycle.
type Status string

const (
	StatusPendingHTTP01 Status = "PENDING_HTTP01"
	StatusPendingDNS01  Status = "PENDING_DNS01"
	StatusIssued        Status = "ISSUED"
	StatusFailed        Status = "FAILED"
	StatusExpired       Status = "EXPIRED"
)

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingHTTP01, StatusPendingDNS01, StatusIssued, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Pending reports whether the status is a non-terminal challenge state.
func (s Status) Pending() bool {
	return s == StatusPendingHTTP01 || s == StatusPendingDNS01
}

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusIssued || s == StatusFailed || s == StatusExpired
}

// ChallengeType identifies the ACME challenge mechanism used for a record.
type ChallengeType string

const (
	ChallengeHTTP01 ChallengeType = "http-01"
	ChallengeDNS01  ChallengeType = "dns-01"
)

// SSL modes a domain can be in. A domain starts without managed TLS and is
// flipped to CA-issued when any of its certificates reaches ISSUED.
const (
	SSLModeNone     = "none"
	SSLModeCAIssued = "ca-issued"
)

// AcmeAccount is the process-wide ACME registration. Created at most once
// per deployment; never mutated afterwards. Rotation of a compromised
// account key is an operational procedure (drop the row, redeploy), not an
// API of this engine.
type AcmeAccount struct {
	ID        string    `json:"id"`
	KeyPEM    string    `json:"-"` // encrypted with the key vault
	URL       string    `json:"url"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Domain is a tenant-owned custom hostname.
type Domain struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	SSLMode   string    `json:"ssl_mode"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DomainCertificate is one issuance attempt/result for one domain.
// Challenge artifacts and result material are mutually exclusive by
// status; ExpiresAt is set iff the record is or was issued.
type DomainCertificate struct {
	ID       string `json:"id"`
	DomainID string `json:"domain_id"`
	Hostname string `json:"hostname"`
	Status   Status `json:"status"`

	ChallengeType    ChallengeType `json:"challenge_type"`
	ChallengeToken   string        `json:"challenge_token,omitempty"`
	ChallengeKeyAuth string        `json:"-"`
	DNSTxtValue      string        `json:"dns_txt_value,omitempty"`
	OrderURL         string        `json:"-"`

	PrivateKeyPEM string `json:"-"` // encrypted with the key vault
	CSRPEM        string `json:"-"`

	CertificatePEM string     `json:"-"`
	FullChainPEM   string     `json:"-"`
	IssuedAt       *time.Time `json:"issued_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`

	LastError       string `json:"last_error,omitempty"`
	RenewalAttempts int    `json:"renewal_attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether an issued certificate's lifetime has elapsed at
// the given instant. This is the read-time EXPIRED classification.
func (c *DomainCertificate) Expired(now time.Time) bool {
	return c.Status == StatusIssued && c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// EffectiveStatus returns the status with the read-time EXPIRED
// classification applied.
func (c *DomainCertificate) EffectiveStatus(now time.Time) Status {
	if c.Expired(now) {
		return StatusExpired
	}
	return c.Status
}

// IssuedMaterial carries the result of a successful finalization.
type IssuedMaterial struct {
	CertificatePEM string
	FullChainPEM   string
	IssuedAt       time.Time
	ExpiresAt      time.Time
}
