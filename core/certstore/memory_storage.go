package certstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage implements Storage for testing and single-instance
// deployments. All methods copy records on the way in and out so callers
// can't mutate stored state.
type MemoryStorage struct {
	mu      sync.RWMutex
	account *AcmeAccount
	domains map[string]*Domain
	certs   map[string]*DomainCertificate

	// Index for pending lookups by domain.
	pendingByDomain map[string]map[string]struct{}

	renewalLock bool
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		domains:         make(map[string]*Domain),
		certs:           make(map[string]*DomainCertificate),
		pendingByDomain: make(map[string]map[string]struct{}),
	}
}

// CreateAccount stores the singleton account. The mutex provides the
// at-most-once guarantee within the process.
func (ms *MemoryStorage) CreateAccount(ctx context.Context, account *AcmeAccount) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.account != nil {
		return ErrAccountExists
	}

	cp := *account
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	ms.account = &cp
	return nil
}

func (ms *MemoryStorage) GetAccount(ctx context.Context) (*AcmeAccount, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if ms.account == nil {
		return nil, ErrAccountNotFound
	}
	cp := *ms.account
	return &cp, nil
}

func (ms *MemoryStorage) CreateDomain(ctx context.Context, domain *Domain) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	cp := *domain
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	if cp.SSLMode == "" {
		cp.SSLMode = SSLModeNone
	}
	ms.domains[cp.ID] = &cp
	return nil
}

func (ms *MemoryStorage) GetDomain(ctx context.Context, id string) (*Domain, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	d, ok := ms.domains[id]
	if !ok {
		return nil, ErrDomainNotFound
	}
	cp := *d
	return &cp, nil
}

func (ms *MemoryStorage) SetDomainSSLMode(ctx context.Context, id, mode string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	d, ok := ms.domains[id]
	if !ok {
		return ErrDomainNotFound
	}
	d.SSLMode = mode
	d.UpdatedAt = time.Now()
	return nil
}

func (ms *MemoryStorage) CreateCertificate(ctx context.Context, cert *DomainCertificate) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.certs[cert.ID]; exists {
		return ErrCertificateExists
	}

	cp := *cert
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	ms.certs[cp.ID] = &cp

	if cp.Status.Pending() {
		ms.indexPending(cp.DomainID, cp.ID)
	}
	return nil
}

func (ms *MemoryStorage) GetCertificate(ctx context.Context, id string) (*DomainCertificate, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	c, ok := ms.certs[id]
	if !ok {
		return nil, ErrCertificateNotFound
	}
	cp := *c
	return &cp, nil
}

func (ms *MemoryStorage) DeleteCertificate(ctx context.Context, id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	c, ok := ms.certs[id]
	if !ok {
		return ErrCertificateNotFound
	}
	if c.Status.Pending() {
		ms.unindexPending(c.DomainID, c.ID)
	}
	delete(ms.certs, id)
	return nil
}

func (ms *MemoryStorage) MarkIssued(ctx context.Context, id string, material IssuedMaterial) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	c, ok := ms.certs[id]
	if !ok {
		return ErrCertificateNotFound
	}
	if !c.Status.Pending() {
		return ErrNotPending
	}

	ms.unindexPending(c.DomainID, c.ID)

	c.Status = StatusIssued
	c.CertificatePEM = material.CertificatePEM
	c.FullChainPEM = material.FullChainPEM
	issuedAt := material.IssuedAt
	expiresAt := material.ExpiresAt
	c.IssuedAt = &issuedAt
	c.ExpiresAt = &expiresAt
	c.ChallengeToken = ""
	c.ChallengeKeyAuth = ""
	c.DNSTxtValue = ""
	c.OrderURL = ""
	c.LastError = ""
	c.UpdatedAt = time.Now()
	return nil
}

func (ms *MemoryStorage) MarkFailed(ctx context.Context, id string, errMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	c, ok := ms.certs[id]
	if !ok {
		return ErrCertificateNotFound
	}
	if !c.Status.Pending() {
		return ErrNotPending
	}

	ms.unindexPending(c.DomainID, c.ID)

	c.Status = StatusFailed
	c.LastError = errMsg
	c.RenewalAttempts++
	c.ChallengeToken = ""
	c.ChallengeKeyAuth = ""
	c.DNSTxtValue = ""
	c.OrderURL = ""
	c.UpdatedAt = time.Now()
	return nil
}

func (ms *MemoryStorage) RecordRenewalFailure(ctx context.Context, id string, errMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	c, ok := ms.certs[id]
	if !ok {
		return ErrCertificateNotFound
	}

	c.LastError = errMsg
	c.RenewalAttempts++
	c.UpdatedAt = time.Now()
	return nil
}

func (ms *MemoryStorage) ListExpiring(ctx context.Context, before time.Time, limit int) ([]*DomainCertificate, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*DomainCertificate
	for _, c := range ms.certs {
		if c.Status != StatusIssued || c.ExpiresAt == nil || c.ExpiresAt.After(before) {
			continue
		}
		if len(ms.pendingByDomain[c.DomainID]) > 0 {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(*out[j].ExpiresAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (ms *MemoryStorage) HasPendingForDomain(ctx context.Context, domainID string) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	return len(ms.pendingByDomain[domainID]) > 0, nil
}

func (ms *MemoryStorage) FindPendingHTTP01ByToken(ctx context.Context, token string) (*DomainCertificate, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for _, c := range ms.certs {
		if c.Status == StatusPendingHTTP01 && c.ChallengeToken == token {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrCertificateNotFound
}

func (ms *MemoryStorage) CountByStatus(ctx context.Context) (map[Status]int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	counts := make(map[Status]int)
	for _, c := range ms.certs {
		counts[c.Status]++
	}
	return counts, nil
}

func (ms *MemoryStorage) CountIssuedExpiringBefore(ctx context.Context, t time.Time) (int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	count := 0
	for _, c := range ms.certs {
		if c.Status == StatusIssued && c.ExpiresAt != nil && !c.ExpiresAt.After(t) {
			count++
		}
	}
	return count, nil
}

// TryLockRenewal takes the process-local renewal lock. The PostgreSQL
// implementation uses an advisory lock for the same contract.
func (ms *MemoryStorage) TryLockRenewal(ctx context.Context) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.renewalLock {
		return false, nil
	}
	ms.renewalLock = true
	return true, nil
}

func (ms *MemoryStorage) UnlockRenewal(ctx context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.renewalLock = false
	return nil
}

func (ms *MemoryStorage) indexPending(domainID, certID string) {
	set, ok := ms.pendingByDomain[domainID]
	if !ok {
		set = make(map[string]struct{})
		ms.pendingByDomain[domainID] = set
	}
	set[certID] = struct{}{}
}

func (ms *MemoryStorage) unindexPending(domainID, certID string) {
	set, ok := ms.pendingByDomain[domainID]
	if !ok {
		return
	}
	delete(set, certID)
	if len(set) == 0 {
		delete(ms.pendingByDomain, domainID)
	}
}
