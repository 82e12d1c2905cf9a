package certstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unquietwiki/changerawr-sub002/core/certstore"
)

func newPendingCert(domainID, hostname string) *certstore.DomainCertificate {
	return &certstore.DomainCertificate{
		ID:             uuid.NewString(),
		DomainID:       domainID,
		Hostname:       hostname,
		Status:         certstore.StatusPendingHTTP01,
		ChallengeType:  certstore.ChallengeHTTP01,
		ChallengeToken: uuid.NewString(),
	}
}

func newIssuedCert(t *testing.T, store *certstore.MemoryStorage, domainID, hostname string, expiresIn time.Duration) *certstore.DomainCertificate {
	t.Helper()
	ctx := context.Background()

	cert := newPendingCert(domainID, hostname)
	require.NoError(t, store.CreateCertificate(ctx, cert))

	now := time.Now()
	require.NoError(t, store.MarkIssued(ctx, cert.ID, certstore.IssuedMaterial{
		CertificatePEM: "leaf",
		FullChainPEM:   "leaf\nchain",
		IssuedAt:       now,
		ExpiresAt:      now.Add(expiresIn),
	}))

	issued, err := store.GetCertificate(ctx, cert.ID)
	require.NoError(t, err)
	return issued
}

func TestAccountAtMostOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := certstore.NewMemoryStorage()

	_, err := store.GetAccount(ctx)
	assert.ErrorIs(t, err, certstore.ErrAccountNotFound)

	account := &certstore.AcmeAccount{
		ID:     certstore.AcmeAccountID,
		KeyPEM: "encrypted",
		URL:    "https://ca.example/acct/1",
		Email:  "ops@example.com",
	}
	require.NoError(t, store.CreateAccount(ctx, account))

	err = store.CreateAccount(ctx, &certstore.AcmeAccount{ID: certstore.AcmeAccountID})
	assert.ErrorIs(t, err, certstore.ErrAccountExists)

	got, err := store.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://ca.example/acct/1", got.URL)
}

func TestTerminalOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := certstore.NewMemoryStorage()

	cert := newPendingCert("d1", "app.example.com")
	require.NoError(t, store.CreateCertificate(ctx, cert))

	material := certstore.IssuedMaterial{
		CertificatePEM: "leaf",
		FullChainPEM:   "leaf\nchain",
		IssuedAt:       time.Now(),
		ExpiresAt:      time.Now().Add(90 * 24 * time.Hour),
	}
	require.NoError(t, store.MarkIssued(ctx, cert.ID, material))

	// A terminal record cannot be written again, in either direction.
	assert.ErrorIs(t, store.MarkIssued(ctx, cert.ID, material), certstore.ErrNotPending)
	assert.ErrorIs(t, store.MarkFailed(ctx, cert.ID, "late failure"), certstore.ErrNotPending)

	got, err := store.GetCertificate(ctx, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, certstore.StatusIssued, got.Status)
	assert.Empty(t, got.ChallengeToken, "challenge artifacts cleared on issue")
	assert.NotNil(t, got.ExpiresAt)
}

func TestMarkFailedBookkeeping(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := certstore.NewMemoryStorage()

	cert := newPendingCert("d1", "app.example.com")
	require.NoError(t, store.CreateCertificate(ctx, cert))
	require.NoError(t, store.MarkFailed(ctx, cert.ID, "authorization invalid"))

	got, err := store.GetCertificate(ctx, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, certstore.StatusFailed, got.Status)
	assert.Equal(t, "authorization invalid", got.LastError)
	assert.Equal(t, 1, got.RenewalAttempts)
	assert.Nil(t, got.ExpiresAt)
}

func TestListExpiringSelection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := certstore.NewMemoryStorage()

	day := 24 * time.Hour
	soonest := newIssuedCert(t, store, "d5", "five.example.com", 5*day)
	second := newIssuedCert(t, store, "d20", "twenty.example.com", 20*day)
	newIssuedCert(t, store, "d40", "forty.example.com", 40*day)
	newIssuedCert(t, store, "d100", "hundred.example.com", 100*day)

	got, err := store.ListExpiring(ctx, time.Now().Add(30*day), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, soonest.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
}

func TestListExpiringExcludesPendingDomains(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := certstore.NewMemoryStorage()

	day := 24 * time.Hour
	newIssuedCert(t, store, "d1", "app.example.com", 10*day)

	// The same domain already has a renewal in flight.
	require.NoError(t, store.CreateCertificate(ctx, newPendingCert("d1", "app.example.com")))

	got, err := store.ListExpiring(ctx, time.Now().Add(30*day), 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	pending, err := store.HasPendingForDomain(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestFindPendingHTTP01ByToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := certstore.NewMemoryStorage()

	cert := newPendingCert("d1", "app.example.com")
	cert.ChallengeKeyAuth = cert.ChallengeToken + ".thumbprint"
	require.NoError(t, store.CreateCertificate(ctx, cert))

	got, err := store.FindPendingHTTP01ByToken(ctx, cert.ChallengeToken)
	require.NoError(t, err)
	assert.Equal(t, cert.ID, got.ID)
	assert.Equal(t, cert.ChallengeKeyAuth, got.ChallengeKeyAuth)

	_, err = store.FindPendingHTTP01ByToken(ctx, "unknown-token")
	assert.ErrorIs(t, err, certstore.ErrCertificateNotFound)

	// Issued records no longer answer challenges.
	require.NoError(t, store.MarkIssued(ctx, cert.ID, certstore.IssuedMaterial{
		CertificatePEM: "leaf", FullChainPEM: "leaf", IssuedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}))
	_, err = store.FindPendingHTTP01ByToken(ctx, cert.ChallengeToken)
	assert.ErrorIs(t, err, certstore.ErrCertificateNotFound)
}

func TestCounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := certstore.NewMemoryStorage()

	newIssuedCert(t, store, "d1", "one.example.com", 10*24*time.Hour)
	newIssuedCert(t, store, "d2", "two.example.com", -time.Hour) // already expired
	require.NoError(t, store.CreateCertificate(ctx, newPendingCert("d3", "three.example.com")))

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[certstore.StatusIssued])
	assert.Equal(t, 1, counts[certstore.StatusPendingHTTP01])

	expired, err := store.CountIssuedExpiringBefore(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
}

func TestRenewalLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := certstore.NewMemoryStorage()

	ok, err := store.TryLockRenewal(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TryLockRenewal(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second concurrent run must not acquire the lock")

	require.NoError(t, store.UnlockRenewal(ctx))

	ok, err = store.TryLockRenewal(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEffectiveStatus(t *testing.T) {
	t.Parallel()

	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		cert certstore.DomainCertificate
		want certstore.Status
	}{
		{"issued and valid", certstore.DomainCertificate{Status: certstore.StatusIssued, ExpiresAt: &future}, certstore.StatusIssued},
		{"issued and lapsed", certstore.DomainCertificate{Status: certstore.StatusIssued, ExpiresAt: &past}, certstore.StatusExpired},
		{"pending", certstore.DomainCertificate{Status: certstore.StatusPendingDNS01}, certstore.StatusPendingDNS01},
		{"failed", certstore.DomainCertificate{Status: certstore.StatusFailed}, certstore.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cert.EffectiveStatus(now))
		})
	}
}
