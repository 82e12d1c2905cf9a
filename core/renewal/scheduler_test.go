package renewal_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unquietwiki/changerawr-sub002/core/certstore"
	"github.com/unquietwiki/changerawr-sub002/core/renewal"
)

// fakeIssuer records re-initiation requests and optionally fails some
// hostnames.
type fakeIssuer struct {
	mu       sync.Mutex
	requests []string
	failFor  map[string]error
}

func (f *fakeIssuer) RequestHTTP01(_ context.Context, domainID, hostname string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[hostname]; ok {
		return "", err
	}
	f.requests = append(f.requests, hostname)
	return "new-" + hostname, nil
}

func (f *fakeIssuer) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(f.requests[:0:0], f.requests...)
}

func seedIssued(t *testing.T, storage *certstore.MemoryStorage, id, domainID, hostname string, chalType certstore.ChallengeType, now time.Time, expiresIn time.Duration) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, storage.CreateDomain(ctx, &certstore.Domain{
		ID: domainID, Hostname: hostname, SSLMode: certstore.SSLModeCAIssued,
	}))
	require.NoError(t, storage.CreateCertificate(ctx, &certstore.DomainCertificate{
		ID:            id,
		DomainID:      domainID,
		Hostname:      hostname,
		Status:        certstore.StatusPendingHTTP01,
		ChallengeType: chalType,
	}))
	require.NoError(t, storage.MarkIssued(ctx, id, certstore.IssuedMaterial{
		CertificatePEM: "leaf",
		FullChainPEM:   "leaf+chain",
		IssuedAt:       now.Add(-time.Hour),
		ExpiresAt:      now.Add(expiresIn),
	}))
}

func TestRunAutoRenewalSelection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	storage := certstore.NewMemoryStorage()
	issuer := &fakeIssuer{}

	day := 24 * time.Hour
	seedIssued(t, storage, "c5", "d5", "five.example.com", certstore.ChallengeHTTP01, now, 5*day)
	seedIssued(t, storage, "c20", "d20", "twenty.example.com", certstore.ChallengeHTTP01, now, 20*day)
	seedIssued(t, storage, "c40", "d40", "forty.example.com", certstore.ChallengeHTTP01, now, 40*day)
	seedIssued(t, storage, "c100", "d100", "hundred.example.com", certstore.ChallengeHTTP01, now, 100*day)

	scheduler, err := renewal.New(storage, issuer,
		renewal.WithConfig(renewal.Config{Threshold: 30 * day, BatchSize: 2}),
		renewal.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	result, err := scheduler.RunAutoRenewal(ctx)
	require.NoError(t, err)

	// Only the two inside the 30-day threshold, soonest first; the batch
	// cap never reaches the 40- and 100-day certificates.
	assert.Equal(t, 2, result.Checked)
	assert.Equal(t, 2, result.Renewed)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, []string{"five.example.com", "twenty.example.com"}, issuer.requested())
}

func TestRunAutoRenewalSkipsDomainsWithPendingRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	storage := certstore.NewMemoryStorage()
	issuer := &fakeIssuer{}

	seedIssued(t, storage, "c1", "d1", "one.example.com", certstore.ChallengeHTTP01, now, 5*24*time.Hour)

	// A renewal is already in flight for this domain.
	require.NoError(t, storage.CreateCertificate(ctx, &certstore.DomainCertificate{
		ID:            "c1-renewal",
		DomainID:      "d1",
		Hostname:      "one.example.com",
		Status:        certstore.StatusPendingHTTP01,
		ChallengeType: certstore.ChallengeHTTP01,
	}))

	scheduler, err := renewal.New(storage, issuer)
	require.NoError(t, err)

	result, err := scheduler.RunAutoRenewal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Checked)
	assert.Empty(t, issuer.requested())
}

func TestRunAutoRenewalFlagsDNS01ForManualAction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	storage := certstore.NewMemoryStorage()
	issuer := &fakeIssuer{}

	seedIssued(t, storage, "c1", "d1", "manual.example.com", certstore.ChallengeDNS01, now, 5*24*time.Hour)

	scheduler, err := renewal.New(storage, issuer)
	require.NoError(t, err)

	result, err := scheduler.RunAutoRenewal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 0, result.Renewed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "manual renewal")
	assert.Empty(t, issuer.requested())

	// The serving certificate stays ISSUED; only the bookkeeping changes.
	rec, err := storage.GetCertificate(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, certstore.StatusIssued, rec.Status)
	assert.Equal(t, "requires manual renewal", rec.LastError)
	assert.Equal(t, 1, rec.RenewalAttempts)
}

func TestRunAutoRenewalContinuesPastFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	storage := certstore.NewMemoryStorage()
	issuer := &fakeIssuer{failFor: map[string]error{
		"bad.example.com": errors.New("rate limit exceeded"),
	}}

	seedIssued(t, storage, "c1", "d1", "bad.example.com", certstore.ChallengeHTTP01, now, 3*24*time.Hour)
	seedIssued(t, storage, "c2", "d2", "good.example.com", certstore.ChallengeHTTP01, now, 5*24*time.Hour)

	scheduler, err := renewal.New(storage, issuer)
	require.NoError(t, err)

	result, err := scheduler.RunAutoRenewal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Checked)
	assert.Equal(t, 1, result.Renewed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "bad.example.com")
	assert.Equal(t, []string{"good.example.com"}, issuer.requested())

	rec, err := storage.GetCertificate(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "rate limit exceeded", rec.LastError)
}

func TestRunAutoRenewalSerializedByLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := certstore.NewMemoryStorage()
	issuer := &fakeIssuer{}

	seedIssued(t, storage, "c1", "d1", "one.example.com", certstore.ChallengeHTTP01, time.Now(), 24*time.Hour)

	scheduler, err := renewal.New(storage, issuer)
	require.NoError(t, err)

	locked, err := storage.TryLockRenewal(ctx)
	require.NoError(t, err)
	require.True(t, locked)

	// A concurrent run returns a zero Result immediately.
	result, err := scheduler.RunAutoRenewal(ctx)
	require.NoError(t, err)
	assert.Equal(t, renewal.Result{}, result)
	assert.Empty(t, issuer.requested())

	require.NoError(t, storage.UnlockRenewal(ctx))

	result, err = scheduler.RunAutoRenewal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Renewed)
}

func TestCheckCertificateHealth(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	storage := certstore.NewMemoryStorage()

	// Two healthy, one expiring soon, one already expired.
	seedIssued(t, storage, "ok1", "d1", "a.example.com", certstore.ChallengeHTTP01, now, 60*day)
	seedIssued(t, storage, "ok2", "d2", "b.example.com", certstore.ChallengeHTTP01, now, 90*day)
	seedIssued(t, storage, "soon", "d3", "c.example.com", certstore.ChallengeHTTP01, now, 10*day)
	seedIssued(t, storage, "gone", "d4", "d.example.com", certstore.ChallengeHTTP01, now, -day)

	for i, status := range []certstore.Status{certstore.StatusPendingHTTP01, certstore.StatusPendingDNS01} {
		domainID := fmt.Sprintf("dp%d", i)
		hostname := fmt.Sprintf("p%d.example.com", i)
		require.NoError(t, storage.CreateDomain(ctx, &certstore.Domain{ID: domainID, Hostname: hostname}))
		chalType := certstore.ChallengeHTTP01
		if status == certstore.StatusPendingDNS01 {
			chalType = certstore.ChallengeDNS01
		}
		require.NoError(t, storage.CreateCertificate(ctx, &certstore.DomainCertificate{
			ID: "pend-" + domainID, DomainID: domainID, Hostname: hostname,
			Status: status, ChallengeType: chalType,
		}))
	}

	require.NoError(t, storage.CreateDomain(ctx, &certstore.Domain{ID: "df", Hostname: "f.example.com"}))
	require.NoError(t, storage.CreateCertificate(ctx, &certstore.DomainCertificate{
		ID: "failed", DomainID: "df", Hostname: "f.example.com",
		Status: certstore.StatusPendingHTTP01, ChallengeType: certstore.ChallengeHTTP01,
	}))
	require.NoError(t, storage.MarkFailed(ctx, "failed", "authorization failed"))

	scheduler, err := renewal.New(storage, &fakeIssuer{},
		renewal.WithConfig(renewal.Config{Threshold: 30 * day}),
		renewal.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	health, err := scheduler.CheckCertificateHealth(ctx)
	require.NoError(t, err)

	assert.Equal(t, renewal.Health{
		Total:         7,
		Issued:        3,
		Pending:       2,
		PendingHTTP01: 1,
		PendingDNS01:  1,
		Failed:        1,
		Expired:       1,
		ExpiringSoon:  1,
	}, health)
}
