package certapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unquietwiki/changerawr-sub002/core/certapi"
	"github.com/unquietwiki/changerawr-sub002/core/certstore"
	"github.com/unquietwiki/changerawr-sub002/core/issuance"
	"github.com/unquietwiki/changerawr-sub002/core/ratelimit"
	"github.com/unquietwiki/changerawr-sub002/core/renewal"
)

const testSecret = "ops-secret"

type fakeIssuer struct {
	requestErr  error
	completeErr error
	lastDomain  string
	lastHost    string
}

func (f *fakeIssuer) RequestHTTP01(_ context.Context, domainID, hostname string) (string, error) {
	if f.requestErr != nil {
		return "", f.requestErr
	}
	f.lastDomain, f.lastHost = domainID, hostname
	return "cert-http", nil
}

func (f *fakeIssuer) InitiateDNS01(_ context.Context, domainID, hostname string) (issuance.DNSChallenge, error) {
	if f.requestErr != nil {
		return issuance.DNSChallenge{}, f.requestErr
	}
	return issuance.DNSChallenge{
		CertificateID: "cert-dns",
		TXTName:       "_acme-challenge." + hostname,
		TXTValue:      "txt-value",
	}, nil
}

func (f *fakeIssuer) CompleteDNS01(context.Context, string) error {
	return f.completeErr
}

type fakeScheduler struct {
	result renewal.Result
	health renewal.Health
}

func (f *fakeScheduler) RunAutoRenewal(context.Context) (renewal.Result, error) {
	return f.result, nil
}

func (f *fakeScheduler) CheckCertificateHealth(context.Context) (renewal.Health, error) {
	return f.health, nil
}

func newTestAPI(t *testing.T, storage certstore.Storage, issuer certapi.Issuer, scheduler certapi.Scheduler, opts ...certapi.Option) *echo.Echo {
	t.Helper()
	if storage == nil {
		storage = certstore.NewMemoryStorage()
	}
	if issuer == nil {
		issuer = &fakeIssuer{}
	}
	if scheduler == nil {
		scheduler = &fakeScheduler{}
	}
	api, err := certapi.New(storage, issuer, scheduler, certapi.Config{SharedSecret: testSecret}, opts...)
	require.NoError(t, err)

	e := echo.New()
	api.Register(e)
	return e
}

func doRequest(e *echo.Echo, method, path, body string, authed bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authed {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+testSecret)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestOpsRoutesRequireSharedSecret(t *testing.T) {
	t.Parallel()

	e := newTestAPI(t, nil, nil, nil)

	for _, header := range []string{"", "Bearer wrong", "Basic " + testSecret} {
		req := httptest.NewRequest(http.MethodGet, "/ops/certificates/health", nil)
		if header != "" {
			req.Header.Set(echo.HeaderAuthorization, header)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}

	rec := doRequest(e, http.MethodGet, "/ops/certificates/health", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewRequiresSharedSecret(t *testing.T) {
	t.Parallel()

	_, err := certapi.New(certstore.NewMemoryStorage(), &fakeIssuer{}, &fakeScheduler{}, certapi.Config{})
	assert.ErrorIs(t, err, certapi.ErrMissingSecret)
}

func TestRequestCertificateHTTP01(t *testing.T) {
	t.Parallel()

	issuer := &fakeIssuer{}
	e := newTestAPI(t, nil, issuer, nil)

	rec := doRequest(e, http.MethodPost, "/ops/domains/d1/certificates",
		`{"hostname":"status.example.com","challengeType":"http-01"}`, true)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cert-http", resp["certId"])
	assert.Equal(t, "d1", issuer.lastDomain)
	assert.Equal(t, "status.example.com", issuer.lastHost)
}

func TestRequestCertificateDNS01(t *testing.T) {
	t.Parallel()

	e := newTestAPI(t, nil, nil, nil)

	rec := doRequest(e, http.MethodPost, "/ops/domains/d1/certificates",
		`{"hostname":"shop.example.com","challengeType":"dns-01"}`, true)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cert-dns", resp["certId"])
	assert.Equal(t, "_acme-challenge.shop.example.com", resp["txtName"])
	assert.Equal(t, "txt-value", resp["txtValue"])
}

func TestRequestCertificateValidation(t *testing.T) {
	t.Parallel()

	e := newTestAPI(t, nil, nil, nil)

	rec := doRequest(e, http.MethodPost, "/ops/domains/d1/certificates", `{"hostname":""}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(e, http.MethodPost, "/ops/domains/d1/certificates",
		`{"hostname":"a.example.com","challengeType":"tls-alpn-01"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		requestErr error
		wantStatus int
	}{
		{"rate limited", ratelimit.ErrLimitExceeded, http.StatusTooManyRequests},
		{"already pending", issuance.ErrPendingExists, http.StatusConflict},
		{"challenge unavailable", issuance.ErrChallengeUnavailable, http.StatusUnprocessableEntity},
		{"domain not found", certstore.ErrDomainNotFound, http.StatusNotFound},
		{"unknown", errors.New("pg down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newTestAPI(t, nil, &fakeIssuer{requestErr: tt.requestErr}, nil)
			rec := doRequest(e, http.MethodPost, "/ops/domains/d1/certificates",
				`{"hostname":"a.example.com","challengeType":"http-01"}`, true)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestCompleteDNS01Conflicts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		completeErr error
		wantStatus  int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"state mismatch", issuance.ErrStateMismatch, http.StatusConflict},
		{"not propagated", issuance.ErrPropagation, http.StatusConflict},
		{"not found", certstore.ErrCertificateNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newTestAPI(t, nil, &fakeIssuer{completeErr: tt.completeErr}, nil)
			rec := doRequest(e, http.MethodPost, "/ops/certificates/c1/dns-complete", "", true)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestGetCertificateView(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	storage := certstore.NewMemoryStorage()

	require.NoError(t, storage.CreateDomain(ctx, &certstore.Domain{ID: "d1", Hostname: "a.example.com"}))
	require.NoError(t, storage.CreateCertificate(ctx, &certstore.DomainCertificate{
		ID: "c1", DomainID: "d1", Hostname: "a.example.com",
		Status: certstore.StatusPendingHTTP01, ChallengeType: certstore.ChallengeHTTP01,
	}))
	require.NoError(t, storage.MarkIssued(ctx, "c1", certstore.IssuedMaterial{
		CertificatePEM: "leaf", FullChainPEM: "chain",
		IssuedAt:  now.Add(-100 * 24 * time.Hour),
		ExpiresAt: now.Add(-10 * 24 * time.Hour),
	}))

	e := newTestAPI(t, storage, nil, nil, certapi.WithClock(func() time.Time { return now }))

	rec := doRequest(e, http.MethodGet, "/ops/certificates/c1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "EXPIRED", view["status"], "expiry is classified at read time")
	assert.NotContains(t, rec.Body.String(), "PRIVATE KEY")

	rec = doRequest(e, http.MethodGet, "/ops/certificates/missing", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChallengeResponder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := certstore.NewMemoryStorage()

	require.NoError(t, storage.CreateDomain(ctx, &certstore.Domain{ID: "d1", Hostname: "a.example.com"}))
	require.NoError(t, storage.CreateCertificate(ctx, &certstore.DomainCertificate{
		ID: "c1", DomainID: "d1", Hostname: "a.example.com",
		Status: certstore.StatusPendingHTTP01, ChallengeType: certstore.ChallengeHTTP01,
		ChallengeToken: "tok-1", ChallengeKeyAuth: "tok-1.thumbprint",
	}))

	e := newTestAPI(t, storage, nil, nil)

	// No auth header: the CA fetches this anonymously.
	rec := doRequest(e, http.MethodGet, "/.well-known/acme-challenge/tok-1", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok-1.thumbprint", rec.Body.String())

	rec = doRequest(e, http.MethodGet, "/.well-known/acme-challenge/unknown", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Issued records stop answering.
	require.NoError(t, storage.MarkIssued(ctx, "c1", certstore.IssuedMaterial{
		CertificatePEM: "leaf", FullChainPEM: "chain",
		IssuedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}))
	rec = doRequest(e, http.MethodGet, "/.well-known/acme-challenge/tok-1", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRenewalRunEndpoint(t *testing.T) {
	t.Parallel()

	scheduler := &fakeScheduler{result: renewal.Result{Checked: 3, Renewed: 2, Failed: 1, Errors: []string{"x: boom"}}}
	e := newTestAPI(t, nil, nil, scheduler)

	rec := doRequest(e, http.MethodPost, "/ops/renewal/run", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"checked":3,"renewed":2,"failed":1,"errors":["x: boom"]}`, rec.Body.String())
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	e := newTestAPI(t, nil, nil, nil,
		certapi.WithReadinessCheck("postgres", func(context.Context) error { return nil }),
		certapi.WithReadinessCheck("redis", func(context.Context) error { return errors.New("connection refused") }))

	rec := doRequest(e, http.MethodGet, "/health/live", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(e, http.MethodGet, "/health/ready", "", false)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var deps map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deps))
	assert.Equal(t, "ok", deps["postgres"])
	assert.Contains(t, deps["redis"], "connection refused")
}
