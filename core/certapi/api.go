package certapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/unquietwiki/changerawr-sub002/core/certstore"
	"github.com/unquietwiki/changerawr-sub002/core/hostguard"
	"github.com/unquietwiki/changerawr-sub002/core/issuance"
	"github.com/unquietwiki/changerawr-sub002/core/ratelimit"
	"github.com/unquietwiki/changerawr-sub002/core/renewal"
)

// Issuer is the issuance surface the API drives. Satisfied by
// issuance.Service.
type Issuer interface {
	RequestHTTP01(ctx context.Context, domainID, hostname string) (string, error)
	InitiateDNS01(ctx context.Context, domainID, hostname string) (issuance.DNSChallenge, error)
	CompleteDNS01(ctx context.Context, certificateID string) error
}

// Scheduler is the renewal surface the API drives. Satisfied by
// renewal.Scheduler.
type Scheduler interface {
	RunAutoRenewal(ctx context.Context) (renewal.Result, error)
	CheckCertificateHealth(ctx context.Context) (renewal.Health, error)
}

// ReadinessCheck reports one dependency's health for /health/ready.
type ReadinessCheck func(ctx context.Context) error

// Config holds API settings, loadable from the environment.
type Config struct {
	// SharedSecret authenticates /ops callers as a bearer token.
	SharedSecret string `env:"OPS_SHARED_SECRET"`
}

// API registers the control surface routes on an echo instance.
type API struct {
	storage   certstore.Storage
	issuer    Issuer
	scheduler Scheduler
	secret    string
	readiness map[string]ReadinessCheck
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an API.
type Option func(*API)

// WithReadinessCheck registers a named dependency check for
// /health/ready.
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(a *API) {
		if name != "" && check != nil {
			a.readiness[name] = check
		}
	}
}

// WithLogger sets the logger for request handling failures.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates the API. The shared secret is mandatory: the ops surface
// may never run open.
func New(storage certstore.Storage, issuer Issuer, scheduler Scheduler, cfg Config, opts ...Option) (*API, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	if issuer == nil {
		return nil, ErrIssuerNil
	}
	if scheduler == nil {
		return nil, ErrSchedulerNil
	}
	if cfg.SharedSecret == "" {
		return nil, ErrMissingSecret
	}

	a := &API{
		storage:   storage,
		issuer:    issuer,
		scheduler: scheduler,
		secret:    cfg.SharedSecret,
		readiness: make(map[string]ReadinessCheck),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Register mounts all routes.
func (a *API) Register(e *echo.Echo) {
	ops := e.Group("/ops", a.requireSharedSecret)
	ops.POST("/renewal/run", a.runRenewal)
	ops.GET("/certificates/health", a.certificateHealth)
	ops.POST("/domains/:id/certificates", a.requestCertificate)
	ops.POST("/certificates/:id/dns-complete", a.completeDNS01)
	ops.GET("/certificates/:id", a.getCertificate)

	e.GET("/.well-known/acme-challenge/:token", a.challengeResponse)
	e.GET("/health/live", a.healthLive)
	e.GET("/health/ready", a.healthReady)
}

type requestCertificateBody struct {
	Hostname      string `json:"hostname"`
	ChallengeType string `json:"challengeType"`
}

type certificateIDResponse struct {
	CertID string `json:"certId"`
}

// certificateView is the polling representation: status with read-time
// expiry classification, never any key material.
type certificateView struct {
	ID              string     `json:"id"`
	DomainID        string     `json:"domainId"`
	Hostname        string     `json:"hostname"`
	Status          string     `json:"status"`
	ChallengeType   string     `json:"challengeType"`
	IssuedAt        *time.Time `json:"issuedAt,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
	RenewalAttempts int        `json:"renewalAttempts"`
}

func (a *API) runRenewal(c echo.Context) error {
	result, err := a.scheduler.RunAutoRenewal(c.Request().Context())
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (a *API) certificateHealth(c echo.Context) error {
	health, err := a.scheduler.CheckCertificateHealth(c.Request().Context())
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, health)
}

func (a *API) requestCertificate(c echo.Context) error {
	domainID := c.Param("id")

	var body requestCertificateBody
	if err := c.Bind(&body); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if body.Hostname == "" {
		return errorJSON(c, http.StatusBadRequest, "hostname is required")
	}

	ctx := c.Request().Context()
	switch certstore.ChallengeType(body.ChallengeType) {
	case certstore.ChallengeHTTP01, "":
		certID, err := a.issuer.RequestHTTP01(ctx, domainID, body.Hostname)
		if err != nil {
			return a.fail(c, err)
		}
		return c.JSON(http.StatusAccepted, certificateIDResponse{CertID: certID})

	case certstore.ChallengeDNS01:
		chal, err := a.issuer.InitiateDNS01(ctx, domainID, body.Hostname)
		if err != nil {
			return a.fail(c, err)
		}
		return c.JSON(http.StatusAccepted, chal)

	default:
		return errorJSON(c, http.StatusBadRequest, "unknown challenge type: "+body.ChallengeType)
	}
}

func (a *API) completeDNS01(c echo.Context) error {
	certID := c.Param("id")
	if err := a.issuer.CompleteDNS01(c.Request().Context(), certID); err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, certificateIDResponse{CertID: certID})
}

func (a *API) getCertificate(c echo.Context) error {
	cert, err := a.storage.GetCertificate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return a.fail(c, err)
	}

	return c.JSON(http.StatusOK, certificateView{
		ID:              cert.ID,
		DomainID:        cert.DomainID,
		Hostname:        cert.Hostname,
		Status:          string(cert.EffectiveStatus(a.now())),
		ChallengeType:   string(cert.ChallengeType),
		IssuedAt:        cert.IssuedAt,
		ExpiresAt:       cert.ExpiresAt,
		LastError:       cert.LastError,
		RenewalAttempts: cert.RenewalAttempts,
	})
}

// challengeResponse serves the HTTP-01 key authorization. Only pending
// records answer; anything else is indistinguishable from an unknown
// token.
func (a *API) challengeResponse(c echo.Context) error {
	token := c.Param("token")
	cert, err := a.storage.FindPendingHTTP01ByToken(c.Request().Context(), token)
	if err != nil {
		if errors.Is(err, certstore.ErrCertificateNotFound) {
			return c.NoContent(http.StatusNotFound)
		}
		return a.fail(c, err)
	}
	return c.String(http.StatusOK, cert.ChallengeKeyAuth)
}

func (a *API) healthLive(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) healthReady(c echo.Context) error {
	ctx := c.Request().Context()
	status := http.StatusOK
	deps := make(map[string]string, len(a.readiness))
	for name, check := range a.readiness {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	return c.JSON(status, deps)
}

// fail maps domain errors to HTTP statuses. Initiation-time validation
// is the caller's fault; propagation and state races are retryable
// conflicts.
func (a *API) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, hostguard.ErrInvalidHostname),
		errors.Is(err, hostguard.ErrDisallowedHost),
		errors.Is(err, hostguard.ErrHostResolution):
		return errorJSON(c, http.StatusBadRequest, err.Error())

	case errors.Is(err, ratelimit.ErrLimitExceeded):
		return errorJSON(c, http.StatusTooManyRequests, err.Error())

	case errors.Is(err, issuance.ErrChallengeUnavailable):
		return errorJSON(c, http.StatusUnprocessableEntity, err.Error())

	case errors.Is(err, issuance.ErrStateMismatch),
		errors.Is(err, issuance.ErrPendingExists):
		return errorJSON(c, http.StatusConflict, err.Error())

	case errors.Is(err, issuance.ErrPropagation):
		return errorJSON(c, http.StatusConflict, err.Error()+"; retry after the TXT record propagates")

	case errors.Is(err, certstore.ErrDomainNotFound),
		errors.Is(err, certstore.ErrCertificateNotFound):
		return errorJSON(c, http.StatusNotFound, err.Error())

	default:
		a.logger.ErrorContext(c.Request().Context(), "request failed",
			slog.String("method", c.Request().Method),
			slog.String("path", c.Path()),
			slog.String("error", err.Error()))
		return errorJSON(c, http.StatusInternalServerError, "internal error")
	}
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}
