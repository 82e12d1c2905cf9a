package acmeaccount

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"golang.org/x/crypto/acme"

	"github.com/unquietwiki/changerawr-sub002/core/certstore"
	"github.com/unquietwiki/changerawr-sub002/core/keyvault"
)

// registerFunc performs the network registration step. Indirection exists
// so tests can bootstrap accounts without a CA.
type registerFunc func(ctx context.Context, client *acme.Client, email string) (accountURL string, err error)

// Manager owns the singleton ACME account and builds clients bound to it.
// Safe for concurrent use.
type Manager struct {
	storage  certstore.AccountRepository
	vault    keyvault.Vault
	cfg      Config
	logger   *slog.Logger
	register registerFunc

	mu     sync.Mutex
	client *acme.Client
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRegisterFunc overrides the registration step, primarily for tests.
func WithRegisterFunc(fn func(ctx context.Context, client *acme.Client, email string) (string, error)) Option {
	return func(m *Manager) {
		if fn != nil {
			m.register = fn
		}
	}
}

// New creates a Manager. Configuration errors (missing email) surface here,
// before any network call.
func New(storage certstore.AccountRepository, vault keyvault.Vault, cfg Config, opts ...Option) (*Manager, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	if vault == nil {
		return nil, ErrVaultNil
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	m := &Manager{
		storage:  storage,
		vault:    vault,
		cfg:      cfg,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		register: registerAccount,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Client returns an ACME client bound to the singleton account, creating
// and persisting the account on first use.
func (m *Manager) Client(ctx context.Context) (*acme.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}

	account, err := m.storage.GetAccount(ctx)
	switch {
	case err == nil:
		client, err := m.clientFromStored(account)
		if err != nil {
			return nil, err
		}
		m.client = client
		return client, nil
	case errors.Is(err, certstore.ErrAccountNotFound):
		client, err := m.bootstrap(ctx)
		if err != nil {
			return nil, err
		}
		m.client = client
		return client, nil
	default:
		return nil, fmt.Errorf("load acme account: %w", err)
	}
}

// bootstrap registers a fresh account and persists it with first-writer
// wins semantics. On a create conflict the winner's account is adopted.
func (m *Manager) bootstrap(ctx context.Context) (*acme.Client, error) {
	key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	if err != nil {
		return nil, fmt.Errorf("generate account key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("account key type %T is not a signer", key)
	}

	client := m.newClient(signer)
	accountURL, err := m.register(ctx, client, m.cfg.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}

	encrypted, err := m.vault.Encrypt(certcrypto.PEMEncode(key))
	if err != nil {
		return nil, fmt.Errorf("encrypt account key: %w", err)
	}

	record := &certstore.AcmeAccount{
		ID:        certstore.AcmeAccountID,
		KeyPEM:    encrypted,
		URL:       accountURL,
		Email:     m.cfg.Email,
		CreatedAt: time.Now(),
	}

	if err := m.storage.CreateAccount(ctx, record); err != nil {
		if errors.Is(err, certstore.ErrAccountExists) {
			// Another instance won the registration race; use its account.
			m.logger.InfoContext(ctx, "acme account already registered by another instance, adopting it")
			winner, getErr := m.storage.GetAccount(ctx)
			if getErr != nil {
				return nil, fmt.Errorf("load winning acme account: %w", getErr)
			}
			return m.clientFromStored(winner)
		}
		return nil, fmt.Errorf("persist acme account: %w", err)
	}

	m.logger.InfoContext(ctx, "registered new acme account",
		slog.String("directory", m.cfg.DirectoryURL),
		slog.String("account_url", accountURL))
	return client, nil
}

// clientFromStored decrypts the persisted key and rebuilds a client bound
// to the existing registration.
func (m *Manager) clientFromStored(account *certstore.AcmeAccount) (*acme.Client, error) {
	keyPEM, err := m.vault.Decrypt(account.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("decrypt account key: %w", err)
	}

	key, err := certcrypto.ParsePEMPrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse account key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("account key type %T is not a signer", key)
	}

	return m.newClient(signer), nil
}

func (m *Manager) newClient(key crypto.Signer) *acme.Client {
	return &acme.Client{
		Key:          key,
		DirectoryURL: m.cfg.DirectoryURL,
		HTTPClient:   &http.Client{Timeout: m.cfg.HTTPTimeout},
	}
}

// registerAccount is the production registration step.
func registerAccount(ctx context.Context, client *acme.Client, email string) (string, error) {
	account, err := client.Register(ctx, &acme.Account{
		Contact: []string{"mailto:" + email},
	}, acme.AcceptTOS)
	if err != nil {
		return "", err
	}
	return account.URI, nil
}
