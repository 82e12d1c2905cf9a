package issuance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/crypto/acme"

	"github.com/unquietwiki/changerawr-sub002/core/acmeaccount"
	"github.com/unquietwiki/changerawr-sub002/core/certstore"
)

// Order is the engine's view of an ACME order.
type Order struct {
	URL         string
	FinalizeURL string
	AuthzURLs   []string
}

// Challenge is one proof mechanism offered by an authorization.
type Challenge struct {
	Type  certstore.ChallengeType
	URL   string
	Token string
}

// Authorization is the per-hostname proof requirement.
type Authorization struct {
	URL        string
	Status     string
	Challenges []Challenge
}

// Driver covers every CA interaction so the sandbox can replace them
// without touching the orchestration, persistence, or notification logic.
type Driver interface {
	CreateOrder(ctx context.Context, hostname string) (*Order, error)
	GetOrder(ctx context.Context, orderURL string) (*Order, error)
	GetAuthorization(ctx context.Context, authzURL string) (*Authorization, error)
	AcceptChallenge(ctx context.Context, chal Challenge) error

	// WaitAuthorization polls until the authorization is valid, with
	// bounded backoff. A terminal CA status returns ErrAuthorizationFailed.
	WaitAuthorization(ctx context.Context, authzURL string) error

	// HTTP01KeyAuth computes the key authorization served at the
	// well-known path for a token.
	HTTP01KeyAuth(ctx context.Context, token string) (string, error)

	// DNS01TXTValue computes the TXT record value for a token.
	DNS01TXTValue(ctx context.Context, token string) (string, error)

	// Finalize submits the CSR and downloads the certificate chain as
	// concatenated PEM, leaf first.
	Finalize(ctx context.Context, finalizeURL string, csrDER []byte) ([]byte, error)
}

// CADriver implements Driver against a real ACME directory through the
// account manager's client.
type CADriver struct {
	accounts     *acmeaccount.Manager
	pollBase     time.Duration
	pollAttempts uint64
}

var _ Driver = (*CADriver)(nil)

// CADriverOption configures a CADriver.
type CADriverOption func(*CADriver)

// WithAuthorizationPolling overrides the authorization polling backoff,
// primarily for tests.
func WithAuthorizationPolling(base time.Duration, attempts uint64) CADriverOption {
	return func(d *CADriver) {
		if base > 0 {
			d.pollBase = base
		}
		if attempts > 0 {
			d.pollAttempts = attempts
		}
	}
}

// NewCADriver creates a Driver bound to the singleton ACME account.
func NewCADriver(accounts *acmeaccount.Manager, opts ...CADriverOption) (*CADriver, error) {
	if accounts == nil {
		return nil, errors.New("account manager cannot be nil")
	}
	d := &CADriver{
		accounts:     accounts,
		pollBase:     2 * time.Second,
		pollAttempts: 8,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *CADriver) CreateOrder(ctx context.Context, hostname string) (*Order, error) {
	client, err := d.accounts.Client(ctx)
	if err != nil {
		return nil, err
	}

	order, err := client.AuthorizeOrder(ctx, acme.DomainIDs(hostname))
	if err != nil {
		return nil, fmt.Errorf("authorize order for %s: %w", hostname, err)
	}
	return mapOrder(order), nil
}

func (d *CADriver) GetOrder(ctx context.Context, orderURL string) (*Order, error) {
	client, err := d.accounts.Client(ctx)
	if err != nil {
		return nil, err
	}

	order, err := client.GetOrder(ctx, orderURL)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderURL, err)
	}
	return mapOrder(order), nil
}

func (d *CADriver) GetAuthorization(ctx context.Context, authzURL string) (*Authorization, error) {
	client, err := d.accounts.Client(ctx)
	if err != nil {
		return nil, err
	}

	authz, err := client.GetAuthorization(ctx, authzURL)
	if err != nil {
		return nil, fmt.Errorf("get authorization %s: %w", authzURL, err)
	}

	out := &Authorization{URL: authzURL, Status: authz.Status}
	for _, c := range authz.Challenges {
		out.Challenges = append(out.Challenges, Challenge{
			Type:  certstore.ChallengeType(c.Type),
			URL:   c.URI,
			Token: c.Token,
		})
	}
	return out, nil
}

func (d *CADriver) AcceptChallenge(ctx context.Context, chal Challenge) error {
	client, err := d.accounts.Client(ctx)
	if err != nil {
		return err
	}

	if _, err := client.Accept(ctx, &acme.Challenge{
		Type:  string(chal.Type),
		URI:   chal.URL,
		Token: chal.Token,
	}); err != nil {
		return fmt.Errorf("accept %s challenge: %w", chal.Type, err)
	}
	return nil
}

// WaitAuthorization polls the authorization with exponential backoff
// rather than busy-waiting; the attempt cap bounds the total wait.
func (d *CADriver) WaitAuthorization(ctx context.Context, authzURL string) error {
	client, err := d.accounts.Client(ctx)
	if err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(d.pollAttempts, retry.NewExponential(d.pollBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		authz, err := client.GetAuthorization(ctx, authzURL)
		if err != nil {
			return retry.RetryableError(err)
		}
		switch authz.Status {
		case acme.StatusValid:
			return nil
		case acme.StatusPending, acme.StatusProcessing:
			return retry.RetryableError(fmt.Errorf("authorization %s", authz.Status))
		default:
			return fmt.Errorf("%w: status %s", ErrAuthorizationFailed, authz.Status)
		}
	})
}

func (d *CADriver) HTTP01KeyAuth(ctx context.Context, token string) (string, error) {
	client, err := d.accounts.Client(ctx)
	if err != nil {
		return "", err
	}
	return client.HTTP01ChallengeResponse(token)
}

func (d *CADriver) DNS01TXTValue(ctx context.Context, token string) (string, error) {
	client, err := d.accounts.Client(ctx)
	if err != nil {
		return "", err
	}
	return client.DNS01ChallengeRecord(token)
}

func (d *CADriver) Finalize(ctx context.Context, finalizeURL string, csrDER []byte) ([]byte, error) {
	client, err := d.accounts.Client(ctx)
	if err != nil {
		return nil, err
	}

	der, _, err := client.CreateOrderCert(ctx, finalizeURL, csrDER, true)
	if err != nil {
		return nil, fmt.Errorf("finalize order: %w", err)
	}
	if len(der) == 0 {
		return nil, errors.New("CA returned an empty certificate chain")
	}
	return encodeChainPEM(der), nil
}

func mapOrder(order *acme.Order) *Order {
	return &Order{
		URL:         order.URI,
		FinalizeURL: order.FinalizeURL,
		AuthzURLs:   append([]string(nil), order.AuthzURLs...),
	}
}
