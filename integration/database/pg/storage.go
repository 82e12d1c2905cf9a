package pg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unquietwiki/changerawr-sub002/core/certstore"
)

// renewalLockKey identifies the advisory lock guarding renewal batches.
// Arbitrary but stable across deployments of this schema.
const renewalLockKey = 0x43455254 // "CERT"

// Storage implements certstore.Storage on a pgxpool; JobStorage covers
// the completion-job side on the same pool. Queries participate in an
// ambient transaction when the context carries one via WithTx.
type Storage struct {
	pool *pgxpool.Pool

	// Advisory locks are session-scoped, so the renewal lock pins one
	// pooled connection for its whole hold time.
	renewalMu   sync.Mutex
	renewalConn *pgxpool.Conn
}

var _ certstore.Storage = (*Storage)(nil)

// NewStorage creates a Storage over an established pool.
func NewStorage(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

// querier is the common surface of *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Storage) db(ctx context.Context) querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return s.pool
}

// RunInTx executes fn inside one transaction, bound to the context so
// every repository call within fn shares it. JobStorage on the same pool
// participates too, which lets a pending certificate and its completion
// job commit or roll back as a unit.
func (s *Storage) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- ACME account ---

func (s *Storage) CreateAccount(ctx context.Context, account *certstore.AcmeAccount) error {
	tag, err := s.db(ctx).Exec(ctx, `
		INSERT INTO acme_accounts (id, key_pem, url, email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		account.ID, account.KeyPEM, account.URL, account.Email)
	if err != nil {
		return fmt.Errorf("create acme account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return certstore.ErrAccountExists
	}
	return nil
}

func (s *Storage) GetAccount(ctx context.Context) (*certstore.AcmeAccount, error) {
	var a certstore.AcmeAccount
	err := s.db(ctx).QueryRow(ctx, `
		SELECT id, key_pem, url, email, created_at
		FROM acme_accounts
		LIMIT 1`).Scan(&a.ID, &a.KeyPEM, &a.URL, &a.Email, &a.CreatedAt)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, certstore.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get acme account: %w", err)
	}
	return &a, nil
}

// --- Domains ---

func (s *Storage) CreateDomain(ctx context.Context, domain *certstore.Domain) error {
	sslMode := domain.SSLMode
	if sslMode == "" {
		sslMode = certstore.SSLModeNone
	}
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO domains (id, hostname, ssl_mode)
		VALUES ($1, $2, $3)`,
		domain.ID, domain.Hostname, sslMode)
	if err != nil {
		return fmt.Errorf("create domain: %w", err)
	}
	return nil
}

func (s *Storage) GetDomain(ctx context.Context, id string) (*certstore.Domain, error) {
	var d certstore.Domain
	err := s.db(ctx).QueryRow(ctx, `
		SELECT id, hostname, ssl_mode, created_at, updated_at
		FROM domains
		WHERE id = $1`, id).Scan(&d.ID, &d.Hostname, &d.SSLMode, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, certstore.ErrDomainNotFound
		}
		return nil, fmt.Errorf("get domain: %w", err)
	}
	return &d, nil
}

func (s *Storage) SetDomainSSLMode(ctx context.Context, id, mode string) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE domains
		SET ssl_mode = $2, updated_at = now()
		WHERE id = $1`, id, mode)
	if err != nil {
		return fmt.Errorf("set domain ssl mode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return certstore.ErrDomainNotFound
	}
	return nil
}

// --- Certificates ---

const certColumns = `id, domain_id, hostname, status, challenge_type,
	challenge_token, challenge_key_auth, dns_txt_value, order_url,
	private_key_pem, csr_pem, certificate_pem, full_chain_pem,
	issued_at, expires_at, last_error, renewal_attempts, created_at, updated_at`

func scanCertificate(row pgx.Row) (*certstore.DomainCertificate, error) {
	var c certstore.DomainCertificate
	err := row.Scan(
		&c.ID, &c.DomainID, &c.Hostname, &c.Status, &c.ChallengeType,
		&c.ChallengeToken, &c.ChallengeKeyAuth, &c.DNSTxtValue, &c.OrderURL,
		&c.PrivateKeyPEM, &c.CSRPEM, &c.CertificatePEM, &c.FullChainPEM,
		&c.IssuedAt, &c.ExpiresAt, &c.LastError, &c.RenewalAttempts,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Storage) CreateCertificate(ctx context.Context, cert *certstore.DomainCertificate) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO domain_certificates (
			id, domain_id, hostname, status, challenge_type,
			challenge_token, challenge_key_auth, dns_txt_value, order_url,
			private_key_pem, csr_pem, certificate_pem, full_chain_pem,
			issued_at, expires_at, last_error, renewal_attempts
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		cert.ID, cert.DomainID, cert.Hostname, cert.Status, cert.ChallengeType,
		cert.ChallengeToken, cert.ChallengeKeyAuth, cert.DNSTxtValue, cert.OrderURL,
		cert.PrivateKeyPEM, cert.CSRPEM, cert.CertificatePEM, cert.FullChainPEM,
		cert.IssuedAt, cert.ExpiresAt, cert.LastError, cert.RenewalAttempts)
	if err != nil {
		if IsDuplicateKeyError(err) {
			return certstore.ErrCertificateExists
		}
		if IsForeignKeyViolationError(err) {
			return certstore.ErrDomainNotFound
		}
		return fmt.Errorf("create certificate: %w", err)
	}
	return nil
}

func (s *Storage) GetCertificate(ctx context.Context, id string) (*certstore.DomainCertificate, error) {
	c, err := scanCertificate(s.db(ctx).QueryRow(ctx,
		`SELECT `+certColumns+` FROM domain_certificates WHERE id = $1`, id))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, certstore.ErrCertificateNotFound
		}
		return nil, fmt.Errorf("get certificate: %w", err)
	}
	return c, nil
}

func (s *Storage) DeleteCertificate(ctx context.Context, id string) error {
	tag, err := s.db(ctx).Exec(ctx,
		`DELETE FROM domain_certificates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete certificate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return certstore.ErrCertificateNotFound
	}
	return nil
}

// markTerminal applies a terminal transition with the pending-only guard
// inside the UPDATE, so concurrent finalizers race safely: exactly one
// wins, the rest observe ErrNotPending.
func (s *Storage) markTerminal(ctx context.Context, id string, set string, args ...any) error {
	query := fmt.Sprintf(`
		UPDATE domain_certificates
		SET %s,
			challenge_token = '', challenge_key_auth = '',
			dns_txt_value = '', order_url = '',
			updated_at = now()
		WHERE id = $1 AND status IN ($2, $3)`, set)

	allArgs := append([]any{id, certstore.StatusPendingHTTP01, certstore.StatusPendingDNS01}, args...)
	tag, err := s.db(ctx).Exec(ctx, query, allArgs...)
	if err != nil {
		return fmt.Errorf("mark certificate terminal: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Zero rows: missing record or lost transition race.
	var exists bool
	if err := s.db(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM domain_certificates WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check certificate existence: %w", err)
	}
	if !exists {
		return certstore.ErrCertificateNotFound
	}
	return certstore.ErrNotPending
}

func (s *Storage) MarkIssued(ctx context.Context, id string, material certstore.IssuedMaterial) error {
	return s.markTerminal(ctx, id, `
		status = $4, certificate_pem = $5, full_chain_pem = $6,
		issued_at = $7, expires_at = $8, last_error = ''`,
		certstore.StatusIssued, material.CertificatePEM, material.FullChainPEM,
		material.IssuedAt, material.ExpiresAt)
}

func (s *Storage) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return s.markTerminal(ctx, id, `
		status = $4, last_error = $5, renewal_attempts = renewal_attempts + 1`,
		certstore.StatusFailed, errMsg)
}

func (s *Storage) RecordRenewalFailure(ctx context.Context, id string, errMsg string) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE domain_certificates
		SET last_error = $2, renewal_attempts = renewal_attempts + 1, updated_at = now()
		WHERE id = $1`, id, errMsg)
	if err != nil {
		return fmt.Errorf("record renewal failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return certstore.ErrCertificateNotFound
	}
	return nil
}

func (s *Storage) ListExpiring(ctx context.Context, before time.Time, limit int) ([]*certstore.DomainCertificate, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+certColumns+`
		FROM domain_certificates c
		WHERE c.status = $1
		  AND c.expires_at <= $2
		  AND NOT EXISTS (
			SELECT 1 FROM domain_certificates p
			WHERE p.domain_id = c.domain_id AND p.status IN ($3, $4)
		  )
		ORDER BY c.expires_at ASC
		LIMIT $5`,
		certstore.StatusIssued, before,
		certstore.StatusPendingHTTP01, certstore.StatusPendingDNS01, limit)
	if err != nil {
		return nil, fmt.Errorf("list expiring certificates: %w", err)
	}
	defer rows.Close()

	var out []*certstore.DomainCertificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expiring certificate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expiring certificates: %w", err)
	}
	return out, nil
}

func (s *Storage) HasPendingForDomain(ctx context.Context, domainID string) (bool, error) {
	var pending bool
	err := s.db(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM domain_certificates
			WHERE domain_id = $1 AND status IN ($2, $3)
		)`, domainID, certstore.StatusPendingHTTP01, certstore.StatusPendingDNS01).Scan(&pending)
	if err != nil {
		return false, fmt.Errorf("check pending for domain: %w", err)
	}
	return pending, nil
}

func (s *Storage) FindPendingHTTP01ByToken(ctx context.Context, token string) (*certstore.DomainCertificate, error) {
	c, err := scanCertificate(s.db(ctx).QueryRow(ctx, `
		SELECT `+certColumns+`
		FROM domain_certificates
		WHERE status = $1 AND challenge_token = $2
		LIMIT 1`, certstore.StatusPendingHTTP01, token))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, certstore.ErrCertificateNotFound
		}
		return nil, fmt.Errorf("find pending certificate by token: %w", err)
	}
	return c, nil
}

func (s *Storage) CountByStatus(ctx context.Context) (map[certstore.Status]int, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT status, count(*)
		FROM domain_certificates
		GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count certificates by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[certstore.Status]int)
	for rows.Next() {
		var status certstore.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count certificates by status: %w", err)
	}
	return counts, nil
}

func (s *Storage) CountIssuedExpiringBefore(ctx context.Context, t time.Time) (int, error) {
	var n int
	err := s.db(ctx).QueryRow(ctx, `
		SELECT count(*)
		FROM domain_certificates
		WHERE status = $1 AND expires_at <= $2`,
		certstore.StatusIssued, t).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count expiring certificates: %w", err)
	}
	return n, nil
}

// --- Renewal lock ---

func (s *Storage) TryLockRenewal(ctx context.Context) (bool, error) {
	s.renewalMu.Lock()
	defer s.renewalMu.Unlock()

	if s.renewalConn != nil {
		return false, nil
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection for renewal lock: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, renewalLockKey).Scan(&locked); err != nil {
		conn.Release()
		return false, fmt.Errorf("take renewal lock: %w", err)
	}
	if !locked {
		conn.Release()
		return false, nil
	}

	s.renewalConn = conn
	return true, nil
}

func (s *Storage) UnlockRenewal(ctx context.Context) error {
	s.renewalMu.Lock()
	defer s.renewalMu.Unlock()

	if s.renewalConn == nil {
		return nil
	}

	_, err := s.renewalConn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, renewalLockKey)
	s.renewalConn.Release()
	s.renewalConn = nil
	if err != nil {
		return fmt.Errorf("release renewal lock: %w", err)
	}
	return nil
}

