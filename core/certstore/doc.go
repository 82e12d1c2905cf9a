// Package certstore defines the persistence model for the certificate
// lifecycle: the singleton ACME account, tenant domains, and the
// per-issuance DomainCertificate records with their state machine.
//
// Repositories are split per aggregate so components can depend on the
// narrow slice they need; Storage combines them for implementations. The
// in-memory storage backs tests and single-instance deployments, the
// PostgreSQL implementation lives in integration/database/pg.
//
// State transitions are enforced at the storage layer: a certificate
// leaves a pending status exactly once, into ISSUED or FAILED, and
// terminal records never revert. EXPIRED is a read-time classification
// derived from ExpiresAt, never a stored transition.
package certstore
