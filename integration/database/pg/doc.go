// Package pg provides the PostgreSQL persistence backend for the
// certificate engine: connection pooling with retry, goose migrations,
// health checking, and the Storage implementation of the certificate and
// completion-job repositories.
//
// Connect establishes a pgxpool with exponential backoff so simultaneous
// service restarts don't hammer a recovering database. Migrate applies
// the embedded schema through goose, bridging the pool into database/sql
// for the migration run only. Healthcheck returns a probe function for
// the readiness endpoint.
//
// The Storage type implements certstore.Storage and certjobs.Storage on
// one pool. Terminal-once certificate transitions are enforced in the
// UPDATE's WHERE clause, job claiming uses FOR UPDATE SKIP LOCKED, and
// the renewal batch lock is a session advisory lock held on a dedicated
// pooled connection.
//
// Usage:
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, logger); err != nil {
//		return err
//	}
//
//	storage := pg.NewStorage(pool)
//
// Repositories participate in an ambient transaction when one is carried
// on the context via WithTx; otherwise they use the pool directly.
package pg
