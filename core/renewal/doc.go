// Package renewal selects expiring certificates and re-initiates issuance
// for them, and produces the read-only certificate health report.
//
// RunAutoRenewal picks ISSUED certificates expiring within the configured
// threshold, soonest first, up to the batch size, skipping domains that
// already have a pending record. HTTP-01 certificates are renewed by
// re-requesting issuance for the same domain; the old certificate keeps
// serving until the replacement issues. DNS-01 certificates cannot be
// renewed automatically and are flagged for manual action instead.
//
// Overlapping runs are serialized by the storage-level renewal lock: a
// second concurrent run returns a zero Result without touching anything.
//
// Usage:
//
//	scheduler, err := renewal.New(storage, service,
//		renewal.WithConfig(cfg),
//		renewal.WithLogger(logger),
//	)
//	if err != nil {
//		return err
//	}
//
//	result, err := scheduler.RunAutoRenewal(ctx)
package renewal
