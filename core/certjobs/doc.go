// Package certjobs makes certificate completion durable. Instead of a
// detached goroutine that a process crash would orphan, every pending
// certificate gets a completion job row that a worker claims with a
// lease, so a restart resumes validation where it stopped.
//
// Job kinds are a closed union (finalize_http01, finalize_dns01) and the
// worker dispatches with an exhaustive switch over a fixed Processor
// interface — there is no string-keyed handler registry to miss a case at
// runtime.
//
// Failures are retried with exponential backoff up to MaxRetries; when a
// job exhausts its retries the worker asks the processor to abandon the
// certificate (marking it FAILED) before the job goes dead. Expired
// leases are re-claimable by any worker instance.
package certjobs
