package certjobs

import (
	"context"
	"time"
)

// Storage persists completion jobs with lease-based claiming. The
// in-memory implementation serves tests and single-instance runs; the
// PostgreSQL implementation in integration/database/pg provides the
// durability the completion path requires.
type Storage interface {
	// Enqueue stores a new pending job.
	Enqueue(ctx context.Context, job *Job) error

	// Claim atomically claims the next eligible job: status pending with
	// ScheduledAt due, or a processing job whose lease has expired
	// (crashed worker). The claim sets status processing and a lease of
	// lockDuration for workerID. Returns ErrNoJobToClaim when nothing is
	// eligible.
	Claim(ctx context.Context, workerID string, lockDuration time.Duration) (*Job, error)

	// Complete marks a job completed.
	Complete(ctx context.Context, jobID string) error

	// Retry returns a failed job to pending with an incremented retry
	// count, the error message, and the next eligible time.
	Retry(ctx context.Context, jobID string, errMsg string, nextAt time.Time) error

	// MarkDead marks a job dead after its retries are exhausted.
	MarkDead(ctx context.Context, jobID string, errMsg string) error

	// CountByStatus returns the number of jobs per status.
	CountByStatus(ctx context.Context) (map[JobStatus]int, error)
}
