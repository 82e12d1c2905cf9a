package certjobs

import (
	"time"
)

// Kind is the closed set of completion-job kinds. Adding a kind requires
// extending the Processor interface and the worker's dispatch switch, so
// coverage is checked at compile time.
type Kind string

const (
	KindFinalizeHTTP01 Kind = "finalize_http01"
	KindFinalizeDNS01  Kind = "finalize_dns01"
)

// Valid reports whether the kind is one of the known values.
func (k Kind) Valid() bool {
	return k == KindFinalizeHTTP01 || k == KindFinalizeDNS01
}

// JobStatus tracks a job through its lifecycle.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusDead       JobStatus = "dead"
)

// Job is one durable completion unit for one pending certificate.
type Job struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"kind"`
	CertificateID string     `json:"certificate_id"`
	Status        JobStatus  `json:"status"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
	LockedBy      *string    `json:"locked_by,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Stats provides observability counters for the worker.
type Stats struct {
	JobsProcessed int64 // successfully completed jobs
	JobsFailed    int64 // failed attempts, including jobs gone dead
	ActiveJobs    int32 // jobs currently being processed
	IsRunning     bool
}
