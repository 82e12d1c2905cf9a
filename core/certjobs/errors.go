package certjobs

import "errors"

var (
	// ErrStorageNil is returned when a component is constructed without
	// storage.
	ErrStorageNil = errors.New("storage cannot be nil")

	// ErrProcessorNil is returned when a worker is constructed without a
	// processor.
	ErrProcessorNil = errors.New("processor cannot be nil")

	// ErrInvalidKind is returned when enqueueing a job with a kind outside
	// the closed set.
	ErrInvalidKind = errors.New("invalid job kind")

	// ErrNoJobToClaim is returned by Claim when no eligible job exists.
	ErrNoJobToClaim = errors.New("no job available to claim")

	// ErrJobNotFound is returned when a job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrWorkerNotHealthy is returned by the worker healthcheck when the
	// worker is not running.
	ErrWorkerNotHealthy = errors.New("worker is not running")
)
