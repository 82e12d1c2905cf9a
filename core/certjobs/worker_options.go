package certjobs

import (
	"log/slog"
	"time"
)

type workerOptions struct {
	pollInterval    time.Duration
	lockTimeout     time.Duration
	shutdownTimeout time.Duration
	maxConcurrent   int
	retryBackoff    time.Duration
	logger          *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*workerOptions)

// WithPollInterval sets how often the worker looks for claimable jobs.
func WithPollInterval(interval time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if interval > 0 {
			o.pollInterval = interval
		}
	}
}

// WithLockTimeout sets the claim lease duration. A job whose lease expires
// becomes claimable again, so this bounds how long a crashed worker can
// hold a job.
func WithLockTimeout(timeout time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if timeout > 0 {
			o.lockTimeout = timeout
		}
	}
}

// WithShutdownTimeout sets how long Stop waits for active jobs.
func WithShutdownTimeout(timeout time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if timeout > 0 {
			o.shutdownTimeout = timeout
		}
	}
}

// WithMaxConcurrent caps the number of jobs processed at once.
func WithMaxConcurrent(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithRetryBackoff sets the base backoff between retries. The delay grows
// exponentially with the retry count.
func WithRetryBackoff(backoff time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if backoff > 0 {
			o.retryBackoff = backoff
		}
	}
}

// WithLogger sets the worker logger.
func WithLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
