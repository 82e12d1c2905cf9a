package certjobs

import "time"

// Config holds worker settings, loadable from the environment.
type Config struct {
	PollInterval    time.Duration `env:"JOBS_POLL_INTERVAL" envDefault:"1s"`
	LockTimeout     time.Duration `env:"JOBS_LOCK_TIMEOUT" envDefault:"5m"`
	ShutdownTimeout time.Duration `env:"JOBS_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxConcurrent   int           `env:"JOBS_MAX_CONCURRENT" envDefault:"4"`
	MaxRetries      int           `env:"JOBS_MAX_RETRIES" envDefault:"3"`
	RetryBackoff    time.Duration `env:"JOBS_RETRY_BACKOFF" envDefault:"30s"`
}
