package renewal

import "time"

// Config holds scheduler settings, loadable from the environment.
type Config struct {
	// Threshold is how far ahead of expiry a certificate becomes
	// eligible for renewal.
	Threshold time.Duration `env:"RENEWAL_THRESHOLD" envDefault:"720h"`

	// BatchSize caps how many certificates one run renews.
	BatchSize int `env:"RENEWAL_BATCH_SIZE" envDefault:"10"`
}
