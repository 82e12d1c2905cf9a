package acmeaccount

import (
	"time"

	"github.com/go-acme/lego/v4/lego"
)

// Config holds ACME directory and contact settings.
type Config struct {
	// DirectoryURL of the CA. Defaults to Let's Encrypt production; point
	// it at lego.LEDirectoryStaging for staging.
	DirectoryURL string `env:"ACME_DIRECTORY_URL"`

	// Email is the account contact address, required by the CA.
	Email string `env:"ACME_EMAIL"`

	// HTTPTimeout bounds individual requests to the CA.
	HTTPTimeout time.Duration `env:"ACME_HTTP_TIMEOUT" envDefault:"30s"`
}

// applyDefaults fills the production directory when none is configured and
// validates the contact email.
func (c *Config) applyDefaults() error {
	if c.DirectoryURL == "" {
		c.DirectoryURL = lego.LEDirectoryProduction
	}
	if c.DirectoryURL == "" {
		return ErrMissingDirectoryURL
	}
	if c.Email == "" {
		return ErrMissingEmail
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	return nil
}
