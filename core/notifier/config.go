package notifier

import "time"

// Config holds webhook delivery settings, loadable from the environment.
type Config struct {
	// WebhookURL is the agent endpoint. Empty disables notification.
	WebhookURL string `env:"AGENT_WEBHOOK_URL"`

	// Secret enables HMAC-SHA256 signing of the payload when set.
	Secret string `env:"AGENT_WEBHOOK_SECRET"`

	// Timeout bounds each delivery attempt.
	Timeout time.Duration `env:"AGENT_WEBHOOK_TIMEOUT" envDefault:"10s"`

	// MaxRetries is how many times a temporary failure is retried.
	MaxRetries int `env:"AGENT_WEBHOOK_MAX_RETRIES" envDefault:"3"`

	// RetryBackoff is the initial backoff between attempts; it doubles
	// per retry.
	RetryBackoff time.Duration `env:"AGENT_WEBHOOK_RETRY_BACKOFF" envDefault:"500ms"`
}
