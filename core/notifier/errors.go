package notifier

import "errors"

var (
	// ErrPermanentFailure means the agent rejected the event with a 4xx
	// status. Retrying will not help.
	ErrPermanentFailure = errors.New("webhook rejected by endpoint")

	// ErrTemporaryFailure means a network error or 5xx response. The
	// sender retries these until the attempt budget runs out.
	ErrTemporaryFailure = errors.New("webhook delivery failed temporarily")

	// ErrDeliveryFailed means all retry attempts were exhausted.
	ErrDeliveryFailed = errors.New("webhook delivery failed after retries")

	// ErrNoEndpoint means no webhook URL is configured.
	ErrNoEndpoint = errors.New("webhook endpoint not configured")
)
