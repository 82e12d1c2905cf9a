// Package notifier delivers certificate lifecycle events to the proxy
// agent over HTTP webhooks.
//
// The Sender handles one delivery: JSON payload, per-attempt timeout,
// exponential backoff retries, and optional HMAC-SHA256 signing via the
// X-Webhook-Signature and X-Webhook-Timestamp headers. 4xx responses are
// permanent and stop retrying; 5xx and transport errors retry until the
// attempt budget runs out.
//
// The Dispatcher wraps the Sender for the issuance call site: delivery
// runs on a detached goroutine with its own timeout and panic recovery,
// so a slow or failing agent can never block or unwind an issuance.
// An unconfigured endpoint makes every dispatch a silent no-op.
//
// Usage:
//
//	dispatcher := notifier.NewDispatcher(notifier.Config{
//		WebhookURL: "https://agent.internal/hooks/certs",
//		Secret:     secret,
//	}, notifier.WithLogger(logger))
//
//	service, err := issuance.New(storage, vault, guard, driver, jobs,
//		issuance.WithNotifier(dispatcher),
//	)
package notifier
