// Package redis provides the Redis client for the certificate engine's
// shared rate-limit store, with connection validation and health
// checking.
//
// Connect validates the URL, establishes the client with exponential
// backoff retries, and verifies connectivity with a ping before
// returning. Healthcheck returns a probe for the readiness endpoint.
//
// LimitStore implements the sliding-window rate-limit store on a sorted
// set per registered domain, so multiple engine instances share one
// issuance budget. The window trim, count, and record steps run as a
// single Lua script to stay atomic under concurrent issuance requests.
//
// Usage:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	limiter, err := ratelimit.New(redis.NewLimitStore(client), limitCfg)
package redis
