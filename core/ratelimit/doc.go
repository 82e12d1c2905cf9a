// Package ratelimit bounds certificate issuances per registered domain
// with a sliding 7-day window, keeping the engine under the CA's weekly
// quota.
//
// Keys are the eTLD+1 of the hostname derived from the public-suffix
// list, so app.example.com and www.example.com share one bucket while
// example.co.uk and example.com do not. The default ceiling of 45 sits
// deliberately below the CA's hard limit of 50 per week.
//
// The Store interface carries the window state. The in-memory store is
// correct for a single instance; multi-instance deployments use the Redis
// store in integration/database/redis so counters are shared.
package ratelimit
