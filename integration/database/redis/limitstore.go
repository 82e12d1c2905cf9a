package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/unquietwiki/changerawr-sub002/core/ratelimit"
)

// takeScript trims expired entries, checks the limit, and records the new
// attempt atomically. Entries are scored by unix milliseconds; members
// are unique so simultaneous attempts in the same millisecond all count.
//
// KEYS[1] window key
// ARGV[1] cutoff score (ms), ARGV[2] now score (ms), ARGV[3] limit,
// ARGV[4] member, ARGV[5] TTL seconds
//
// Returns {allowed, count}.
var takeScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[3]) then
	return {0, count}
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
redis.call('EXPIRE', KEYS[1], ARGV[5])
return {1, count + 1}
`)

// LimitStore implements ratelimit.Store on Redis sorted sets so every
// engine instance draws from the same per-domain issuance budget.
type LimitStore struct {
	client    *redis.Client
	keyPrefix string
}

var _ ratelimit.Store = (*LimitStore)(nil)

// NewLimitStore creates a LimitStore over an established client.
func NewLimitStore(client *redis.Client) *LimitStore {
	return &LimitStore{client: client, keyPrefix: "certlimit:"}
}

// Take mirrors the memory store's semantics: prune, reject at the limit,
// record otherwise, all in one atomic script evaluation.
func (s *LimitStore) Take(ctx context.Context, key string, window time.Duration, limit int, now time.Time) (bool, int, error) {
	cutoff := now.Add(-window).UnixMilli()
	// Key lives slightly past the window so an idle domain's state
	// expires on its own.
	ttl := int64(window/time.Second) + 60

	res, err := takeScript.Run(ctx, s.client,
		[]string{s.keyPrefix + key},
		cutoff, now.UnixMilli(), limit, uuid.NewString(), ttl).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis rate limit take: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("redis rate limit take: unexpected script result %v", res)
	}
	return res[0] == 1, int(res[1]), nil
}
