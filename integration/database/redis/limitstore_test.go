package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unquietwiki/changerawr-sub002/core/ratelimit"
	redisint "github.com/unquietwiki/changerawr-sub002/integration/database/redis"
)

// Integration tests need a disposable Redis:
//
//	TEST_REDIS_URL=redis://localhost:6379/15 go test ./integration/database/redis/...
func testLimitStore(t *testing.T) *redisint.LimitStore {
	t.Helper()

	connURL := os.Getenv("TEST_REDIS_URL")
	if connURL == "" {
		t.Skip("TEST_REDIS_URL is not set")
	}

	client, err := redisint.Connect(context.Background(), redisint.Config{ConnectionURL: connURL})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return redisint.NewLimitStore(client)
}

func TestTakeEnforcesLimit(t *testing.T) {
	t.Parallel()

	store := testLimitStore(t)
	ctx := context.Background()
	key := "take-" + uuid.NewString()
	now := time.Now()

	for i := 1; i <= 3; i++ {
		ok, count, err := store.Take(ctx, key, time.Hour, 3, now)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, count)
	}

	ok, count, err := store.Take(ctx, key, time.Hour, 3, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, count)
}

func TestTakeWindowSlides(t *testing.T) {
	t.Parallel()

	store := testLimitStore(t)
	ctx := context.Background()
	key := "slide-" + uuid.NewString()
	now := time.Now()

	ok, _, err := store.Take(ctx, key, time.Hour, 1, now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = store.Take(ctx, key, time.Hour, 1, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "inside the window the limit holds")

	ok, count, err := store.Take(ctx, key, time.Hour, 1, now.Add(61*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "the old attempt aged out")
	assert.Equal(t, 1, count)
}

// The Redis and memory stores must agree on window semantics, since a
// deployment may run either.
func TestParityWithMemoryStore(t *testing.T) {
	t.Parallel()

	redisStore := testLimitStore(t)
	memStore := ratelimit.NewMemoryStore()
	ctx := context.Background()
	key := "parity-" + uuid.NewString()
	base := time.Now()

	steps := []time.Duration{0, time.Minute, 2 * time.Minute, 45 * time.Minute, 70 * time.Minute}
	for i, offset := range steps {
		now := base.Add(offset)
		rOK, rCount, err := redisStore.Take(ctx, key, time.Hour, 3, now)
		require.NoError(t, err)
		mOK, mCount, err := memStore.Take(ctx, key, time.Hour, 3, now)
		require.NoError(t, err)

		assert.Equal(t, mOK, rOK, "step %d decision", i)
		assert.Equal(t, mCount, rCount, "step %d count", i)
	}
}
