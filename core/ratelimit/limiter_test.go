package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unquietwiki/changerawr-sub002/core/ratelimit"
)

func TestRegisteredDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hostname string
		want     string
	}{
		{"status.example.com", "example.com"},
		{"example.com", "example.com"},
		{"a.b.c.example.com", "example.com"},
		{"app.example.co.uk", "example.co.uk"},
		{"Example.COM.", "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ratelimit.RegisteredDomain(tt.hostname))
		})
	}
}

func TestCheckAndRecordCeiling(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Config{Limit: 45, Window: 7 * 24 * time.Hour})
	require.NoError(t, err)

	for i := 0; i < 45; i++ {
		require.NoError(t, limiter.CheckAndRecord(ctx, "status.example.com"))
	}

	// The 46th attempt for the same registered domain is rejected, even on
	// a different subdomain.
	err = limiter.CheckAndRecord(ctx, "www.example.com")
	assert.ErrorIs(t, err, ratelimit.ErrLimitExceeded)

	// A different registered domain has an independent window.
	assert.NoError(t, limiter.CheckAndRecord(ctx, "status.other.org"))
}

func TestSlidingWindowAging(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	current := now
	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(),
		ratelimit.Config{Limit: 3, Window: 7 * 24 * time.Hour},
		ratelimit.WithClock(func() time.Time { return current }))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.CheckAndRecord(ctx, "app.example.com"))
	}
	assert.ErrorIs(t, limiter.CheckAndRecord(ctx, "app.example.com"), ratelimit.ErrLimitExceeded)

	// Six days later the window is still full.
	current = now.Add(6 * 24 * time.Hour)
	assert.ErrorIs(t, limiter.CheckAndRecord(ctx, "app.example.com"), ratelimit.ErrLimitExceeded)

	// Past seven days the original timestamps age out.
	current = now.Add(7*24*time.Hour + time.Minute)
	assert.NoError(t, limiter.CheckAndRecord(ctx, "app.example.com"))
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := ratelimit.New(nil, ratelimit.Config{})
	assert.ErrorIs(t, err, ratelimit.ErrStoreNil)
}
