package httpserver_test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unquietwiki/changerawr-sub002/core/httpserver"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestNewFromConfigRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := httpserver.NewFromConfig(httpserver.Config{})
	assert.ErrorIs(t, err, httpserver.ErrMissingAddress)
}

func TestStopWithoutStartIsNoOp(t *testing.T) {
	t.Parallel()

	srv := httpserver.New(":0")
	assert.NoError(t, srv.Stop())
}

func TestServeAndGracefulStop(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	srv, err := httpserver.NewFromConfig(httpserver.Config{
		Addr:            addr,
		ShutdownTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Start(ctx, handler)
	}()

	url := fmt.Sprintf("http://%s/", addr)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, srv.Stop())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	t.Parallel()

	srv := httpserver.New(freeAddr(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx, http.NotFoundHandler())()
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "context cancellation is a clean exit")
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
}
