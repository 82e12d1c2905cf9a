package notifier_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unquietwiki/changerawr-sub002/core/notifier"
)

func TestSenderDeliversEvent(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender, err := notifier.NewSender(notifier.Config{WebhookURL: server.URL})
	require.NoError(t, err)

	err = sender.Send(context.Background(), notifier.Event{
		Event:  notifier.EventCertIssued,
		Domain: "status.example.com",
		CertID: "cert-123",
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"event":"cert.issued","domain":"status.example.com","certId":"cert-123"}`, string(gotBody))
}

func TestSenderSignsWhenSecretSet(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var gotSig, gotTS string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotTS = r.Header.Get("X-Webhook-Timestamp")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender, err := notifier.NewSender(notifier.Config{
		WebhookURL: server.URL,
		Secret:     "agent-secret",
	}, notifier.WithSenderClock(func() time.Time { return now }))
	require.NoError(t, err)

	require.NoError(t, sender.Send(context.Background(), notifier.Event{
		Event: notifier.EventCertIssued, Domain: "a.example.com", CertID: "c1",
	}))

	require.NotEmpty(t, gotSig)
	assert.Equal(t, "1772366400", gotTS)

	// The receiver side verifies against the same secret.
	assert.NoError(t, notifier.VerifySignature("agent-secret", gotTS, gotSig, gotBody, 5*time.Minute, now))
	assert.Error(t, notifier.VerifySignature("wrong-secret", gotTS, gotSig, gotBody, 5*time.Minute, now))
	assert.Error(t, notifier.VerifySignature("agent-secret", gotTS, gotSig, gotBody, 5*time.Minute, now.Add(time.Hour)),
		"stale timestamp is rejected")
}

func TestSenderOmitsSignatureWithoutSecret(t *testing.T) {
	t.Parallel()

	var gotSig string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender, err := notifier.NewSender(notifier.Config{WebhookURL: server.URL})
	require.NoError(t, err)
	require.NoError(t, sender.Send(context.Background(), notifier.Event{Event: notifier.EventCertIssued}))
	assert.Empty(t, gotSig)
}

func TestSenderRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender, err := notifier.NewSender(notifier.Config{
		WebhookURL:   server.URL,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, sender.Send(context.Background(), notifier.Event{Event: notifier.EventCertIssued}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSenderDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	sender, err := notifier.NewSender(notifier.Config{
		WebhookURL:   server.URL,
		MaxRetries:   5,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)

	err = sender.Send(context.Background(), notifier.Event{Event: notifier.EventCertIssued})
	assert.ErrorIs(t, err, notifier.ErrPermanentFailure)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSenderExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sender, err := notifier.NewSender(notifier.Config{
		WebhookURL:   server.URL,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)

	err = sender.Send(context.Background(), notifier.Event{Event: notifier.EventCertIssued})
	assert.ErrorIs(t, err, notifier.ErrDeliveryFailed)
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

func TestNewSenderRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := notifier.NewSender(notifier.Config{})
	assert.ErrorIs(t, err, notifier.ErrNoEndpoint)
}

func TestDispatcherDeliversDetached(t *testing.T) {
	t.Parallel()

	events := make(chan notifier.Event, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev notifier.Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		events <- ev
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher := notifier.NewDispatcher(notifier.Config{WebhookURL: server.URL})

	// A canceled caller context must not stop delivery: issuance is
	// already committed when the dispatch happens.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dispatcher.CertIssued(ctx, "shop.example.com", "cert-9")
	dispatcher.Wait()

	select {
	case ev := <-events:
		assert.Equal(t, notifier.EventCertIssued, ev.Event)
		assert.Equal(t, "shop.example.com", ev.Domain)
		assert.Equal(t, "cert-9", ev.CertID)
	default:
		t.Fatal("event was not delivered")
	}
}

func TestDispatcherUnconfiguredIsNoOp(t *testing.T) {
	t.Parallel()

	dispatcher := notifier.NewDispatcher(notifier.Config{})
	dispatcher.CertIssued(context.Background(), "a.example.com", "c1")
	dispatcher.Wait()
}
