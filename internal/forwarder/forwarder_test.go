package forwarder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treyvum/smsgate/internal/domain"
	"github.com/treyvum/smsgate/pkg/codes"
)

func fastForwarder() *Forwarder {
	f := New(nil)
	f.backoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	return f
}

func deliveredMessage(callbackURL string) *domain.Message {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Message{
		ID:          "msg-1",
		TenantID:    "acme",
		Status:      codes.MsgStatusDelivered,
		CallbackURL: callbackURL,
		DeliveredAt: &at,
	}
}

func TestNotifyStatusPostsWebhook(t *testing.T) {
	received := make(chan statusWebhook, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var hook statusWebhook
		require.NoError(t, json.NewDecoder(r.Body).Decode(&hook))
		received <- hook
	}))
	defer srv.Close()

	f := fastForwarder()
	f.NotifyStatus(context.Background(), deliveredMessage(srv.URL))

	select {
	case hook := <-received:
		assert.Equal(t, "msg-1", hook.MessageID)
		assert.Equal(t, "acme", hook.TenantID)
		assert.Equal(t, codes.MsgStatusDelivered, hook.Status)
		assert.Equal(t, "2025-06-01T12:00:00Z", hook.DeliveredAt)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was never delivered")
	}
}

func TestNotifyStatusRetriesUntilAccepted(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
		done <- struct{}{}
	}))
	defer srv.Close()

	f := fastForwarder()
	f.NotifyStatus(context.Background(), deliveredMessage(srv.URL))

	select {
	case <-done:
		assert.Equal(t, int32(3), calls.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder never succeeded")
	}
}

func TestForwardRetrySchedule(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := New(nil)
	f.backoff = []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}

	start := time.Now()
	f.forwardWithRetry(context.Background(), srv.URL, statusWebhook{MessageID: "msg-1"})
	elapsed := time.Since(start)

	// Initial attempt plus one retry per backoff step, each delay used once.
	assert.Equal(t, int32(3), calls.Load())
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestForwardRetryFirstDelayIsShortest(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
		done <- struct{}{}
	}))
	defer srv.Close()

	f := New(nil)
	f.backoff = []time.Duration{20 * time.Millisecond, time.Minute}

	start := time.Now()
	f.forwardWithRetry(context.Background(), srv.URL, statusWebhook{MessageID: "msg-1"})

	select {
	case <-done:
		// If the first retry had slept the second step instead of the
		// first, this would take a minute.
		assert.Less(t, time.Since(start), 10*time.Second)
		assert.Equal(t, int32(2), calls.Load())
	default:
		t.Fatal("second attempt never succeeded")
	}
}

func TestNotifyStatusSkipsMessagesWithoutCallback(t *testing.T) {
	f := fastForwarder()
	msg := deliveredMessage("")
	// Must return without panicking even with no redis client configured.
	f.NotifyStatus(context.Background(), msg)
}
