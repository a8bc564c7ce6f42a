package webhook

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
	"github.com/use-agent/planillas/models"
)

// fastNotifier retries without real waits.
func fastNotifier(attempts int) *Notifier {
	n := NewNotifier()
	n.backoff = make([]time.Duration, attempts)
	for i := 1; i < attempts; i++ {
		n.backoff[i] = time.Millisecond
	}
	return n
}

func statusServer(t *testing.T, calls *atomic.Int32, codes ...int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(calls.Add(1)) - 1
		if i >= len(codes) {
			i = len(codes) - 1
		}
		w.WriteHeader(codes[i])
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBatchCompleted(t *testing.T) {
	snap := models.BatchStatusResponse{ID: "batch-1", Status: models.BatchPartial, Completed: 2, Total: 2}
	ev := BatchCompleted(snap, time.Unix(1700000000, 0))

	assert.Equal(t, EventBatchCompleted, ev.Type)
	assert.Equal(t, "batch-1", ev.JobID)
	assert.Equal(t, int64(1700000000), ev.Timestamp)
	assert.Equal(t, snap, ev.Data)
}

func TestSend_SignsBody(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, Sign("s3cret", body), r.Header.Get(SignatureHeader))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	snap := models.BatchStatusResponse{ID: "batch-1", Status: models.BatchCompleted, Completed: 1, Total: 1}
	err := NewNotifier().Send(context.Background(), Target{URL: srv.URL, Secret: "s3cret"}, BatchCompleted(snap, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, EventBatchCompleted, got.Type)
	assert.Equal(t, "batch-1", got.JobID)
	assert.Equal(t, models.BatchCompleted, got.Data.Status)
	assert.Equal(t, 1, got.Data.Total)
}

func TestSend_NoSecretNoSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(SignatureHeader))
	}))
	defer srv.Close()

	require.NoError(t, NewNotifier().Send(context.Background(), Target{URL: srv.URL}, &Event{Type: EventBatchCompleted}))
}

func TestSend_ErrorStatus(t *testing.T) {
	var calls atomic.Int32
	srv := statusServer(t, &calls, http.StatusInternalServerError)

	err := NewNotifier().Send(context.Background(), Target{URL: srv.URL}, &Event{Type: EventBatchCompleted})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.ErrorContains(t, err, "status 500")
}

func TestDeliver_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := statusServer(t, &calls, http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusOK)

	err := fastNotifier(4).Deliver(context.Background(), Target{URL: srv.URL}, &Event{Type: EventBatchCompleted})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliver_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := statusServer(t, &calls, http.StatusBadGateway)

	err := fastNotifier(2).Deliver(context.Background(), Target{URL: srv.URL}, &Event{Type: EventBatchCompleted})
	assert.ErrorContains(t, err, "status 502")
	assert.Equal(t, int32(2), calls.Load())
}

func TestDeliver_ClientErrorIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := statusServer(t, &calls, http.StatusGone)

	err := fastNotifier(4).Deliver(context.Background(), Target{URL: srv.URL}, &Event{Type: EventBatchCompleted})
	assert.ErrorContains(t, err, "status 410")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDeliver_StopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	srv := statusServer(t, &calls, http.StatusServiceUnavailable)

	n := NewNotifier()
	n.backoff = []time.Duration{0, time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := n.Deliver(ctx, Target{URL: srv.URL}, &Event{Type: EventBatchCompleted})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSign(t *testing.T) {
	assert.Equal(t,
		"sha256=b613679a0814d9ec772f95d778c35fc5ff1697c493715653c6c712144292c5ad",
		Sign("", nil))
}
