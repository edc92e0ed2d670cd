package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityroute/internal/events"
	"cityroute/internal/model"
)

func routeUpdates() events.Event {
	evt := events.New(events.KindRouteUpdates)
	evt.Broadcasts = []model.RouteUpdate{{RouteID: "R1", VehicleID: "V1", Type: model.UpdateAlternativeRoute, Urgency: model.SeverityCritical}}
	return evt
}

func newSink(t *testing.T, url, secret string, attempts int) *Sink {
	t.Helper()
	s, err := NewSink(Options{URL: url, Secret: secret, MaxAttempts: attempts})
	require.NoError(t, err)
	s.baseBackoff = time.Millisecond
	return s
}

func TestDeliverSignsPayload(t *testing.T) {
	var (
		mu      sync.Mutex
		gotSig  string
		gotType string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	evt := routeUpdates()
	require.NoError(t, newSink(t, srv.URL, "secret", 3).Deliver(context.Background(), evt))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "route_updates", gotType)
	assert.True(t, Verify("secret", gotBody, gotSig))
	var p payload
	require.NoError(t, json.Unmarshal(gotBody, &p))
	assert.Equal(t, evt.ID, p.ID)
	require.Len(t, p.Updates, 1)
	assert.Equal(t, "R1", p.Updates[0].RouteID)
}

func TestDeliverRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, newSink(t, srv.URL, "", 5).Deliver(context.Background(), routeUpdates()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliverGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	require.Error(t, newSink(t, srv.URL, "", 2).Deliver(context.Background(), routeUpdates()))
	assert.Equal(t, int32(2), calls.Load())

	calls.Store(0)
	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer gone.Close()
	require.Error(t, newSink(t, gone.URL, "", 5).Deliver(context.Background(), routeUpdates()))
	assert.Equal(t, int32(1), calls.Load(), "4xx is not retried")
}

func TestRunForwardsBrokerEvents(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		select {
		case got <- p.ID:
		default:
		}
	}))
	defer srv.Close()

	b := events.NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- newSink(t, srv.URL, "", 1).Run(ctx, b) }()

	evt := routeUpdates()
	require.Eventually(t, func() bool {
		_ = b.Publish(context.Background(), evt)
		select {
		case id := <-got:
			return id == evt.ID
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSignatureRoundTrip(t *testing.T) {
	body := []byte(`{"id":"evt1"}`)
	sig := Sign("s3cret", body)
	assert.Len(t, sig, 64)
	assert.True(t, Verify("s3cret", body, sig))
	assert.False(t, Verify("other", body, sig))
	assert.False(t, Verify("s3cret", body, "not-hex"))
}
