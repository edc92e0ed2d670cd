package traffic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityroute/internal/geo"
	"cityroute/internal/model"
)

var area = geo.Area{North: 28.7, South: 28.6, East: 77.3, West: 77.2}

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL, APIKey: "k", HTTPClient: srv.Client()})
	require.NoError(t, err)
	c.backoff = time.Millisecond
	return c
}

func TestCurrentTraffic(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/traffic", r.URL.Path)
		assert.Equal(t, "28.600000,77.200000,28.700000,77.300000", r.URL.Query().Get("bbox"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"congestionLevel":"heavy","averageSpeed":14.5,"travelTimeMultiplier":1.8,"source":"probe"}`))
	})
	got, err := c.CurrentTraffic(context.Background(), area)
	require.NoError(t, err)
	assert.Equal(t, "heavy", got.CongestionLevel)
	assert.Equal(t, 1.8, got.TravelTimeMultiplier)
}

func TestTrafficAlerts(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/alerts", r.URL.Path)
		_, _ = w.Write([]byte(`{"alerts":[{"id":"A1","type":"closure","severity":"high","description":"bridge closed","location":{"lat":28.65,"lng":77.25}}]}`))
	})
	got, err := c.TrafficAlerts(context.Background(), area)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.SeverityHigh, got[0].Severity)
	assert.Equal(t, 28.65, got[0].Location.Lat)
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"travelTimeMultiplier":1.1}`))
	})
	got, err := c.CurrentTraffic(context.Background(), area)
	require.NoError(t, err)
	assert.Equal(t, 1.1, got.TravelTimeMultiplier)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad bbox", http.StatusBadRequest)
	})
	_, err := c.CurrentTraffic(context.Background(), area)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}
