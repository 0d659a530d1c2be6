package stats

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

	"github.com/campushub/campus-hub/internal/domain/shared"
	"github.com/campushub/campus-hub/pkg/circuitbreaker"
)

func TestStatsDTO_Parsing(t *testing.T) {
	jsonData := `{
    "userId": "u1",
    "connectionsCount": 12,
    "eventsCreated": 3,
    "resourcesUploaded": 0,
    "eventsAttended": -1
}`

	var dto StatsDTO
	require.NoError(t, json.Unmarshal([]byte(jsonData), &dto))

	snap := dto.ToSnapshot()
	assert.Equal(t, 12, snap.ConnectionsCount)
	assert.Equal(t, 3, snap.EventsCreated)
	assert.Equal(t, 0, snap.ResourcesUploaded)
	assert.Equal(t, 0, snap.EventsAttended)
}

func TestClient_GetStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/u%201/stats", r.URL.EscapedPath())
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"connectionsCount":10,"eventsCreated":5,"resourcesUploaded":10,"eventsAttended":20}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL + "/", APIKey: "secret"}, nil)
	snap, err := c.GetStats(context.Background(), "u 1")
	require.NoError(t, err)
	assert.Equal(t, 10, snap.ConnectionsCount)
	assert.Equal(t, 20, snap.EventsAttended)
}

func TestClient_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL}, nil)
	_, err := c.GetStats(context.Background(), "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrStatsUnavailable)
	assert.True(t, shared.IsExternalService(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)

	start := time.Now()
	_, err := c.GetStats(context.Background(), "u1")
	assert.ErrorIs(t, err, shared.ErrStatsUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "stats", FailureThreshold: 2, Cooldown: time.Hour})
	c := NewClient(ClientConfig{BaseURL: srv.URL}, breaker)

	for i := 0; i < 4; i++ {
		_, err := c.GetStats(context.Background(), "u1")
		assert.ErrorIs(t, err, shared.ErrStatsUnavailable)
	}
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	_, err := c.GetStats(context.Background(), "u1")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}

func TestClient_NotFoundKeepsBreakerClosed(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "no such user", http.StatusNotFound)
	}))
	defer srv.Close()

	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "stats", FailureThreshold: 2, Cooldown: time.Hour})
	c := NewClient(ClientConfig{BaseURL: srv.URL}, breaker)

	for i := 0; i < 4; i++ {
		_, err := c.GetStats(context.Background(), "ghost")
		assert.ErrorIs(t, err, shared.ErrStatsUnavailable)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	}
	assert.Equal(t, int32(4), hits.Load())
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
}

func TestClient_EmptyUser(t *testing.T) {
	c := NewClient(ClientConfig{BaseURL: "http://unused"}, nil)
	_, err := c.GetStats(context.Background(), "")
	assert.ErrorIs(t, err, shared.ErrUnknownUser)
}
