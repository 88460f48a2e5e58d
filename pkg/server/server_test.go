package server

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wattwatch/wattwatch/pkg/feed"
	"github.com/wattwatch/wattwatch/pkg/insights/insightsmock"
	"github.com/wattwatch/wattwatch/pkg/storage"
)

func TestMiddleware(t *testing.T) {
	srv := newTestServer(nil, &insightsmock.MockService{}, storage.NewMemory())

	t.Run("Healthz", func(t *testing.T) {
		w := doRequest(t, srv, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", w.Body.String())
	})

	t.Run("Headers", func(t *testing.T) {
		w := doRequest(t, srv, http.MethodGet, "/healthz", nil)
		assert.Equal(t, "wattwatch", w.Header().Get("Server"))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
		assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=")
		assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
	})

	t.Run("Metrics", func(t *testing.T) {
		doRequest(t, srv, http.MethodGet, "/healthz", nil)
		w := doRequest(t, srv, http.MethodGet, "/metrics", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `wattwatch_http_requests_total{method="GET",route="GET /healthz",status="200"}`)
	})

	t.Run("Method Not Allowed", func(t *testing.T) {
		w := doRequest(t, srv, http.MethodPut, "/api/settings", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestReadings(t *testing.T) {
	readings := testReadings(3, 100)
	srv := newTestServer(readings, &insightsmock.MockService{}, storage.NewMemory())

	w := doRequest(t, srv, http.MethodGet, "/api/readings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	snap := decodeBody[feed.Snapshot](t, w)
	require.Len(t, snap.Readings, 3)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "r2", snap.Current.ID)
	assert.Equal(t, 100.0, snap.AveragePowerW)
	assert.False(t, snap.Synthetic)
}

func TestRun(t *testing.T) {
	ff := &fakeFeed{}
	srv := newServer(ff, nil, nil, storage.NewMemory())
	srv.listenAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	assert.Eventually(t, func() bool { return ff.runs.Load() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestWriteJSONError(t *testing.T) {
	srv := newTestServer(nil, &insightsmock.MockService{}, storage.NewMemory())
	w := doRequest(t, srv, http.MethodGet, "/api/cost?scope=year", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, strings.HasPrefix(errorBody(t, w), "invalid scope"))
}
