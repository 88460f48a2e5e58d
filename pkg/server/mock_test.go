package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wattwatch/wattwatch/pkg/estimator"
	"github.com/wattwatch/wattwatch/pkg/feed"
	"github.com/wattwatch/wattwatch/pkg/inflight"
	"github.com/wattwatch/wattwatch/pkg/insights"
	"github.com/wattwatch/wattwatch/pkg/insights/insightsmock"
	"github.com/wattwatch/wattwatch/pkg/storage"
	"github.com/wattwatch/wattwatch/pkg/types"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type fakeFeed struct {
	snap feed.Snapshot
	runs atomic.Int32
}

func (f *fakeFeed) Snapshot() feed.Snapshot {
	return f.snap
}

func (f *fakeFeed) Run(ctx context.Context) error {
	f.runs.Add(1)
	<-ctx.Done()
	return nil
}

// testReadings returns n readings one minute apart ending at testNow.
func testReadings(n int, powerW float64) []types.Reading {
	out := make([]types.Reading, n)
	for i := range out {
		out[i] = types.Reading{
			ID:        "r" + strconv.Itoa(i),
			Timestamp: testNow.Add(-time.Duration(n-1-i) * time.Minute),
			PowerW:    powerW,
		}
	}
	return out
}

// readingsFrom returns n readings step apart starting at start.
func readingsFrom(start time.Time, n int, step time.Duration, powerW float64) []types.Reading {
	out := make([]types.Reading, n)
	for i := range out {
		out[i] = types.Reading{
			ID:        "s" + strconv.Itoa(i),
			Timestamp: start.Add(time.Duration(i) * step),
			PowerW:    powerW,
		}
	}
	return out
}

// pacific is a zone behind UTC so that early UTC hours of a month still fall
// in the previous month locally.
var pacific = time.FixedZone("PST", -8*60*60)

func newTestServer(readings []types.Reading, svc *insightsmock.MockService, db storage.Database) *Server {
	snap := feed.Snapshot{
		Readings:      readings,
		AveragePowerW: estimator.AveragePowerW(readings),
		UpdatedAt:     testNow,
	}
	if len(readings) > 0 {
		current := readings[len(readings)-1]
		snap.Current = &current
	}
	advisor := insights.NewAdvisor(svc, estimator.Config{MaxSamples: 1000, MinReadings: 10})
	srv := newServer(&fakeFeed{snap: snap}, advisor, inflight.NewLocal(), db)
	srv.now = func() time.Time { return testNow }
	return srv
}

func doRequest(t *testing.T, srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	return decodeBody[struct {
		Error string `json:"error"`
	}](t, w).Error
}
