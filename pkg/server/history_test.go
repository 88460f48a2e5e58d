package server

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wattwatch/wattwatch/pkg/insights/insightsmock"
	"github.com/wattwatch/wattwatch/pkg/storage/storagemock"
	"github.com/wattwatch/wattwatch/pkg/types"
)

func TestHistoryInsights(t *testing.T) {
	t.Run("Default Range", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetInsightHistory", mock.Anything, types.StreamIDDefault, types.InsightKindAnomaly, testNow.Add(-24*time.Hour), testNow).Return([]types.Insight(nil), nil).Once()
		srv := newTestServer(nil, &insightsmock.MockService{}, db)

		w := doRequest(t, srv, http.MethodGet, "/api/history/insights?kind=anomaly", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "[]\n", w.Body.String())
		assert.Equal(t, "private, max-age=60", w.Header().Get("Cache-Control"))
		db.AssertExpectations(t)
	})

	t.Run("Explicit Range", func(t *testing.T) {
		start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
		cost := 3.0
		db := &storagemock.MockDatabase{}
		db.On("GetInsightHistory", mock.Anything, types.StreamIDDefault, types.InsightKindForecast, start, end).Return([]types.Insight{
			{Timestamp: start.Add(time.Hour), Kind: types.InsightKindForecast, ForecastedCost: &cost},
		}, nil).Once()
		srv := newTestServer(nil, &insightsmock.MockService{}, db)

		q := url.Values{}
		q.Set("kind", "forecast")
		q.Set("start", start.Format(time.RFC3339))
		q.Set("end", end.Format(time.RFC3339))
		w := doRequest(t, srv, http.MethodGet, "/api/history/insights?"+q.Encode(), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "private, max-age=86400", w.Header().Get("Cache-Control"))

		history := decodeBody[[]types.Insight](t, w)
		require.Len(t, history, 1)
		require.NotNil(t, history[0].ForecastedCost)
		assert.Equal(t, 3.0, *history[0].ForecastedCost)
	})

	t.Run("Bad Requests", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(nil, &insightsmock.MockService{}, db)

		for _, target := range []string{
			"/api/history/insights",
			"/api/history/insights?kind=savings",
			"/api/history/insights?kind=forecast&start=yesterday&end=2026-03-08T00:00:00Z",
			"/api/history/insights?kind=forecast&start=2026-03-08T00:00:00Z&end=2026-03-01T00:00:00Z",
			"/api/history/insights?kind=forecast&start=2026-01-01T00:00:00Z&end=2026-03-01T00:00:00Z",
		} {
			w := doRequest(t, srv, http.MethodGet, target, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, target)
		}
		db.AssertNotCalled(t, "GetInsightHistory", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestParseTimeRange(t *testing.T) {
	srv := newTestServer(nil, &insightsmock.MockService{}, &storagemock.MockDatabase{})

	req, err := http.NewRequest(http.MethodGet, "/?start=2026-03-01T00:00:00Z&end=2026-03-31T23:59:59Z", nil)
	require.NoError(t, err)
	start, end, err := srv.parseTimeRange(req)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC), end)

	req, err = http.NewRequest(http.MethodGet, "/?start=2026-03-01T00:00:00Z&end=2026-04-01T00:00:01Z", nil)
	require.NoError(t, err)
	_, _, err = srv.parseTimeRange(req)
	assert.ErrorContains(t, err, "31 days")
}
