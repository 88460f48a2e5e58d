package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wattwatch/wattwatch/pkg/insights"
	"github.com/wattwatch/wattwatch/pkg/insights/insightsmock"
	"github.com/wattwatch/wattwatch/pkg/storage/storagemock"
	"github.com/wattwatch/wattwatch/pkg/types"
)

func insightOfKind(kind types.InsightKind) any {
	return mock.MatchedBy(func(ins types.Insight) bool {
		return ins.Kind == kind
	})
}

func TestAnalysis(t *testing.T) {
	t.Run("Success Stores Insight", func(t *testing.T) {
		svc := &insightsmock.MockService{}
		db := &storagemock.MockDatabase{}
		svc.On("Analyze", mock.Anything, mock.Anything).Return("Usage is steady around 120 W.", nil).Once()
		db.On("InsertInsight", mock.Anything, types.StreamIDDefault, insightOfKind(types.InsightKindAnalysis)).Return(nil).Once()

		srv := newTestServer(testReadings(30, 120), svc, db)
		w := doRequest(t, srv, http.MethodGet, "/api/insights/analysis", nil)
		require.Equal(t, http.StatusOK, w.Code)

		ins := decodeBody[types.Insight](t, w)
		assert.Equal(t, types.InsightKindAnalysis, ins.Kind)
		assert.Equal(t, "mock", ins.Provider)
		assert.Equal(t, 30, ins.Samples)
		assert.Equal(t, "Usage is steady around 120 W.", ins.Text)
		svc.AssertExpectations(t)
		db.AssertExpectations(t)
	})

	t.Run("Storage Failure Still Returns", func(t *testing.T) {
		svc := &insightsmock.MockService{}
		db := &storagemock.MockDatabase{}
		svc.On("Analyze", mock.Anything, mock.Anything).Return("ok", nil).Once()
		db.On("InsertInsight", mock.Anything, types.StreamIDDefault, mock.Anything).Return(errors.New("boom")).Once()

		srv := newTestServer(testReadings(30, 120), svc, db)
		w := doRequest(t, srv, http.MethodGet, "/api/insights/analysis", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Insufficient Data", func(t *testing.T) {
		svc := &insightsmock.MockService{}
		db := &storagemock.MockDatabase{}

		srv := newTestServer(testReadings(5, 120), svc, db)
		w := doRequest(t, srv, http.MethodGet, "/api/insights/analysis", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "not enough readings yet", errorBody(t, w))
		svc.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
		db.AssertNotCalled(t, "InsertInsight", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAnomaly(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"Unavailable", fmt.Errorf("%w: status 500", insights.ErrUnavailable), http.StatusServiceUnavailable},
		{"Malformed", fmt.Errorf("%w: missing isAnomaly", insights.ErrMalformedResponse), http.StatusBadGateway},
		{"Other", errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &insightsmock.MockService{}
			db := &storagemock.MockDatabase{}
			svc.On("DetectAnomaly", mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			srv := newTestServer(testReadings(30, 120), svc, db)
			w := doRequest(t, srv, http.MethodGet, "/api/insights/anomaly", nil)
			assert.Equal(t, tt.code, w.Code)
			db.AssertNotCalled(t, "InsertInsight", mock.Anything, mock.Anything, mock.Anything)
		})
	}

	t.Run("Anomaly Found", func(t *testing.T) {
		svc := &insightsmock.MockService{}
		db := &storagemock.MockDatabase{}
		svc.On("DetectAnomaly", mock.Anything, mock.Anything).Return(types.AnomalyResult{IsAnomaly: true, Reason: "spike"}, nil).Once()
		db.On("InsertInsight", mock.Anything, types.StreamIDDefault, insightOfKind(types.InsightKindAnomaly)).Return(nil).Once()

		srv := newTestServer(testReadings(30, 120), svc, db)
		w := doRequest(t, srv, http.MethodGet, "/api/insights/anomaly", nil)
		require.Equal(t, http.StatusOK, w.Code)
		ins := decodeBody[types.Insight](t, w)
		require.NotNil(t, ins.Anomaly)
		assert.True(t, ins.Anomaly.IsAnomaly)
		assert.Equal(t, "spike", ins.Anomaly.Reason)
	})

	t.Run("Already In Flight", func(t *testing.T) {
		svc := &insightsmock.MockService{}
		db := &storagemock.MockDatabase{}
		srv := newTestServer(testReadings(30, 120), svc, db)

		release, err := srv.guard.Acquire(context.Background(), types.StreamIDDefault+":"+string(types.InsightKindAnomaly))
		require.NoError(t, err)
		defer release()

		w := doRequest(t, srv, http.MethodGet, "/api/insights/anomaly", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		svc.AssertNotCalled(t, "DetectAnomaly", mock.Anything, mock.Anything)

		// other kinds are not blocked
		svc.On("Analyze", mock.Anything, mock.Anything).Return("ok", nil).Once()
		db.On("InsertInsight", mock.Anything, types.StreamIDDefault, mock.Anything).Return(nil).Once()
		w = doRequest(t, srv, http.MethodGet, "/api/insights/analysis", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Released After Completion", func(t *testing.T) {
		svc := &insightsmock.MockService{}
		db := &storagemock.MockDatabase{}
		svc.On("DetectAnomaly", mock.Anything, mock.Anything).Return(types.AnomalyResult{}, nil).Twice()
		db.On("InsertInsight", mock.Anything, types.StreamIDDefault, mock.Anything).Return(nil).Twice()

		srv := newTestServer(testReadings(30, 120), svc, db)
		for range 2 {
			w := doRequest(t, srv, http.MethodGet, "/api/insights/anomaly", nil)
			assert.Equal(t, http.StatusOK, w.Code)
		}
		svc.AssertExpectations(t)
	})
}

func TestForecast(t *testing.T) {
	settings := types.Settings{DollarsPerKWH: 0.15, ForecastDays: 14}

	t.Run("Rate Override", func(t *testing.T) {
		svc := &insightsmock.MockService{}
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, types.StreamIDDefault).Return(settings, types.CurrentSettingsVersion, nil)
		svc.On("Forecast", mock.Anything, mock.MatchedBy(func(req types.ForecastRequest) bool {
			return req.Rate == 0.3 && req.Days == 14 && len(req.Readings) == 30
		})).Return(types.Forecast{ForecastedCost: 9.5}, nil).Once()
		db.On("InsertInsight", mock.Anything, types.StreamIDDefault, mock.MatchedBy(func(ins types.Insight) bool {
			return ins.Kind == types.InsightKindForecast && ins.DollarsPerKWH == 0.3
		})).Return(nil).Once()

		// readings from last month are left out of the forecast
		readings := append([]types.Reading{
			{ID: "old", Timestamp: time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC), PowerW: 500},
		}, testReadings(30, 120)...)
		srv := newTestServer(readings, svc, db)
		w := doRequest(t, srv, http.MethodPost, "/api/insights/forecast", map[string]float64{"rate": 0.3})
		require.Equal(t, http.StatusOK, w.Code)

		ins := decodeBody[types.Insight](t, w)
		require.NotNil(t, ins.ForecastedCost)
		assert.Equal(t, 9.5, *ins.ForecastedCost)
		svc.AssertExpectations(t)
		db.AssertExpectations(t)
	})

	t.Run("Month Boundary Is UTC", func(t *testing.T) {
		svc := &insightsmock.MockService{}
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, types.StreamIDDefault).Return(settings, types.CurrentSettingsVersion, nil)
		// half-hourly from Feb 28 20:00Z, 16 of them on Mar 1 UTC
		svc.On("Forecast", mock.Anything, mock.MatchedBy(func(req types.ForecastRequest) bool {
			return len(req.Readings) == 16
		})).Return(types.Forecast{ForecastedCost: 2}, nil).Once()
		db.On("InsertInsight", mock.Anything, types.StreamIDDefault, mock.Anything).Return(nil).Once()

		srv := newTestServer(readingsFrom(time.Date(2026, 2, 28, 20, 0, 0, 0, time.UTC), 24, 30*time.Minute, 120), svc, db)
		// still February in the server's zone
		srv.now = func() time.Time {
			return time.Date(2026, 3, 1, 7, 45, 0, 0, time.UTC).In(pacific)
		}
		w := doRequest(t, srv, http.MethodPost, "/api/insights/forecast", nil)
		require.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("Empty Body Uses Settings", func(t *testing.T) {
		svc := &insightsmock.MockService{}
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, types.StreamIDDefault).Return(settings, types.CurrentSettingsVersion, nil)
		svc.On("Forecast", mock.Anything, mock.MatchedBy(func(req types.ForecastRequest) bool {
			return req.Rate == 0.15
		})).Return(types.Forecast{ForecastedCost: 1}, nil).Once()
		db.On("InsertInsight", mock.Anything, types.StreamIDDefault, mock.Anything).Return(nil).Once()

		srv := newTestServer(testReadings(30, 120), svc, db)
		w := doRequest(t, srv, http.MethodPost, "/api/insights/forecast", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("Negative Rate", func(t *testing.T) {
		svc := &insightsmock.MockService{}
		db := &storagemock.MockDatabase{}
		srv := newTestServer(testReadings(30, 120), svc, db)
		w := doRequest(t, srv, http.MethodPost, "/api/insights/forecast", map[string]float64{"rate": -1})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, errorBody(t, w), "rate")
	})

	t.Run("Insufficient Data", func(t *testing.T) {
		svc := &insightsmock.MockService{}
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, types.StreamIDDefault).Return(settings, types.CurrentSettingsVersion, nil)
		srv := newTestServer(testReadings(9, 120), svc, db)
		w := doRequest(t, srv, http.MethodPost, "/api/insights/forecast", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		svc.AssertNotCalled(t, "Forecast", mock.Anything, mock.Anything)
	})

	t.Run("Latest", func(t *testing.T) {
		svc := &insightsmock.MockService{}
		db := &storagemock.MockDatabase{}
		db.On("GetLatestInsight", mock.Anything, types.StreamIDDefault, types.InsightKindForecast).Return(nil, nil).Once()
		srv := newTestServer(nil, svc, db)

		w := doRequest(t, srv, http.MethodGet, "/api/insights/forecast", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		cost := 12.25
		db.On("GetLatestInsight", mock.Anything, types.StreamIDDefault, types.InsightKindForecast).Return(&types.Insight{
			Timestamp:      testNow,
			Kind:           types.InsightKindForecast,
			ForecastedCost: &cost,
		}, nil).Once()
		w = doRequest(t, srv, http.MethodGet, "/api/insights/forecast", nil)
		require.Equal(t, http.StatusOK, w.Code)
		ins := decodeBody[types.Insight](t, w)
		require.NotNil(t, ins.ForecastedCost)
		assert.Equal(t, 12.25, *ins.ForecastedCost)
		assert.True(t, ins.Timestamp.Equal(testNow))
	})
}
