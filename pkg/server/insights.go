package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/wattwatch/wattwatch/pkg/estimator"
	"github.com/wattwatch/wattwatch/pkg/inflight"
	"github.com/wattwatch/wattwatch/pkg/insights"
	"github.com/wattwatch/wattwatch/pkg/log"
	"github.com/wattwatch/wattwatch/pkg/metrics"
	"github.com/wattwatch/wattwatch/pkg/types"
)

// forecastReq is the optional body of the forecast endpoint. A missing rate
// falls back to the configured one.
type forecastReq struct {
	Rate *float64 `json:"rate" validate:"omitempty,gte=0"`
}

// writeInsightError maps insight failures to status codes.
func writeInsightError(ctx context.Context, w http.ResponseWriter, kind types.InsightKind, err error) {
	switch {
	case errors.Is(err, estimator.ErrInsufficientData):
		writeJSONError(w, "not enough readings yet", http.StatusUnprocessableEntity)
	case errors.Is(err, inflight.ErrBusy):
		metrics.RecordInsight(string(kind), metrics.OutcomeBusy, 0)
		writeJSONError(w, "a "+string(kind)+" request is already in progress", http.StatusConflict)
	case errors.Is(err, insights.ErrUnavailable):
		writeJSONError(w, "insight service unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, insights.ErrMalformedResponse):
		writeJSONError(w, "insight service returned an invalid response", http.StatusBadGateway)
	default:
		log.Ctx(ctx).ErrorContext(ctx, "failed to generate insight", slog.String("kind", string(kind)), slog.Any("error", err))
		writeJSONError(w, "failed to generate "+string(kind), http.StatusInternalServerError)
	}
}

// generateInsight runs gen while holding the in-flight claim for kind and
// stores the result. Storage failures are logged but the insight is still
// returned.
func (s *Server) generateInsight(ctx context.Context, kind types.InsightKind, gen func(context.Context) (types.Insight, error)) (types.Insight, error) {
	release, err := s.guard.Acquire(ctx, s.streamID+":"+string(kind))
	if err != nil {
		return types.Insight{}, err
	}
	defer release()

	insight, err := gen(ctx)
	if err != nil {
		return types.Insight{}, err
	}
	if err := s.storage.InsertInsight(ctx, s.streamID, insight); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to store insight", slog.String("kind", string(kind)), slog.Any("error", err))
	}
	return insight, nil
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	readings := s.feed.Snapshot().Readings
	insight, err := s.generateInsight(ctx, types.InsightKindAnalysis, func(ctx context.Context) (types.Insight, error) {
		return s.advisor.Analyze(ctx, readings)
	})
	if err != nil {
		writeInsightError(ctx, w, types.InsightKindAnalysis, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, insight)
}

func (s *Server) handleAnomaly(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	readings := s.feed.Snapshot().Readings
	insight, err := s.generateInsight(ctx, types.InsightKindAnomaly, func(ctx context.Context) (types.Insight, error) {
		return s.advisor.DetectAnomaly(ctx, readings)
	})
	if err != nil {
		writeInsightError(ctx, w, types.InsightKindAnomaly, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, insight)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req forecastReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode forecast request", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSONError(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	settings, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	rate := settings.DollarsPerKWH
	if req.Rate != nil {
		rate = *req.Rate
	}

	// forecasts project from the current month's consumption
	readings := estimator.Since(s.feed.Snapshot().Readings, estimator.StartOfMonth(s.now().UTC()))
	insight, err := s.generateInsight(ctx, types.InsightKindForecast, func(ctx context.Context) (types.Insight, error) {
		return s.advisor.Forecast(ctx, readings, rate, settings.ForecastDays)
	})
	if err != nil {
		writeInsightError(ctx, w, types.InsightKindForecast, err)
		return
	}
	writeJSON(w, insight)
}

func (s *Server) handleLatestForecast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	insight, err := s.storage.GetLatestInsight(ctx, s.streamID, types.InsightKindForecast)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get latest forecast", slog.Any("error", err))
		writeJSONError(w, "failed to get latest forecast", http.StatusInternalServerError)
		return
	}
	if insight == nil {
		writeJSONError(w, "no forecast yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, insight)
}
