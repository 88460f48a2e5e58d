package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wattwatch/wattwatch/pkg/log"
	"github.com/wattwatch/wattwatch/pkg/types"
)

// maxHistoryRange bounds how much insight history a single request reads.
const maxHistoryRange = 31 * 24 * time.Hour

func (s *Server) handleHistoryInsights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind := types.InsightKind(r.URL.Query().Get("kind"))
	if !kind.Valid() {
		writeJSONError(w, fmt.Sprintf("invalid kind: %q", kind), http.StatusBadRequest)
		return
	}
	start, end, err := s.parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	history, err := s.storage.GetInsightHistory(ctx, s.streamID, kind, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get insights", slog.String("kind", string(kind)), slog.Any("error", err))
		writeJSONError(w, "failed to get insights", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []types.Insight{}
	}

	// Set Cache-Control headers
	// If the range ends before today (midnight today), cache for 24 hours.
	// Otherwise, cache for 1 minute.
	today := s.now().Truncate(24 * time.Hour)
	if end.Before(today) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}

	writeJSON(w, history)
}

func (s *Server) parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		// Default to last 24 hours if not specified
		end := s.now()
		start := end.Add(-24 * time.Hour)
		return start, end, nil
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}

	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time must be before end time")
	}

	if end.Sub(start) > maxHistoryRange {
		return time.Time{}, time.Time{}, fmt.Errorf("time range cannot exceed 31 days")
	}

	return start, end, nil
}
