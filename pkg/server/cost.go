package server

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/wattwatch/wattwatch/pkg/estimator"
	"github.com/wattwatch/wattwatch/pkg/log"
	"github.com/wattwatch/wattwatch/pkg/types"
)

const (
	costScopeAll   = "all"
	costScopeMonth = "month"
)

// CostRes is the response type for the cost endpoint.
type CostRes struct {
	types.EstimationResult
	DollarsPerKWH float64 `json:"dollarsPerKWH"`
	Scope         string  `json:"scope"`
	Samples       int     `json:"samples"`
	Synthetic     bool    `json:"synthetic"`
}

func parseRate(v string) (float64, error) {
	rate, err := strconv.ParseFloat(v, 64)
	if err != nil || rate < 0 || math.IsInf(rate, 0) || math.IsNaN(rate) {
		return 0, fmt.Errorf("invalid rate: %s", v)
	}
	return rate, nil
}

func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = costScopeAll
	}
	if scope != costScopeAll && scope != costScopeMonth {
		writeJSONError(w, fmt.Sprintf("invalid scope: %s", scope), http.StatusBadRequest)
		return
	}

	var rate float64
	if v := r.URL.Query().Get("rate"); v != "" {
		var err error
		rate, err = parseRate(v)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		settings, err := s.getSettingsWithMigration(ctx)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
			writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
			return
		}
		rate = settings.DollarsPerKWH
	}

	snap := s.feed.Snapshot()
	readings := snap.Readings
	if scope == costScopeMonth {
		readings = estimator.Since(readings, estimator.StartOfMonth(s.now().UTC()))
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, CostRes{
		EstimationResult: estimator.EstimateCost(readings, rate),
		DollarsPerKWH:    rate,
		Scope:            scope,
		Samples:          len(readings),
		Synthetic:        snap.Synthetic,
	})
}
