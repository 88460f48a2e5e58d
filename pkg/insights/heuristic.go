package insights

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/wattwatch/wattwatch/pkg/estimator"
	"github.com/wattwatch/wattwatch/pkg/types"
)

const (
	spikeFactor     = 3.0
	baselineFactor  = 1.5
	baselineSigmas  = 2.0
	baselineRecent  = 3
	baselineHistory = 10
)

// Heuristic implements Service with fixed rules and no external calls. It is
// used when no AI provider is configured.
type Heuristic struct{}

var _ Service = Heuristic{}

func (Heuristic) Name() string {
	return "heuristic"
}

func meanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if len(values) < 2 {
		return mean, 0
	}
	var variance float64
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

// DetectAnomaly flags a spike when the latest sample is more than 3x the mean
// of the rest, or a raised baseline when the mean of the last 3 samples is
// well above the 10 before them.
func (Heuristic) DetectAnomaly(ctx context.Context, samples []types.PowerSample) (types.AnomalyResult, error) {
	if len(samples) < 2 {
		return types.AnomalyResult{}, nil
	}
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.PowerW
	}

	latest := values[len(values)-1]
	restMean, _ := meanStdDev(values[:len(values)-1])
	if restMean > 0 && latest > spikeFactor*restMean {
		return types.AnomalyResult{
			IsAnomaly: true,
			Reason:    fmt.Sprintf("Unexpected consumption spike: %.0f W against an average of %.0f W.", latest, restMean),
		}, nil
	}

	if len(values) >= baselineRecent+baselineHistory {
		recent := values[len(values)-baselineRecent:]
		history := values[len(values)-baselineRecent-baselineHistory : len(values)-baselineRecent]
		recentMean, _ := meanStdDev(recent)
		histMean, histStdDev := meanStdDev(history)
		if histMean > 0 && recentMean > baselineFactor*histMean && recentMean > histMean+baselineSigmas*histStdDev {
			return types.AnomalyResult{
				IsAnomaly: true,
				Reason:    fmt.Sprintf("Baseline consumption appears to have risen from %.0f W to %.0f W.", histMean, recentMean),
			}, nil
		}
	}

	return types.AnomalyResult{}, nil
}

// Forecast projects the sampled daily consumption over the horizon.
func (Heuristic) Forecast(ctx context.Context, req types.ForecastRequest) (types.Forecast, error) {
	readings := make([]types.Reading, len(req.Readings))
	for i, s := range req.Readings {
		readings[i] = s.Reading()
	}
	return types.Forecast{
		ForecastedCost: estimator.ProjectCost(readings, req.Rate, req.Horizon()),
	}, nil
}

// Analyze summarizes average and peak load with one recommendation.
func (Heuristic) Analyze(ctx context.Context, readings []types.Reading) (string, error) {
	if len(readings) == 0 {
		return "", nil
	}
	sorted := estimator.SortByTime(readings)
	avg := estimator.AveragePowerW(sorted)
	peak := sorted[0]
	for _, r := range sorted {
		if r.PowerW > peak.PowerW {
			peak = r
		}
	}
	kwh := estimator.EstimateCost(sorted, 0).TotalKWH

	var b strings.Builder
	fmt.Fprintf(&b, "Average load was %.0f W with a peak of %.0f W at %s, for %.2f kWh over the period.", avg, peak.PowerW, peak.Timestamp.Format("15:04"), kwh)
	switch {
	case avg > 0 && peak.PowerW > 2*avg:
		b.WriteString(" Short high peaks drive most of the usage; try spreading heavy appliances across the day.")
	case avg > 150:
		b.WriteString(" The constant load is high; check for devices left on standby and switch them off at the outlet.")
	default:
		b.WriteString(" Consumption is steady and moderate; keep switching off lights in empty rooms.")
	}
	return truncateRunes(b.String(), MaxAnalysisRunes), nil
}
