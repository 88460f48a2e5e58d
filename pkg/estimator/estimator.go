package estimator

import (
	"errors"
	"slices"
	"time"

	"github.com/creasty/defaults"
	"github.com/wattwatch/wattwatch/pkg/types"
)

// ErrInsufficientData is returned when there are fewer readings than
// required to ask for a forecast or an anomaly judgment.
var ErrInsufficientData = errors.New("insufficient data")

const wattSecondsPerKWH = 3600 * 1000

// Config bounds the payloads prepared for the insight service.
type Config struct {
	// MaxSamples caps how many of the most recent readings are sent.
	// 0 or less means no cap.
	MaxSamples int `default:"1000"`

	// MinReadings is the fewest readings that will be sent at all.
	MinReadings int `default:"10"`
}

// DefaultConfig returns a Config with its defaults applied.
func DefaultConfig() Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		// only fails for non-pointer arguments
		panic(err)
	}
	return c
}

// SortByTime returns a copy of readings sorted ascending by timestamp. Readings
// with equal timestamps keep their relative order.
func SortByTime(readings []types.Reading) []types.Reading {
	sorted := slices.Clone(readings)
	slices.SortStableFunc(sorted, func(a, b types.Reading) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return sorted
}

// integrateWattSeconds returns the trapezoidal integral of power over time for
// readings already sorted ascending.
func integrateWattSeconds(sorted []types.Reading) float64 {
	var ws float64
	for i := 1; i < len(sorted); i++ {
		prev, curr := sorted[i-1], sorted[i]
		dt := curr.Timestamp.Sub(prev.Timestamp).Seconds()
		ws += (prev.PowerW + curr.PowerW) / 2 * dt
	}
	return ws
}

// EstimateCost integrates power over time with the trapezoidal rule and
// prices the result at rate per kWh. The input is not modified and need not
// be sorted. Fewer than two readings yields zero energy.
func EstimateCost(readings []types.Reading, rate float64) types.EstimationResult {
	if len(readings) < 2 {
		return types.EstimationResult{}
	}
	kwh := integrateWattSeconds(SortByTime(readings)) / wattSecondsPerKWH
	return types.EstimationResult{
		TotalKWH:      kwh,
		EstimatedCost: kwh * rate,
	}
}

// tail returns the maxSamples most recent readings in ascending order.
func tail(readings []types.Reading, maxSamples int) []types.Reading {
	sorted := SortByTime(readings)
	if maxSamples > 0 && len(sorted) > maxSamples {
		sorted = sorted[len(sorted)-maxSamples:]
	}
	return sorted
}

func pruneSamples(readings []types.Reading) []types.PowerSample {
	samples := make([]types.PowerSample, len(readings))
	for i, r := range readings {
		samples[i] = r.Sample()
	}
	return samples
}

// PrepareForecastInput builds the bounded forecast payload. Every reading is
// reduced to its timestamp and power and only the maxSamples most recent are
// kept. ErrInsufficientData is returned when there are fewer than minReadings
// readings, in which case the forecaster must not be called.
func PrepareForecastInput(readings []types.Reading, rate float64, maxSamples, minReadings int) (types.ForecastRequest, error) {
	if len(readings) < minReadings {
		return types.ForecastRequest{}, ErrInsufficientData
	}
	return types.ForecastRequest{
		Readings: pruneSamples(tail(readings, maxSamples)),
		Rate:     rate,
	}, nil
}

// PrepareAnomalyInput is PrepareForecastInput without a rate.
func PrepareAnomalyInput(readings []types.Reading, maxSamples, minReadings int) ([]types.PowerSample, error) {
	if len(readings) < minReadings {
		return nil, ErrInsufficientData
	}
	return pruneSamples(tail(readings, maxSamples)), nil
}

// PrepareAnalysisInput keeps the auxiliary sensor values since the analysis
// describes them too. IDs are dropped.
func PrepareAnalysisInput(readings []types.Reading, maxSamples, minReadings int) ([]types.Reading, error) {
	if len(readings) < minReadings {
		return nil, ErrInsufficientData
	}
	out := tail(readings, maxSamples)
	for i := range out {
		out[i].ID = ""
	}
	return out, nil
}

// AveragePowerW returns the mean power of readings, 0 when empty.
func AveragePowerW(readings []types.Reading) float64 {
	if len(readings) == 0 {
		return 0
	}
	var sum float64
	for _, r := range readings {
		sum += r.PowerW
	}
	return sum / float64(len(readings))
}

// Since returns the readings taken at or after t, in their original order.
func Since(readings []types.Reading, t time.Time) []types.Reading {
	var out []types.Reading
	for _, r := range readings {
		if !r.Timestamp.Before(t) {
			out = append(out, r)
		}
	}
	return out
}

// StartOfMonth returns midnight on the first day of t's month in t's location.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// ProjectCost extrapolates the average daily consumption of readings over
// days and prices it at rate.
func ProjectCost(readings []types.Reading, rate float64, days int) float64 {
	if len(readings) < 2 {
		return 0
	}
	sorted := SortByTime(readings)
	span := sorted[len(sorted)-1].Timestamp.Sub(sorted[0].Timestamp)
	if span <= 0 {
		return 0
	}
	kwh := integrateWattSeconds(sorted) / wattSecondsPerKWH
	dailyKWH := kwh / (span.Hours() / 24)
	return dailyKWH * float64(days) * rate
}
