package types

import "time"

const (
	CurrentInsightVersion = 1

	StreamIDDefault = "default"
)

// Reading represents a single telemetry sample from the monitored circuit.
type Reading struct {
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// PowerW is the instantaneous real power in watts.
	PowerW float64 `json:"powerW"`

	// Auxiliary sensor values. Not every source reports them.
	CurrentA     *float64 `json:"currentA,omitempty"`
	VoltageV     *float64 `json:"voltageV,omitempty"`
	TemperatureC *float64 `json:"temperatureC,omitempty"`
	HumidityPct  *float64 `json:"humidityPct,omitempty"`
}

// Sample returns the reading reduced to its timestamp and power.
func (r Reading) Sample() PowerSample {
	return PowerSample{
		Timestamp: r.Timestamp,
		PowerW:    r.PowerW,
	}
}

// PowerSample is a reading pruned down to the two fields needed for energy
// integration.
type PowerSample struct {
	Timestamp time.Time `json:"timestamp"`
	PowerW    float64   `json:"powerW"`
}

// Reading converts the sample back into a Reading without auxiliary values.
func (s PowerSample) Reading() Reading {
	return Reading{
		Timestamp: s.Timestamp,
		PowerW:    s.PowerW,
	}
}

// EstimationResult is the energy consumed over a series of readings and what
// it costs at a given rate.
type EstimationResult struct {
	TotalKWH      float64 `json:"totalKWH"`
	EstimatedCost float64 `json:"estimatedCost"`
}

// ForecastRequest is the bounded payload handed to the forecaster.
type ForecastRequest struct {
	Readings []PowerSample `json:"readings"`
	Rate     float64       `json:"rate"`

	// Days is the forecast horizon. 0 means DefaultForecastDays.
	Days int `json:"days,omitempty"`
}

// Horizon returns the forecast horizon in days.
func (r ForecastRequest) Horizon() int {
	if r.Days <= 0 {
		return DefaultForecastDays
	}
	return r.Days
}

// AnomalyResult is the judgment on whether the latest readings look abnormal.
// Reason is empty when IsAnomaly is false.
type AnomalyResult struct {
	IsAnomaly bool   `json:"isAnomaly"`
	Reason    string `json:"reason"`
}

// Forecast is the projected cost over the forecast horizon.
type Forecast struct {
	ForecastedCost float64 `json:"forecastedCost"`
}

// InsightKind identifies which judgment produced an Insight.
type InsightKind string

const (
	InsightKindAnalysis InsightKind = "analysis"
	InsightKindAnomaly  InsightKind = "anomaly"
	InsightKindForecast InsightKind = "forecast"
)

// Valid returns true if the kind is one of the known insight kinds.
func (k InsightKind) Valid() bool {
	switch k {
	case InsightKindAnalysis, InsightKindAnomaly, InsightKindForecast:
		return true
	}
	return false
}

// Insight records the outcome of a single analysis, anomaly or forecast call.
type Insight struct {
	Timestamp time.Time   `json:"timestamp"`
	Kind      InsightKind `json:"kind"`
	Provider  string      `json:"provider"`

	// Samples is how many readings were sent along with the request.
	Samples int `json:"samples"`

	// Analysis
	Text string `json:"text,omitempty"`

	// Anomaly
	Anomaly *AnomalyResult `json:"anomaly,omitempty"`

	// Forecast
	ForecastedCost *float64 `json:"forecastedCost,omitempty"`
	DollarsPerKWH  float64  `json:"dollarsPerKWH,omitempty"`
}
