package insights

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/wattwatch/wattwatch/pkg/common"
	"github.com/wattwatch/wattwatch/pkg/estimator"
	"github.com/wattwatch/wattwatch/pkg/log"
	"github.com/wattwatch/wattwatch/pkg/metrics"
	"github.com/wattwatch/wattwatch/pkg/types"
)

// Advisor bounds payloads before they are sent to a Service. When there are
// too few readings it returns estimator.ErrInsufficientData without calling
// the Service at all.
type Advisor struct {
	svc Service
	cfg estimator.Config
}

// NewAdvisor returns an Advisor sending payloads bounded by cfg to svc.
func NewAdvisor(svc Service, cfg estimator.Config) *Advisor {
	return &Advisor{
		svc: svc,
		cfg: cfg,
	}
}

// ConfiguredAdvisor sets up an Advisor over the configured Service with
// payload bounds taken from flags.
func ConfiguredAdvisor() *Advisor {
	defaults := estimator.DefaultConfig()
	svc := Configured()
	maxSamples := lflag.String("max-samples", strconv.Itoa(defaults.MaxSamples), "Most recent readings sent with a single insight request (0 for no cap)")
	minReadings := lflag.String("min-readings", strconv.Itoa(defaults.MinReadings), "Fewest readings needed before an insight is requested")

	a := &Advisor{svc: svc}
	lflag.Do(func() {
		a.cfg = estimator.Config{
			MaxSamples:  common.MustAtoi("max-samples", *maxSamples),
			MinReadings: common.MustAtoi("min-readings", *minReadings),
		}
		if a.cfg.MinReadings < 1 {
			panic("min-readings must be at least 1")
		}
	})
	return a
}

// Provider returns the name of the wrapped Service.
func (a *Advisor) Provider() string {
	return a.svc.Name()
}

// Config returns the payload bounds.
func (a *Advisor) Config() estimator.Config {
	return a.cfg
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, estimator.ErrInsufficientData):
		return metrics.OutcomeInsufficient
	case errors.Is(err, ErrUnavailable):
		return metrics.OutcomeUnavailable
	case errors.Is(err, ErrMalformedResponse):
		return metrics.OutcomeMalformed
	default:
		return metrics.OutcomeError
	}
}

func (a *Advisor) record(ctx context.Context, kind types.InsightKind, samples int, start time.Time, err error) {
	o := outcome(err)
	metrics.RecordInsight(string(kind), o, time.Since(start))
	l := log.Ctx(ctx).With(
		slog.String("kind", string(kind)),
		slog.String("provider", a.svc.Name()),
		slog.Int("samples", samples),
	)
	switch o {
	case metrics.OutcomeOK:
		l.DebugContext(ctx, "insight generated", slog.Duration("took", time.Since(start)))
	case metrics.OutcomeInsufficient:
		l.DebugContext(ctx, "not enough readings for insight")
	default:
		l.WarnContext(ctx, "insight failed", slog.Any("error", err))
	}
}

// Analyze returns a short analysis of the most recent readings.
func (a *Advisor) Analyze(ctx context.Context, readings []types.Reading) (types.Insight, error) {
	start := time.Now()
	input, err := estimator.PrepareAnalysisInput(readings, a.cfg.MaxSamples, a.cfg.MinReadings)
	if err != nil {
		a.record(ctx, types.InsightKindAnalysis, len(readings), start, err)
		return types.Insight{}, err
	}
	text, err := a.svc.Analyze(ctx, input)
	a.record(ctx, types.InsightKindAnalysis, len(input), start, err)
	if err != nil {
		return types.Insight{}, err
	}
	return types.Insight{
		Timestamp: time.Now().UTC(),
		Kind:      types.InsightKindAnalysis,
		Provider:  a.svc.Name(),
		Samples:   len(input),
		Text:      text,
	}, nil
}

// DetectAnomaly judges whether the latest reading is abnormal.
func (a *Advisor) DetectAnomaly(ctx context.Context, readings []types.Reading) (types.Insight, error) {
	start := time.Now()
	input, err := estimator.PrepareAnomalyInput(readings, a.cfg.MaxSamples, a.cfg.MinReadings)
	if err != nil {
		a.record(ctx, types.InsightKindAnomaly, len(readings), start, err)
		return types.Insight{}, err
	}
	res, err := a.svc.DetectAnomaly(ctx, input)
	a.record(ctx, types.InsightKindAnomaly, len(input), start, err)
	if err != nil {
		return types.Insight{}, err
	}
	if !res.IsAnomaly {
		res.Reason = ""
	}
	return types.Insight{
		Timestamp: time.Now().UTC(),
		Kind:      types.InsightKindAnomaly,
		Provider:  a.svc.Name(),
		Samples:   len(input),
		Anomaly:   &res,
	}, nil
}

// Forecast projects the cost of readings at rate over days.
func (a *Advisor) Forecast(ctx context.Context, readings []types.Reading, rate float64, days int) (types.Insight, error) {
	start := time.Now()
	req, err := estimator.PrepareForecastInput(readings, rate, a.cfg.MaxSamples, a.cfg.MinReadings)
	if err != nil {
		a.record(ctx, types.InsightKindForecast, len(readings), start, err)
		return types.Insight{}, err
	}
	req.Days = days
	res, err := a.svc.Forecast(ctx, req)
	a.record(ctx, types.InsightKindForecast, len(req.Readings), start, err)
	if err != nil {
		return types.Insight{}, err
	}
	cost := res.ForecastedCost
	return types.Insight{
		Timestamp:      time.Now().UTC(),
		Kind:           types.InsightKindForecast,
		Provider:       a.svc.Name(),
		Samples:        len(req.Readings),
		ForecastedCost: &cost,
		DollarsPerKWH:  rate,
	}, nil
}
