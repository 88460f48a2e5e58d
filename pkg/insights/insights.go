package insights

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/wattwatch/wattwatch/pkg/types"
)

var (
	// ErrUnavailable means the insight provider could not be reached or
	// refused the request.
	ErrUnavailable = errors.New("insight service unavailable")

	// ErrMalformedResponse means the provider answered but the answer could
	// not be decoded into the expected shape.
	ErrMalformedResponse = errors.New("malformed insight response")
)

// MaxAnalysisRunes bounds the length of the analysis text.
const MaxAnalysisRunes = 500

// Service produces judgments about a series of readings. Callers are expected
// to bound the payloads before calling; see Advisor.
type Service interface {
	// Name identifies the provider in stored insights and logs.
	Name() string

	// Analyze returns a short summary of the consumption with a
	// recommendation.
	Analyze(ctx context.Context, readings []types.Reading) (string, error)

	// DetectAnomaly judges whether the latest sample is abnormal compared to
	// the rest.
	DetectAnomaly(ctx context.Context, samples []types.PowerSample) (types.AnomalyResult, error)

	// Forecast projects the cost over the request's horizon.
	Forecast(ctx context.Context, req types.ForecastRequest) (types.Forecast, error)
}

// Configured sets up the insight Service based on flags.
func Configured() Service {
	provider := lflag.String("insights-provider", "heuristic", "Insight provider to use (available: gemini, heuristic)")
	apiKey := lflag.String("gemini-api-key", "", "API key for the Gemini API")
	model := lflag.String("gemini-model", "gemini-2.0-flash", "Gemini model used for insights")
	apiURL := lflag.String("gemini-api-url", "https://generativelanguage.googleapis.com", "Base URL for the Gemini API")
	timeout := lflag.Duration("gemini-timeout", 30*time.Second, "Timeout for a single Gemini request")

	var p struct{ Service }

	lflag.Do(func() {
		switch *provider {
		case "gemini":
			g := NewGemini(*apiURL, *apiKey, *model, *timeout)
			if err := g.Validate(); err != nil {
				panic(fmt.Sprintf("gemini validation failed: %v", err))
			}
			p.Service = g
		case "heuristic":
			p.Service = Heuristic{}
		default:
			panic(fmt.Sprintf("unknown insights provider: %s", *provider))
		}
	})

	return &p
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
