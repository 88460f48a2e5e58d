package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wattwatch/wattwatch/pkg/common"
	"github.com/wattwatch/wattwatch/pkg/log"
	"github.com/wattwatch/wattwatch/pkg/types"
)

const (
	analysisPrompt = `You are an energy efficiency analyst. Analyze the following consumption readings: %s
Your answer must be extremely concise and no longer than 500 characters in total.
Give a one sentence summary of the energy behavior, then one or two short practical recommendations to save energy.
Use a direct and friendly tone. Do not use lists, only short paragraphs.`

	anomalyPrompt = `You are an anomaly detection system for energy consumption. Analyze the following time series of power readings in watts.
An anomaly is either a sudden extreme spike that does not follow the general pattern, or a baseline (minimum) consumption that is significantly higher in the most recent readings than in older ones.

Readings: %s

Decide whether the most recent reading is an anomaly compared to the rest of the history.
- Compare the last reading with the mean and standard deviation of the rest of the data.
- A spike is anomalous if it is, for example, 3 times the mean of the readings.
- A raised baseline is anomalous if the last 3 readings are significantly higher than the mean of the 10 before them.

Respond only with JSON of the form {"isAnomaly": boolean, "reason": string}. When there is no anomaly, isAnomaly is false and reason is an empty string. Otherwise reason briefly explains the cause.`

	forecastPrompt = `You are a data analyst specialized in energy consumption projections. Predict the total cost at the end of a %d day period from these power readings and the price per kWh.

Historical readings (power in watts): %s
Price per kWh: %g

1. Integrate power over time (seconds) to get the total energy and convert watt-seconds to kWh (1 kWh = 3,600,000 watt-seconds).
2. Compute the length of the sampled period in days.
3. Compute the average daily consumption in kWh.
4. Project that daily average over %d days.
5. Multiply the projected kWh by the price.
Respond only with JSON of the form {"forecastedCost": number}. Do not include explanations.`
)

// Gemini implements Service on top of the Gemini generateContent REST API.
type Gemini struct {
	apiURL string
	apiKey string
	model  string
	client *http.Client
}

// NewGemini returns a Gemini client. apiURL is the base URL without the
// version path.
func NewGemini(apiURL, apiKey, model string, timeout time.Duration) *Gemini {
	return &Gemini{
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
		model:  model,
		client: common.HTTPClient(timeout),
	}
}

// Validate ensures the configuration is valid.
func (g *Gemini) Validate() error {
	if g.apiKey == "" {
		return errors.New("gemini-api-key is required")
	}
	if g.model == "" {
		return errors.New("gemini-model is required")
	}
	if _, err := url.Parse(g.apiURL); err != nil {
		return fmt.Errorf("failed to parse gemini url (%s): %w", g.apiURL, err)
	}
	return nil
}

func (g *Gemini) Name() string {
	return "gemini"
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	ResponseMIMEType string `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// generate sends a single prompt and returns the text of the first candidate.
func (g *Gemini) generate(ctx context.Context, prompt string, jsonOutput bool) (string, error) {
	body := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: prompt}},
		}},
	}
	if jsonOutput {
		body.GenerationConfig.ResponseMIMEType = "application/json"
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	u := g.apiURL + "/v1beta/models/" + url.PathEscape(g.model) + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to call gemini", slog.Any("error", err))
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// drain a bit of the body for the log line
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Ctx(ctx).WarnContext(
			ctx,
			"gemini returned an error",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(snippet)),
		)
		return "", fmt.Errorf("%w: gemini returned status: %d", ErrUnavailable, resp.StatusCode)
	}

	var data geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %w", ErrMalformedResponse, err)
	}
	if len(data.Candidates) == 0 || len(data.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrMalformedResponse)
	}
	var text strings.Builder
	for _, p := range data.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"gemini responded",
		slog.Duration("took", time.Since(start)),
		slog.Int("length", text.Len()),
	)
	return text.String(), nil
}

// stripFence removes a markdown code fence the model sometimes wraps JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Analyze implements Service.
func (g *Gemini) Analyze(ctx context.Context, readings []types.Reading) (string, error) {
	payload, err := json.Marshal(readings)
	if err != nil {
		return "", fmt.Errorf("failed to encode readings: %w", err)
	}
	text, err := g.generate(ctx, fmt.Sprintf(analysisPrompt, payload), false)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty analysis", ErrMalformedResponse)
	}
	return truncateRunes(text, MaxAnalysisRunes), nil
}

// DetectAnomaly implements Service.
func (g *Gemini) DetectAnomaly(ctx context.Context, samples []types.PowerSample) (types.AnomalyResult, error) {
	payload, err := json.Marshal(samples)
	if err != nil {
		return types.AnomalyResult{}, fmt.Errorf("failed to encode samples: %w", err)
	}
	text, err := g.generate(ctx, fmt.Sprintf(anomalyPrompt, payload), true)
	if err != nil {
		return types.AnomalyResult{}, err
	}

	var out struct {
		IsAnomaly *bool   `json:"isAnomaly"`
		Reason    *string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(stripFence(text)), &out); err != nil {
		return types.AnomalyResult{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if out.IsAnomaly == nil {
		return types.AnomalyResult{}, fmt.Errorf("%w: missing isAnomaly", ErrMalformedResponse)
	}
	res := types.AnomalyResult{IsAnomaly: *out.IsAnomaly}
	if res.IsAnomaly {
		if out.Reason == nil || strings.TrimSpace(*out.Reason) == "" {
			return types.AnomalyResult{}, fmt.Errorf("%w: anomaly without reason", ErrMalformedResponse)
		}
		res.Reason = strings.TrimSpace(*out.Reason)
	}
	return res, nil
}

// Forecast implements Service.
func (g *Gemini) Forecast(ctx context.Context, req types.ForecastRequest) (types.Forecast, error) {
	payload, err := json.Marshal(req.Readings)
	if err != nil {
		return types.Forecast{}, fmt.Errorf("failed to encode samples: %w", err)
	}
	days := req.Horizon()
	text, err := g.generate(ctx, fmt.Sprintf(forecastPrompt, days, payload, req.Rate, days), true)
	if err != nil {
		return types.Forecast{}, err
	}

	var out struct {
		ForecastedCost *float64 `json:"forecastedCost"`
	}
	if err := json.Unmarshal([]byte(stripFence(text)), &out); err != nil {
		return types.Forecast{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if out.ForecastedCost == nil {
		return types.Forecast{}, fmt.Errorf("%w: missing forecastedCost", ErrMalformedResponse)
	}
	cost := *out.ForecastedCost
	if math.IsNaN(cost) || math.IsInf(cost, 0) || cost < 0 {
		return types.Forecast{}, fmt.Errorf("%w: invalid forecastedCost: %v", ErrMalformedResponse, cost)
	}
	return types.Forecast{ForecastedCost: cost}, nil
}
