package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for insight requests.
const (
	OutcomeOK           = "ok"
	OutcomeInsufficient = "insufficient_data"
	OutcomeUnavailable  = "unavailable"
	OutcomeMalformed    = "malformed"
	OutcomeBusy         = "busy"
	OutcomeError        = "error"
)

var (
	insightRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wattwatch_insight_requests_total",
			Help: "Insight requests by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	insightDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wattwatch_insight_duration_seconds",
			Help:    "Time spent waiting on the insight provider",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)

	readingsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wattwatch_readings_received_total",
			Help: "Telemetry readings received by source",
		},
		[]string{"source"},
	)

	feedReadings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wattwatch_feed_readings",
			Help: "Readings currently held in the live window",
		},
	)

	feedPowerW = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wattwatch_feed_power_watts",
			Help: "Most recent power reading",
		},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wattwatch_http_requests_total",
			Help: "HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wattwatch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

// RecordInsight records the outcome of one insight request.
func RecordInsight(kind, outcome string, d time.Duration) {
	insightRequests.WithLabelValues(kind, outcome).Inc()
	if outcome == OutcomeOK || outcome == OutcomeUnavailable || outcome == OutcomeMalformed {
		insightDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// RecordReadings records n readings received from source.
func RecordReadings(source string, n int) {
	readingsReceived.WithLabelValues(source).Add(float64(n))
}

// SetFeed records the size of the live window and its latest power.
func SetFeed(n int, latestPowerW float64) {
	feedReadings.Set(float64(n))
	feedPowerW.Set(latestPowerW)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Middleware records request counts and latency labeled by the matched
// ServeMux pattern so that path values don't explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).Inc()
		httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
