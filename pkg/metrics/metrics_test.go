package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordInsight(t *testing.T) {
	before := testutil.ToFloat64(insightRequests.WithLabelValues("forecast", OutcomeOK))
	RecordInsight("forecast", OutcomeOK, 250*time.Millisecond)
	RecordInsight("forecast", OutcomeOK, time.Second)
	assert.Equal(t, before+2, testutil.ToFloat64(insightRequests.WithLabelValues("forecast", OutcomeOK)))

	before = testutil.ToFloat64(insightRequests.WithLabelValues("anomaly", OutcomeInsufficient))
	RecordInsight("anomaly", OutcomeInsufficient, 0)
	assert.Equal(t, before+1, testutil.ToFloat64(insightRequests.WithLabelValues("anomaly", OutcomeInsufficient)))
}

func TestRecordReadingsAndFeed(t *testing.T) {
	before := testutil.ToFloat64(readingsReceived.WithLabelValues("realtime"))
	RecordReadings("realtime", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(readingsReceived.WithLabelValues("realtime")))

	SetFeed(42, 180.5)
	assert.Equal(t, 42.0, testutil.ToFloat64(feedReadings))
	assert.Equal(t, 180.5, testutil.ToFloat64(feedPowerW))
}

func TestMiddleware(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Middleware(mux)

	counter := httpRequests.WithLabelValues("GET /api/devices/{id}", http.MethodGet, "418")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/devices/"+id, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}
