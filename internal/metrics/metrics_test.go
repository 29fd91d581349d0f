package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncIndexed()
	m.IncChunkFailure("embed")
	m.AddGroundingViolations(2)
	m.IncAnswer("answered")
	assert.NotNil(t, m.Handler())
}

func TestCountersRecord(t *testing.T) {
	m := New()
	m.IncIndexed()
	m.IncIndexed()
	m.IncChunkFailure("upsert")
	m.AddGroundingViolations(3)
	m.IncNormalized(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChunksIndexed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunkFailures.WithLabelValues("upsert")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.GroundingViolations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrialsNormalized.WithLabelValues("rejected")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New()
	h := m.Middleware(func(r *http.Request) string { return "/ask" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/ask", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/ask", "418")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "trialwhisperer_http_requests_total"))
}
