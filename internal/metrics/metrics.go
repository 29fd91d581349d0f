// Package metrics defines the Prometheus collectors for ingestion, retrieval and answering.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ChunksIndexed       prometheus.Counter
	ChunkFailures       *prometheus.CounterVec
	TrialsNormalized    *prometheus.CounterVec
	RetrievalDuration   prometheus.Histogram
	Answers             *prometheus.CounterVec
	GroundingViolations prometheus.Counter
	Eligibility         *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ChunksIndexed: f.NewCounter(prometheus.CounterOpts{
			Name: "trialwhisperer_chunks_indexed_total",
			Help: "Chunks embedded and upserted into the vector store",
		}),
		ChunkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trialwhisperer_chunk_failures_total",
			Help: "Chunks that failed indexing, by stage",
		}, []string{"stage"}),
		TrialsNormalized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trialwhisperer_trials_normalized_total",
			Help: "Raw records processed by the normalizer, by result",
		}, []string{"result"}),
		RetrievalDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trialwhisperer_retrieval_duration_seconds",
			Help:    "Retrieval latency including query embedding",
			Buckets: prometheus.DefBuckets,
		}),
		Answers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trialwhisperer_answers_total",
			Help: "Answers produced, by status",
		}, []string{"status"}),
		GroundingViolations: f.NewCounter(prometheus.CounterOpts{
			Name: "trialwhisperer_grounding_violations_total",
			Help: "Citations dropped because they referenced text outside the retrieved set",
		}),
		Eligibility: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trialwhisperer_eligibility_assessments_total",
			Help: "Eligibility assessments, by verdict",
		}, []string{"status"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trialwhisperer_http_requests_total",
			Help: "HTTP requests, by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trialwhisperer_http_request_duration_seconds",
			Help:    "HTTP request latency, by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registry exposes the underlying registry, for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncIndexed() {
	if m != nil {
		m.ChunksIndexed.Inc()
	}
}

func (m *Metrics) IncChunkFailure(stage string) {
	if m != nil {
		m.ChunkFailures.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) IncNormalized(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "rejected"
	}
	m.TrialsNormalized.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRetrieval(d time.Duration) {
	if m != nil {
		m.RetrievalDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncAnswer(status string) {
	if m != nil {
		m.Answers.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) AddGroundingViolations(n int) {
	if m != nil && n > 0 {
		m.GroundingViolations.Add(float64(n))
	}
}

func (m *Metrics) IncEligibility(status string) {
	if m != nil {
		m.Eligibility.WithLabelValues(status).Inc()
	}
}

// Middleware records request counts and latency under routeName.
func (m *Metrics) Middleware(routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := routeName(r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
			m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}
