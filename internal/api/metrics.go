package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/rdlistings/internal/analysis"
	"github.com/kalambet/rdlistings/internal/rdd"
)

// Run outcomes recorded by Metrics.ObserveRun.
const (
	OutcomeEstimated        = "estimated"
	OutcomeEarlyExit        = "early_exit"
	OutcomeInvalid          = "invalid"
	OutcomeInsufficientData = "insufficient_data"
	OutcomeCancelled        = "cancelled"
	OutcomeError            = "error"
)

// Metrics holds the Prometheus collectors of one server. Each instance owns
// its registry, so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry
	runs     *prometheus.CounterVec
	duration prometheus.Histogram
	retained prometheus.Histogram
	requests *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rdlistings",
			Name:      "analysis_runs_total",
			Help:      "Analysis runs by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rdlistings",
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of analysis runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		retained: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rdlistings",
			Name:      "analysis_retained_observations",
			Help:      "Observations kept after cleaning, per estimated run.",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rdlistings",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
	}
	m.registry.MustRegister(
		m.runs, m.duration, m.retained, m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRun records one analysis run and returns its outcome label.
func (m *Metrics) ObserveRun(res *analysis.Result, err error, elapsed time.Duration) string {
	outcome := runOutcome(res, err)
	m.runs.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
	if outcome == OutcomeEstimated {
		m.retained.Observe(float64(res.Clean.Retained))
	}
	return outcome
}

func runOutcome(res *analysis.Result, err error) string {
	switch {
	case err == nil && res.EarlyExit():
		return OutcomeEarlyExit
	case err == nil:
		return OutcomeEstimated
	case errors.Is(err, analysis.ErrInvalidParams):
		return OutcomeInvalid
	case errors.Is(err, rdd.ErrInsufficientData):
		return OutcomeInsufficientData
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}

// instrument counts requests by their chi route pattern.
func (m *Metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	})
}
