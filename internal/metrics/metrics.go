// Package metrics exposes Prometheus collectors for classification and verification.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/model"
)

const namespace = "hscode"

// Metrics holds the application's collectors on a private registry.
// It satisfies engine.Recorder and verification.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	operationTotal    *prometheus.CounterVec
	converged         *prometheus.CounterVec
	finalized         *prometheus.CounterVec
	verifications     *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
}

// New creates and registers all collectors, including Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of classification and verification operations",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"operation"},
		),
		operationTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Operations by result",
			},
			[]string{"operation", "result"},
		),
		converged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_converged_total",
				Help:      "Classification sessions that converged, by reason",
			},
			[]string{"reason"},
		),
		finalized: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "products_finalized_total",
				Help:      "Finalized products by status",
			},
			[]string{"status"},
		),
		verifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verifications_finished_total",
				Help:      "Verification calls that reached a terminal status",
			},
			[]string{"status", "outcome"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "method", "code"},
		),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation records an operation's duration and result.
func (m *Metrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	m.operationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	m.operationTotal.WithLabelValues(op, Result(err)).Inc()
}

// SessionConverged counts a converged session.
func (m *Metrics) SessionConverged(reason string) {
	m.converged.WithLabelValues(reason).Inc()
}

// SessionFinalized counts a finalized product.
func (m *Metrics) SessionFinalized(status model.ProductStatus) {
	m.finalized.WithLabelValues(string(status)).Inc()
}

// VerificationFinished counts a verification that reached a terminal status.
func (m *Metrics) VerificationFinished(status model.VerificationStatus, outcome model.VerificationOutcome) {
	label := string(outcome)
	if label == "" {
		label = "none"
	}
	m.verifications.WithLabelValues(string(status), label).Inc()
}

// ObserveHTTP counts one HTTP request.
func (m *Metrics) ObserveHTTP(route, method string, code int) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}

// Result maps an error to a low-cardinality label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrValidation):
		return "validation"
	case errors.Is(err, common.ErrNotFound):
		return "not_found"
	case errors.Is(err, common.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, common.ErrUpstream):
		return "upstream"
	default:
		return "error"
	}
}
