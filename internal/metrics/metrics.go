// Package metrics exposes Prometheus metrics for the interceptor chain.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the chain's Prometheus collectors.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	shortCircuits   *prometheus.CounterVec
	panicsTotal     prometheus.Counter

	registry *prometheus.Registry
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqguard_requests_total",
				Help: "Total number of requests by resolved status code",
			},
			[]string{"method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reqguard_request_duration_seconds",
				Help:    "Time spent inside the interceptor chain",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		shortCircuits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqguard_short_circuits_total",
				Help: "Requests rejected by an interceptor before reaching the handler",
			},
			[]string{"interceptor", "status"},
		),
		panicsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reqguard_panics_total",
				Help: "Panics recovered inside the interceptor chain",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.shortCircuits,
		m.panicsTotal,
	)

	return m
}

// ObserveRequest records a completed request.
func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveShortCircuit records a request rejected by the named interceptor.
func (m *Metrics) ObserveShortCircuit(interceptor string, status int) {
	if m == nil {
		return
	}
	m.shortCircuits.WithLabelValues(interceptor, strconv.Itoa(status)).Inc()
}

// ObservePanic records a recovered panic.
func (m *Metrics) ObservePanic() {
	if m == nil {
		return
	}
	m.panicsTotal.Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
