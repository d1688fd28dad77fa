package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "odin"

// Metrics holds the Prometheus collectors for the server.
//
// It also implements scheduler.Observer so that periodic updates are
// counted alongside requests.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	timeouts        *prometheus.CounterVec
	updates         *prometheus.CounterVec
	updateDuration  *prometheus.HistogramVec
	wsClients       prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry, together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Adapter requests by adapter, method and status code",
			},
			[]string{"adapter", "method", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Time to answer adapter requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"adapter", "method"},
		),
		timeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "api",
				Name:      "dispatch_timeouts_total",
				Help:      "Requests answered with 504 while the adapter kept working",
			},
			[]string{"adapter"},
		),
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "scheduler",
				Name:      "updates_total",
				Help:      "Periodic adapter updates by result",
			},
			[]string{"adapter", "result"},
		),
		updateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "scheduler",
				Name:      "update_duration_seconds",
				Help:      "Time spent in periodic adapter updates",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"adapter"},
		),
		wsClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "websocket",
				Name:      "clients",
				Help:      "Connected WebSocket clients",
			},
		),
	}

	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.timeouts,
		m.updates,
		m.updateDuration,
		m.wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one adapter request.
func (m *Metrics) ObserveRequest(adapterName, method string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(adapterName, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(adapterName, method).Observe(elapsed.Seconds())
	if status == http.StatusGatewayTimeout {
		m.timeouts.WithLabelValues(adapterName).Inc()
	}
}

// ObserveUpdate records one periodic update.
func (m *Metrics) ObserveUpdate(adapterName string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.updates.WithLabelValues(adapterName, result).Inc()
	m.updateDuration.WithLabelValues(adapterName).Observe(elapsed.Seconds())
}

// SetWSClients records the number of connected WebSocket clients.
func (m *Metrics) SetWSClients(n int) {
	m.wsClients.Set(float64(n))
}
