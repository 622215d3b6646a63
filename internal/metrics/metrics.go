package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certdao/internal/registry"
)

// Metrics provides observability for registry operations.
// Each operation is counted by outcome and timed.
type Metrics struct {
	registry   *prometheus.Registry
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Alerts     prometheus.Counter
}

// New creates a Metrics instance on its own prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certdao_operations_total",
			Help: "Registry operations by outcome",
		}, []string{"operation", "result"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certdao_operation_duration_seconds",
			Help:    "Duration of registry operations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		Alerts: factory.NewCounter(prometheus.CounterOpts{
			Name: "certdao_expiry_alerts_total",
			Help: "Expiry alerts sent by the monitor",
		}),
	}
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// Observe records one operation; result is "ok" or the rejection code.
func (m *Metrics) Observe(operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = registry.Code(err)
	}
	m.Operations.WithLabelValues(operation, result).Inc()
	m.Duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// IncrementAlerts records a sent expiry alert.
func (m *Metrics) IncrementAlerts() {
	m.Alerts.Inc()
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
