package prometheus

import (
	"time"

	"github.com/marmos91/atipioc/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// pvwireMetrics is the Prometheus implementation of metrics.PVWireMetrics.
type pvwireMetrics struct {
	requestsTotal          *prometheus.CounterVec
	requestDuration        *prometheus.HistogramVec
	requestsInFlight       *prometheus.GaugeVec
	rateLimited            prometheus.Counter
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
}

// NewPVWireMetrics creates a Prometheus-backed PVWireMetrics.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewPVWireMetrics() metrics.PVWireMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopPVWireMetrics()
	}

	reg := metrics.GetRegistry()

	return &pvwireMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "atipioc_pvwire_requests_total",
				Help: "Total number of pvwire requests by operation and status",
			},
			[]string{"op", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "atipioc_pvwire_request_duration_milliseconds",
				Help: "Duration of pvwire requests in milliseconds",
				Buckets: []float64{
					0.1, // 100us
					1,   // 1ms
					10,  // 10ms
					100, // 100ms
					1000,
				},
			},
			[]string{"op"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "atipioc_pvwire_requests_in_flight",
				Help: "Current number of pvwire requests being processed",
			},
			[]string{"op"},
		),
		rateLimited: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "atipioc_pvwire_rate_limited_total",
				Help: "Total number of pvwire requests rejected by the rate limiter",
			},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "atipioc_pvwire_active_connections",
				Help: "Current number of active pvwire connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "atipioc_pvwire_connections_accepted_total",
				Help: "Total number of pvwire connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "atipioc_pvwire_connections_closed_total",
				Help: "Total number of pvwire connections closed",
			},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "atipioc_pvwire_connections_force_closed_total",
				Help: "Total number of pvwire connections force-closed during shutdown timeout",
			},
		),
	}
}

func (m *pvwireMetrics) RecordRequest(op string, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(op, status).Inc()
	m.requestDuration.WithLabelValues(op).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *pvwireMetrics) RecordRequestStart(op string) {
	m.requestsInFlight.WithLabelValues(op).Inc()
}

func (m *pvwireMetrics) RecordRequestEnd(op string) {
	m.requestsInFlight.WithLabelValues(op).Dec()
}

func (m *pvwireMetrics) RecordRateLimited() {
	m.rateLimited.Inc()
}

func (m *pvwireMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *pvwireMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *pvwireMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *pvwireMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}
