package prometheus

import (
	"time"

	"github.com/marmos91/atipioc/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type startupMetrics struct {
	stageDuration *prometheus.GaugeVec
	stageFailures *prometheus.CounterVec
	ringMode      *prometheus.GaugeVec
}

// NewStartupMetrics creates a Prometheus-backed StartupMetrics.
func NewStartupMetrics() metrics.StartupMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopStartupMetrics()
	}

	reg := metrics.GetRegistry()

	return &startupMetrics{
		stageDuration: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "atipioc_startup_stage_duration_seconds",
				Help: "Time spent in each startup stage",
			},
			[]string{"stage"},
		),
		stageFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "atipioc_startup_stage_failures_total",
				Help: "Startup stages that returned an error",
			},
			[]string{"stage"},
		),
		ringMode: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "atipioc_ring_mode_info",
				Help: "Resolved ring mode (always 1) labelled by mode and source",
			},
			[]string{"mode", "source"},
		),
	}
}

func (m *startupMetrics) RecordStage(stage string, duration time.Duration, err error) {
	m.stageDuration.WithLabelValues(stage).Set(duration.Seconds())
	if err != nil {
		m.stageFailures.WithLabelValues(stage).Inc()
	}
}

func (m *startupMetrics) SetRingMode(mode string, source string) {
	m.ringMode.Reset()
	m.ringMode.WithLabelValues(mode, source).Set(1)
}

type mirrorMetrics struct {
	updates      *prometheus.CounterVec
	cycleSeconds prometheus.Histogram
	autosaves    *prometheus.CounterVec
}

// NewMirrorMetrics creates a Prometheus-backed MirrorMetrics.
func NewMirrorMetrics() metrics.MirrorMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopMirrorMetrics()
	}

	reg := metrics.GetRegistry()

	return &mirrorMetrics{
		updates: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "atipioc_mirror_updates_total",
				Help: "Mirror outputs recomputed, by mirror type and status",
			},
			[]string{"type", "status"},
		),
		cycleSeconds: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "atipioc_mirror_cycle_duration_seconds",
				Help:    "Duration of one pass over all mirrors",
				Buckets: prometheus.ExponentialBuckets(0.0001, 10, 6),
			},
		),
		autosaves: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "atipioc_autosave_writes_total",
				Help: "Autosave writes by status",
			},
			[]string{"status"},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *mirrorMetrics) RecordMirrorUpdate(mirrorType string, err error) {
	m.updates.WithLabelValues(mirrorType, status(err)).Inc()
}

func (m *mirrorMetrics) RecordMonitorCycle(duration time.Duration) {
	m.cycleSeconds.Observe(duration.Seconds())
}

func (m *mirrorMetrics) RecordAutosave(err error) {
	m.autosaves.WithLabelValues(status(err)).Inc()
}
