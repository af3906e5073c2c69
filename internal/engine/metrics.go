package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/climateandtech/carbonara-sub000/internal/tools"
)

type metrics struct {
	registry        *prometheus.Registry
	probes          *prometheus.CounterVec
	installs        *prometheus.CounterVec
	executions      *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	usable          prometheus.Gauge
	catalogSize     prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carbonara",
			Name:      "detections_total",
			Help:      "Tool detections by aggregate probe result.",
		}, []string{"tool", "result"}),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carbonara",
			Name:      "installs_total",
			Help:      "Tool installations by outcome.",
		}, []string{"tool", "outcome"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carbonara",
			Name:      "execution_reports_total",
			Help:      "Reported tool runs by outcome.",
		}, []string{"tool", "outcome"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "carbonara",
			Name:      "refresh_duration_seconds",
			Help:      "Time to detect every tool in the registry.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		usable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "carbonara",
			Name:      "tools_usable",
			Help:      "Tools usable after the last refresh.",
		}),
		catalogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "carbonara",
			Name:      "registry_tools",
			Help:      "Tools in the loaded registry.",
		}),
	}
	m.registry.MustRegister(m.probes, m.installs, m.executions, m.refreshDuration, m.usable, m.catalogSize)
	return m
}

func (m *metrics) observeProbe(id string, live tools.LiveStatus) {
	m.probes.WithLabelValues(id, string(live.Result)).Inc()
}

// Metrics returns the registry holding the engine's collectors.
func (e *Engine) Metrics() *prometheus.Registry { return e.metrics.registry }
