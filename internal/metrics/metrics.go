// Package metrics holds the Prometheus collectors for the ingestion and
// notification pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "logwatch"

type Metrics struct {
	registry *prometheus.Registry

	lines          *prometheus.CounterVec
	matches        *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	updatePolls    *prometheus.CounterVec
	tailersRunning prometheus.Gauge
}

// New registers the collectors on a private registry, so the Go runtime
// collectors of the default registry are not exported.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_total",
			Help:      "Log lines read per container.",
		}, []string{"container"}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Log lines that matched a keyword or success pattern.",
		}, []string{"container", "rule"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification delivery attempts by outcome.",
		}, []string{"status"}),
		updatePolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_polls_total",
			Help:      "Polls of the chat update feed by outcome.",
		}, []string{"result"}),
		tailersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tailers_running",
			Help:      "Container log streams currently followed.",
		}),
	}
	m.registry.MustRegister(m.lines, m.matches, m.notifications, m.updatePolls, m.tailersRunning)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) LineRead(container string) {
	if m == nil {
		return
	}
	m.lines.WithLabelValues(container).Inc()
}

func (m *Metrics) Matched(container, rule string) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(container, rule).Inc()
}

func (m *Metrics) Notified(status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(status).Inc()
}

func (m *Metrics) Polled(result string) {
	if m == nil {
		return
	}
	m.updatePolls.WithLabelValues(result).Inc()
}

func (m *Metrics) TailerStarted() {
	if m == nil {
		return
	}
	m.tailersRunning.Inc()
}

func (m *Metrics) TailerStopped() {
	if m == nil {
		return
	}
	m.tailersRunning.Dec()
}
