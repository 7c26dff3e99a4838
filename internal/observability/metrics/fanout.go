package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FanoutMetrics instruments C11's realtime broadcaster.
type FanoutMetrics struct {
	registry *prometheus.Registry

	connectedClients prometheus.Gauge
	eventsSentTotal  *prometheus.CounterVec
	dropsTotal       *prometheus.CounterVec
}

func NewFanoutMetrics(service string) *FanoutMetrics {
	registry := prometheus.NewRegistry()

	connectedClients := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "repowatch",
			Subsystem:   "realtime",
			Name:        "connected_clients",
			Help:        "Number of currently connected realtime clients.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	eventsSentTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repowatch",
			Subsystem: "realtime",
			Name:      "events_sent_total",
			Help:      "Total events delivered to connected clients, by type.",
		},
		[]string{"service", "type"},
	)
	dropsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repowatch",
			Subsystem: "realtime",
			Name:      "client_drops_total",
			Help:      "Total clients dropped due to a failed send.",
		},
		[]string{"service"},
	)

	registry.MustRegister(connectedClients, eventsSentTotal, dropsTotal)

	return &FanoutMetrics{
		registry:         registry,
		connectedClients: connectedClients,
		eventsSentTotal:  eventsSentTotal,
		dropsTotal:       dropsTotal,
	}
}

func (m *FanoutMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *FanoutMetrics) SetConnectedClients(n int) {
	m.connectedClients.Set(float64(n))
}

func (m *FanoutMetrics) RecordEventSent(service, eventType string) {
	m.eventsSentTotal.WithLabelValues(service, eventType).Inc()
}

func (m *FanoutMetrics) RecordClientDrop(service string) {
	m.dropsTotal.WithLabelValues(service).Inc()
}
