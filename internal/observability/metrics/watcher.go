package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WatcherMetrics instruments C2's filesystem observer.
type WatcherMetrics struct {
	registry *prometheus.Registry

	eventsTotal     *prometheus.CounterVec
	debounceSeconds prometheus.Histogram
	watchedDirs     prometheus.Gauge
	healthy         prometheus.Gauge
}

func NewWatcherMetrics(service string) *WatcherMetrics {
	registry := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repowatch",
			Subsystem: "watcher",
			Name:      "events_total",
			Help:      "Total filesystem events observed, by kind.",
		},
		[]string{"service", "kind"},
	)
	debounceSeconds := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "repowatch",
			Subsystem: "watcher",
			Name:      "debounce_seconds",
			Help:      "Time between a directory's first raw event and its settled emission.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 3, 5, 10, 30},
		},
	)
	watchedDirs := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "repowatch",
			Subsystem:   "watcher",
			Name:        "watched_directories",
			Help:        "Number of directories currently under watch.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	healthy := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "repowatch",
			Subsystem:   "watcher",
			Name:        "healthy",
			Help:        "1 if the observer has not exceeded its permission-error threshold.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)

	registry.MustRegister(eventsTotal, debounceSeconds, watchedDirs, healthy)

	return &WatcherMetrics{
		registry:        registry,
		eventsTotal:     eventsTotal,
		debounceSeconds: debounceSeconds,
		watchedDirs:     watchedDirs,
		healthy:         healthy,
	}
}

func (m *WatcherMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WatcherMetrics) RecordEvent(service, kind string) {
	m.eventsTotal.WithLabelValues(service, kind).Inc()
}

func (m *WatcherMetrics) ObserveDebounce(seconds float64) {
	m.debounceSeconds.Observe(seconds)
}

func (m *WatcherMetrics) SetWatchedDirectories(n int) {
	m.watchedDirs.Set(float64(n))
}

func (m *WatcherMetrics) SetHealthy(healthy bool) {
	if healthy {
		m.healthy.Set(1)
		return
	}
	m.healthy.Set(0)
}
