package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "punchliner"

// Metrics holds the service collectors on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	tasksStarted     *prometheus.CounterVec
	tasksFinished    *prometheus.CounterVec
	tasksActive      prometheus.Gauge
	cacheLookups     *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	subscribers      prometheus.Gauge
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasksStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_started_total",
			Help:      "Generation tasks created, by kind.",
		}, []string{"kind"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Generation tasks that reached a terminal status.",
		}, []string{"kind", "status"}),
		tasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_active",
			Help:      "Generation tasks not yet terminal.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_cache_lookups_total",
			Help:      "Artifact cache lookups, by kind and result.",
		}, []string{"kind", "result"}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Outbound provider calls, by provider, operation and outcome.",
		}, []string{"provider", "op", "outcome"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_subscribers",
			Help:      "Open task event subscriptions.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tasksStarted,
		m.tasksFinished,
		m.tasksActive,
		m.cacheLookups,
		m.providerRequests,
		m.subscribers,
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) TaskStarted(kind string) {
	if m == nil {
		return
	}
	m.tasksStarted.WithLabelValues(kind).Inc()
	m.tasksActive.Inc()
}

func (m *Metrics) TaskFinished(kind, status string) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(kind, status).Inc()
	m.tasksActive.Dec()
}

func (m *Metrics) CacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ProviderRequest(provider, op, outcome string) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(provider, op, outcome).Inc()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}
