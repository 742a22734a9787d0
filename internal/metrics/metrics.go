// Package metrics exposes orchestrator and registry state as Prometheus
// gauges/counters, scraped at the CLI's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stacksupervisor/stacksupervisor/internal/model"
	"github.com/stacksupervisor/stacksupervisor/internal/registry"
)

// Registry wraps a dedicated prometheus.Registerer so a host process can
// run multiple stacksupervisor instances without metric name collisions.
type Registry struct {
	reg *prometheus.Registry

	servicesByState *prometheus.GaugeVec
	healthFailures  *prometheus.CounterVec
	stateChanges    *prometheus.CounterVec
}

// New creates a metrics registry and registers its collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		servicesByState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stacksupervisor",
			Name:      "services_in_state",
			Help:      "Number of registered services currently in each state.",
		}, []string{"state"}),
		healthFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "stacksupervisor",
			Name:      "health_check_failures_total",
			Help:      "Total health check probe failures, by service.",
		}, []string{"service"}),
		stateChanges: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "stacksupervisor",
			Name:      "service_state_changes_total",
			Help:      "Total service state transitions, by resulting state.",
		}, []string{"state"}),
	}
	return m
}

// Registerer exposes the underlying prometheus.Registerer for a promhttp
// handler to serve.
func (m *Registry) Registerer() *prometheus.Registry { return m.reg }

// ObserveStateChange increments the transition counter only; it does not
// touch the services_in_state gauge. Call RefreshCounts after mutating a
// registry to keep the gauge current.
func (m *Registry) ObserveStateChange(newState model.ServiceState) {
	m.stateChanges.WithLabelValues(string(newState)).Inc()
}

// ObserveHealthFailure increments the per-service failure counter.
func (m *Registry) ObserveHealthFailure(service string) {
	m.healthFailures.WithLabelValues(service).Inc()
}

// RefreshCounts recomputes the services_in_state gauge from a live
// registry snapshot.
func (m *Registry) RefreshCounts(reg *registry.Registry) {
	counts := map[model.ServiceState]int{}
	for _, entry := range reg.List() {
		counts[entry.State]++
	}
	for _, state := range []model.ServiceState{
		model.StateRegistered, model.StateStarting, model.StateRunning,
		model.StateStopping, model.StateStopped, model.StateFailed,
	} {
		m.servicesByState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
