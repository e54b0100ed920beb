package observability

import (
	"context"
	"net/http"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "parley"

// Metrics collects engine metrics.
type Metrics struct {
	registry *prometheus.Registry

	nodeVisits      *prometheus.CounterVec
	sideEffects     *prometheus.HistogramVec
	sideEffectFails *prometheus.CounterVec
	turns           *prometheus.CounterVec
	turnDuration    prometheus.Histogram
	turnSteps       prometheus.Histogram
	triggers        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them, together with the Go
// runtime and process collectors, on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		nodeVisits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "node_visits_total",
			Help:      "Total number of node visits by node type.",
		}, []string{"node_type"}),
		sideEffects: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "side_effect_duration_seconds",
			Help:      "Duration of outbound side effects.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		sideEffectFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "side_effect_failures_total",
			Help:      "Total number of failed side effects.",
		}, []string{"kind"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "turns_total",
			Help:      "Total number of turns by resulting status.",
		}, []string{"status"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a turn including side effects.",
			Buckets:   prometheus.DefBuckets,
		}),
		turnSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "turn_steps",
			Help:      "Nodes processed per turn.",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "triggers_total",
			Help:      "Total number of trigger requests by outcome code.",
		}, []string{"code"}),
	}
	m.registry.MustRegister(
		m.nodeVisits, m.sideEffects, m.sideEffectFails,
		m.turns, m.turnDuration, m.turnSteps, m.triggers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTrigger counts a trigger response. Successful triggers use code "ok".
func (m *Metrics) ObserveTrigger(code string) {
	if code == "" {
		code = "ok"
	}
	m.triggers.WithLabelValues(code).Inc()
}

// Hooks returns lifecycle hooks feeding the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(_ context.Context, e *domain.NodeEvent) {
			m.nodeVisits.WithLabelValues(string(e.NodeType)).Inc()
		},
		OnSideEffect: func(_ context.Context, e *domain.SideEffectEvent) {
			m.sideEffects.WithLabelValues(e.Kind).Observe(e.Duration.Seconds())
			if e.IsError {
				m.sideEffectFails.WithLabelValues(e.Kind).Inc()
			}
		},
		OnTurnComplete: func(_ context.Context, e *domain.TurnEvent) {
			m.turns.WithLabelValues(string(e.Status)).Inc()
			m.turnDuration.Observe(e.Duration.Seconds())
			m.turnSteps.Observe(float64(e.Steps))
		},
	}
}
