package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/keronhq/keron/internal/manifest"
)

// Metrics is an in-process Prometheus registry collecting per-run counters.
// Keron is a one-shot CLI, not a daemon, so there is no HTTP server here —
// the registry's values are read back once at completion and folded into
// the JSON reporter's "metrics" block.
type Metrics struct {
	registry *prometheus.Registry

	opsByClassification *prometheus.CounterVec
	opsByKind           *prometheus.CounterVec
	outcomesByStatus    *prometheus.CounterVec
}

// NewMetrics returns a Metrics collector with all counters registered.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		opsByClassification: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keron",
			Name:      "plan_ops_by_classification_total",
			Help:      "Total number of plan ops by classification",
		}, []string{"classification"}),
		opsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keron",
			Name:      "plan_ops_by_kind_total",
			Help:      "Total number of plan ops by kind",
		}, []string{"kind"}),
		outcomesByStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keron",
			Name:      "apply_outcomes_by_status_total",
			Help:      "Total number of apply outcomes by status",
		}, []string{"status"}),
	}

	registry.MustRegister(m.opsByClassification, m.opsByKind, m.outcomesByStatus)
	return m
}

// ObservePlan records one counter increment per op in plan.
func (m *Metrics) ObservePlan(plan *manifest.Plan) {
	for _, op := range plan.Ops {
		m.opsByClassification.WithLabelValues(string(op.Classification)).Inc()
		m.opsByKind.WithLabelValues(string(op.Kind)).Inc()
	}
}

// ObserveApply records one counter increment per outcome in result.
func (m *Metrics) ObserveApply(result *manifest.ApplyResult) {
	for _, outcome := range result.Outcomes {
		m.outcomesByStatus.WithLabelValues(string(outcome.Status)).Inc()
	}
}

// Snapshot gathers the current counter values into a flat map suitable
// for the JSON reporter's "metrics" block.
func (m *Metrics) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	families, err := m.registry.Gather()
	if err != nil {
		return out
	}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			key := family.GetName()
			for _, label := range metric.GetLabel() {
				key += "{" + label.GetName() + "=" + label.GetValue() + "}"
			}
			out[key] = metric.GetCounter().GetValue()
		}
	}
	return out
}
