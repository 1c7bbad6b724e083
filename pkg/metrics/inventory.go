package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Alert evaluation outcomes.
const (
	AlertOutcomeCreated      = "created"
	AlertOutcomeEscalated    = "escalated"
	AlertOutcomeDeduplicated = "deduplicated"
	AlertOutcomeSkipped      = "skipped"
)

// InventoryMetrics counts stock mutations and their outcomes. The zero value and
// a nil pointer are both safe no-op recorders.
type InventoryMetrics struct {
	sales        prometheus.Counter
	unitsSold    prometheus.Counter
	rejections   *prometheus.CounterVec
	transfers    *prometheus.CounterVec
	alerts       *prometheus.CounterVec
	conflicts    *prometheus.CounterVec
	evalFailures prometheus.Counter
}

// NewInventoryMetrics registers the inventory counters on reg.
func NewInventoryMetrics(reg prometheus.Registerer) *InventoryMetrics {
	if reg == nil {
		return &InventoryMetrics{}
	}
	m := &InventoryMetrics{
		sales: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_recorded_total",
			Help:      "Sales committed.",
		}),
		unitsSold: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_sold_total",
			Help:      "Units debited by committed sales.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_mutation_rejections_total",
			Help:      "Stock mutations rejected, by error code.",
		}, []string{"operation", "code"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_transitions_total",
			Help:      "Transfer state transitions, by action.",
		}, []string{"action"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_evaluations_total",
			Help:      "Alert evaluations, by outcome and severity.",
		}, []string{"outcome", "severity"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_conflicts_total",
			Help:      "Transactions retried after a write conflict.",
		}, []string{"operation"}),
		evalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_evaluation_failures_total",
			Help:      "Post-commit alert evaluations that failed.",
		}),
	}
	reg.MustRegister(m.sales, m.unitsSold, m.rejections, m.transfers, m.alerts, m.conflicts, m.evalFailures)
	return m
}

// SaleRecorded counts one committed sale and its units.
func (m *InventoryMetrics) SaleRecorded(units int) {
	if m == nil || m.sales == nil {
		return
	}
	m.sales.Inc()
	if units > 0 {
		m.unitsSold.Add(float64(units))
	}
}

// Rejected counts a refused mutation by error code.
func (m *InventoryMetrics) Rejected(operation, code string) {
	if m == nil || m.rejections == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(operation), normalizeLabel(code)).Inc()
}

// TransferTransition counts a committed transfer action.
func (m *InventoryMetrics) TransferTransition(action string) {
	if m == nil || m.transfers == nil {
		return
	}
	m.transfers.WithLabelValues(normalizeLabel(action)).Inc()
}

// AlertEvaluated counts an evaluation outcome.
func (m *InventoryMetrics) AlertEvaluated(outcome, severity string) {
	if m == nil || m.alerts == nil {
		return
	}
	if severity == "" {
		severity = "none"
	}
	m.alerts.WithLabelValues(normalizeLabel(outcome), severity).Inc()
}

// ConflictRetried counts a retried write conflict.
func (m *InventoryMetrics) ConflictRetried(operation string) {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.WithLabelValues(normalizeLabel(operation)).Inc()
}

// EvaluationFailed counts a failed post-commit evaluation.
func (m *InventoryMetrics) EvaluationFailed() {
	if m == nil || m.evalFailures == nil {
		return
	}
	m.evalFailures.Inc()
}
