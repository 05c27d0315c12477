package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/solatis/rulekeeper/internal/types"
)

// Metrics holds Prometheus metrics for engine runs. A nil *Metrics disables
// recording; every method is nil-safe.
type Metrics struct {
	ruleEvaluations *prometheus.CounterVec   // by module and result
	actions         *prometheus.CounterVec   // by action type and status
	actionDuration  *prometheus.HistogramVec // by action type
	runDuration     prometheus.Histogram
}

// Rule evaluation results recorded by Metrics.
const (
	resultMatched   = "matched"
	resultUnmatched = "unmatched"
	resultError     = "error"
)

// NewMetrics creates and registers engine metrics with reg.
// Returns nil, nil for a nil registerer (metrics disabled).
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		ruleEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rulekeeper",
			Subsystem: "engine",
			Name:      "rule_evaluations_total",
			Help:      "Rule evaluations by module and result (matched, unmatched, error)",
		}, []string{"module", "result"}),

		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rulekeeper",
			Subsystem: "engine",
			Name:      "actions_total",
			Help:      "Action dispatches by type and status",
		}, []string{"type", "status"}),

		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rulekeeper",
			Subsystem: "engine",
			Name:      "action_duration_seconds",
			Help:      "Action dispatch duration including retries",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5, 5, 10, 30},
		}, []string{"type"}),

		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rulekeeper",
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Duration of one trigger event across all selected rules",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{m.ruleEvaluations, m.actions, m.actionDuration, m.runDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordEntry(entry *types.ExecutionLogEntry) {
	if m == nil {
		return
	}
	result := resultUnmatched
	switch {
	case entry.Err != nil && !entry.Matched:
		result = resultError
	case entry.Matched:
		result = resultMatched
	}
	m.ruleEvaluations.WithLabelValues(string(entry.Module), result).Inc()

	for _, r := range entry.ActionResults {
		m.actions.WithLabelValues(string(r.ActionType), string(r.Status)).Inc()
		if r.Status != types.ActionSkipped {
			m.actionDuration.WithLabelValues(string(r.ActionType)).Observe(float64(r.DurationMs) / 1000)
		}
	}
}

func (m *Metrics) recordRun(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
}
