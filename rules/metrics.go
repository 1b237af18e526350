package rules

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the scheduler.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	runsTotal       *prometheus.CounterVec
	firingsTotal    *prometheus.CounterVec
	conditionErrors *prometheus.CounterVec
	effectErrors    *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
}

// NewMetrics creates and registers scheduler metrics with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	// nil input = nil feature
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rulebook",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Total rulebook runs by verdict",
		}, []string{"rulebook", "verdict"}),

		firingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rulebook",
			Subsystem: "scheduler",
			Name:      "firings_total",
			Help:      "Total rule firings by outcome",
		}, []string{"rulebook", "outcome"}),

		conditionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rulebook",
			Subsystem: "scheduler",
			Name:      "condition_errors_total",
			Help:      "Conditions that failed to evaluate and were treated as false",
		}, []string{"rulebook"}),

		effectErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rulebook",
			Subsystem: "scheduler",
			Name:      "effect_errors_total",
			Help:      "Effects that returned an error or panicked",
		}, []string{"rulebook"}),

		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rulebook",
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Time spent in a single rulebook run",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"rulebook"}),
	}

	for _, c := range []prometheus.Collector{m.runsTotal, m.firingsTotal, m.conditionErrors, m.effectErrors, m.runDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) observeRun(rulebookID string, verdict Verdict, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(rulebookID, verdict.String()).Inc()
	m.runDuration.WithLabelValues(rulebookID).Observe(elapsed.Seconds())
}

func (m *Metrics) observeFiring(rulebookID string, outcome OutcomeKind) {
	if m == nil {
		return
	}
	m.firingsTotal.WithLabelValues(rulebookID, outcome.String()).Inc()
}

func (m *Metrics) observeConditionError(rulebookID string) {
	if m == nil {
		return
	}
	m.conditionErrors.WithLabelValues(rulebookID).Inc()
}

func (m *Metrics) observeEffectError(rulebookID string) {
	if m == nil {
		return
	}
	m.effectErrors.WithLabelValues(rulebookID).Inc()
}
