package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes ledger instrumentation. It satisfies the ledger's Observer
// contract and the reconciler's observer callback.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationSeconds  *prometheus.HistogramVec
	reconcilerRuns    *prometheus.CounterVec
	reconcilerExpired prometheus.Counter
}

// New registers the ledger collectors with reg, or the default registry when
// reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventra",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Total ledger operations partitioned by operation and outcome.",
			},
			[]string{"operation", "status"},
		),
		operationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "eventra",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Ledger operation latency by operation.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		reconcilerRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventra",
				Subsystem: "ledger_reconciler",
				Name:      "runs_total",
				Help:      "Total reconciler sweeps partitioned by result.",
			},
			[]string{"result"},
		),
		reconcilerExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "eventra",
				Subsystem: "ledger_reconciler",
				Name:      "expired_total",
				Help:      "Total pending transactions the reconciler marked failed.",
			},
		),
	}
}

// ObserveOperation records one ledger operation outcome and its latency.
func (m *Metrics) ObserveOperation(operation, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationSeconds.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveReconcilerSweep records one reconciler run.
func (m *Metrics) ObserveReconcilerSweep(expired int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.reconcilerRuns.WithLabelValues("error").Inc()
		return
	}
	m.reconcilerRuns.WithLabelValues("success").Inc()
	if expired > 0 {
		m.reconcilerExpired.Add(float64(expired))
	}
}
