package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "schedmate",
			Name:      "decisions_total",
			Help:      "Total messages processed, partitioned by terminal action.",
		},
		[]string{"action"},
	)

	decisionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "schedmate",
			Name:      "decision_seconds",
			Help:      "Decision pipeline latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8},
		},
	)

	confidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "schedmate",
			Name:      "confidence_score",
			Help:      "Overall confidence of scored messages.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
		},
	)

	breakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "schedmate",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions, partitioned by target state.",
		},
		[]string{"to"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "schedmate",
			Name:      "cache_lookups_total",
			Help:      "Cache reads, partitioned by key group and outcome.",
		},
		[]string{"group", "outcome"},
	)

	auditWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "schedmate",
			Name:      "audit_write_failures_total",
			Help:      "Ledger appends that failed. Non-zero values demand attention.",
		},
	)
)

// Register attaches schedmate collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		decisionsTotal,
		decisionDurationSeconds,
		confidenceScore,
		breakerTransitionsTotal,
		cacheLookupsTotal,
		auditWriteFailuresTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveDecision records one processed message.
func ObserveDecision(duration time.Duration, action string, confidence float64) {
	decisionsTotal.WithLabelValues(action).Inc()
	if duration < 0 {
		duration = 0
	}
	decisionDurationSeconds.Observe(duration.Seconds())
	if confidence > 0 {
		confidenceScore.Observe(confidence)
	}
}

// ObserveBreakerTransition records a circuit breaker state change.
func ObserveBreakerTransition(to string) {
	breakerTransitionsTotal.WithLabelValues(to).Inc()
}

// ObserveCacheLookup records one cache read and its outcome (hit, miss,
// or error).
func ObserveCacheLookup(group, outcome string) {
	cacheLookupsTotal.WithLabelValues(group, outcome).Inc()
}

// ObserveAuditWriteFailure records a failed ledger append.
func ObserveAuditWriteFailure() {
	auditWriteFailuresTotal.Inc()
}
