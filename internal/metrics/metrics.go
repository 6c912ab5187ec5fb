package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeAccepted labels events that passed ingestion validation.
	OutcomeAccepted = "accepted"
	// OutcomeRejected labels events rejected as malformed.
	OutcomeRejected = "rejected"
	// OutcomeSuccess labels completed drift runs.
	OutcomeSuccess = "success"
	// OutcomeError labels failed drift runs (persistence or guard issues).
	OutcomeError = "error"
)

var (
	eventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "archscope",
			Name:      "events_ingested_total",
			Help:      "Total number of trace events received, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	ingestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "archscope",
			Name:      "ingest_seconds",
			Help:      "Event ingestion latency in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)

	driftRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "archscope",
			Name:      "drift_runs_total",
			Help:      "Total number of drift runs executed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	lastDriftScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "archscope",
			Name:      "last_drift_score",
			Help:      "Score of the most recent completed drift run.",
		},
	)
)

// Register attaches archscope collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsIngestedTotal,
		ingestDurationSeconds,
		driftRunsTotal,
		lastDriftScore,
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

// ObserveIngestion records an ingestion attempt and its latency.
func ObserveIngestion(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeRejected {
		label = OutcomeAccepted
	}
	eventsIngestedTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	ingestDurationSeconds.Observe(duration.Seconds())
}

// ObserveDriftRun records a drift run outcome and, on success, its score.
func ObserveDriftRun(outcome string, score int) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	driftRunsTotal.WithLabelValues(label).Inc()
	if label == OutcomeSuccess {
		lastDriftScore.Set(float64(score))
	}
}
