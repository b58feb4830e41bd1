// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	reportsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cuketrack",
			Name:      "reports_ingested_total",
			Help:      "Total number of reports accepted through the upload interface.",
		},
	)

	stepsCorrectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cuketrack",
			Name:      "steps_corrected_total",
			Help:      "Total steps rewritten from skipped to passed by the defect corrector.",
		},
	)

	deletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cuketrack",
			Name:      "deletions_total",
			Help:      "Total report deletions, partitioned by type.",
		},
		[]string{"type"},
	)

	rebuildsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cuketrack",
			Name:      "index_rebuilds_total",
			Help:      "Total full index rebuilds.",
		},
	)

	rebuildDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cuketrack",
			Name:      "index_rebuild_seconds",
			Help:      "Index rebuild latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)
)

// Register attaches the cuketrack collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		reportsIngestedTotal,
		stepsCorrectedTotal,
		deletionsTotal,
		rebuildsTotal,
		rebuildDurationSeconds,
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

// ReportIngested counts one accepted upload.
func ReportIngested() {
	reportsIngestedTotal.Inc()
}

// StepsCorrected counts steps repaired by the defect corrector.
func StepsCorrected(n int) {
	if n > 0 {
		stepsCorrectedTotal.Add(float64(n))
	}
}

// DeletionPerformed counts one deletion of the given type ("soft"/"hard").
func DeletionPerformed(deletionType string) {
	deletionsTotal.WithLabelValues(deletionType).Inc()
}

// ObserveRebuild records one index rebuild and its duration.
func ObserveRebuild(duration time.Duration) {
	rebuildsTotal.Inc()
	if duration < 0 {
		duration = 0
	}
	rebuildDurationSeconds.Observe(duration.Seconds())
}
