package migration

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	labelMigrated = "migrated"
	labelSkipped  = "skipped"
	labelVanished = "vanished"
	labelFailed   = "failed"
)

// Metrics counts the work done by the migration runners.
type Metrics struct {
	DatabaseSteps *prometheus.CounterVec
	Documents     *prometheus.CounterVec
	BulkDuration  *prometheus.HistogramVec
}

// NewMetrics returns unregistered migration metrics.
func NewMetrics() *Metrics {
	const (
		namespace = "docschema"
		subsystem = "migration"
	)

	return &Metrics{
		DatabaseSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_steps_total",
			Help:      "Count of database migration steps applied",
		}, []string{"direction"}),

		Documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "documents_total",
			Help:      "Count of documents visited by document migrations",
		}, []string{"document_type", "timing", "result"}),

		BulkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bulk_duration_seconds",
			Help:      "Histogram of times spent migrating a whole document type",
			Buckets:   prometheus.ExponentialBuckets(1e-3, 5, 7),
		}, []string{"document_type"}),
	}
}

// PrometheusCollectors returns all metrics of the runners.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.DatabaseSteps,
		m.Documents,
		m.BulkDuration,
	}
}
