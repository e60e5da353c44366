package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ImportMetrics counts bulk import outcomes.
type ImportMetrics struct {
	UsersImported    prometheus.Counter
	UsersFailed      prometheus.Counter
	StorageDeferrals prometheus.Counter
	TxConflicts      prometheus.Counter
	BatchDuration    prometheus.Histogram
}

// NewImportMetrics registers the bulk import metric set on the given registerer.
func NewImportMetrics(reg prometheus.Registerer) *ImportMetrics {
	factory := promauto.With(reg)
	return &ImportMetrics{
		UsersImported: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "identity",
			Subsystem: "bulk_import",
			Name:      "users_imported_total",
			Help:      "Staged users imported and removed from staging",
		}),
		UsersFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "identity",
			Subsystem: "bulk_import",
			Name:      "users_failed_total",
			Help:      "Staged users marked FAILED",
		}),
		StorageDeferrals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "identity",
			Subsystem: "bulk_import",
			Name:      "storage_deferrals_total",
			Help:      "Pool groups returned to staging because their storage pool was unreachable",
		}),
		TxConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "identity",
			Subsystem: "bulk_import",
			Name:      "tx_conflicts_total",
			Help:      "Serialization conflicts that forced a pool group re-run",
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "identity",
			Subsystem: "bulk_import",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one processing cycle",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}
