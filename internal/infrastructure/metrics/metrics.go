// Package metrics exposes the pipeline's Prometheus instrumentation. A
// degraded batch is visible here before anywhere else: fewer snapshots
// written, more items diverted, a non-zero unresolved dead-letter gauge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BatchesProcessed counts completed IngestBatch calls.
	BatchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "budalert",
		Name:      "batches_processed_total",
		Help:      "Completed scrape batch ingestions.",
	})

	// BatchDuration observes wall-clock time per ingested batch.
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "budalert",
		Name:      "batch_duration_seconds",
		Help:      "Wall-clock duration of IngestBatch calls.",
		Buckets:   prometheus.DefBuckets,
	})

	// ItemsIngested counts raw items that made it through identity
	// resolution and into the snapshot log.
	ItemsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "budalert",
		Name:      "items_ingested_total",
		Help:      "Raw menu items successfully logged as snapshots.",
	})

	// ItemsDiverted counts items sent to the dead letter handler instead of
	// the snapshot log.
	ItemsDiverted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "budalert",
		Name:      "items_diverted_total",
		Help:      "Raw menu items diverted to the dead letter queue.",
	})

	// SnapshotsWritten counts appends to the observation log.
	SnapshotsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "budalert",
		Name:      "snapshots_written_total",
		Help:      "MenuSnapshot rows appended to the log.",
	})

	// BrandsCreated counts canonical brands created lazily by resolution.
	BrandsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "budalert",
		Name:      "brands_created_total",
		Help:      "Canonical brands created by the identity resolver.",
	})

	// ProductsCreated counts canonical products created lazily by resolution.
	ProductsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "budalert",
		Name:      "products_created_total",
		Help:      "Canonical products created by the identity resolver.",
	})

	// DeadLettersRecorded counts RecordFailure calls by error type.
	DeadLettersRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "budalert",
		Name:      "dead_letters_recorded_total",
		Help:      "Scrape failures recorded, by classification.",
	}, []string{"error_type"})

	// DeadLettersUnresolved tracks the current unresolved queue depth.
	DeadLettersUnresolved = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "budalert",
		Name:      "dead_letters_unresolved",
		Help:      "Unresolved dead letter entries.",
	})
)

// Handler returns the exposition endpoint for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
