// Package metrics provides Prometheus collectors for the build pipeline.
// Collectors are registered via promauto at package init; the driver and
// readers record into them as the run progresses.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsIngested counts rows committed to the store.
	RowsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exposurestore",
		Name:      "rows_ingested_total",
		Help:      "Total rows committed to the unified store table.",
	})

	// RowsDropped counts rows dropped by the lenient coercion policy.
	RowsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exposurestore",
		Name:      "rows_dropped_total",
		Help:      "Total rows dropped during type coercion.",
	})

	// ChunksCommitted counts committed (bucket, batch) chunks.
	ChunksCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exposurestore",
		Name:      "chunks_committed_total",
		Help:      "Total chunks committed to the store and slice index.",
	})

	// FilesProcessed counts source files fully streamed.
	FilesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exposurestore",
		Name:      "files_processed_total",
		Help:      "Total source files ingested successfully.",
	})

	// FilesFailed counts source files that reported an ingest error.
	FilesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exposurestore",
		Name:      "files_failed_total",
		Help:      "Total source files that failed to ingest.",
	})

	// StoreRows tracks the current total row count of the store.
	StoreRows = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "exposurestore",
		Name:      "store_rows",
		Help:      "Current row count of the unified store table.",
	})
)
