// Package interfaces defines the capabilities pipeline components are
// handed at construction time. Defaults live under pkg/defaults.
package interfaces

import "time"

// MetricsExporter exports metrics to a monitoring backend.
type MetricsExporter interface {
	// Counter increments a counter metric.
	Counter(name string, value int64, tags map[string]string)

	// Gauge sets a gauge metric to the specified value.
	Gauge(name string, value float64, tags map[string]string)

	// Timer records a duration.
	Timer(name string, duration time.Duration, tags map[string]string)

	// Flush sends any buffered metrics to the backend.
	Flush() error

	// Close releases resources.
	Close() error
}

// Metric names emitted by the pipeline.
const (
	MetricExtractRows        = "storeflow.extract.rows"
	MetricExtractMissing     = "storeflow.extract.missing_sources"
	MetricStageDuplicates    = "storeflow.stage.duplicates_dropped"
	MetricStageCoercions     = "storeflow.stage.coercion_failures"
	MetricStageNullKeys      = "storeflow.stage.null_keys"
	MetricStageDuration      = "storeflow.stage.duration"
	MetricWarehouseBackfills = "storeflow.warehouse.item_total_backfilled"
	MetricWarehouseCarried   = "storeflow.warehouse.rows_carried"
	MetricSinkTablesWritten  = "storeflow.sink.tables_written"
	MetricSinkFailures       = "storeflow.sink.failures"
	MetricValidateViolations = "storeflow.validate.violations"
	MetricValidateSkipped    = "storeflow.validate.skipped"
	MetricRunsTotal          = "storeflow.runs.total"
)

// Common tag names.
const (
	TagTable  = "table"
	TagStage  = "stage"
	TagCheck  = "check"
	TagSink   = "sink"
	TagStatus = "status"
	TagColumn = "column"
)
