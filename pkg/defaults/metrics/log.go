// Package metrics provides default metrics implementations.
package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/storeflow/storeflow/pkg/interfaces"
)

// LogMetrics writes each metric as a structured log record at debug level,
// and keeps counter totals so Flush can report them at info.
type LogMetrics struct {
	mu       sync.Mutex
	logger   *slog.Logger
	counters map[string]int64
}

// NewLogMetrics creates a new log-based metrics exporter.
func NewLogMetrics(logger *slog.Logger) *LogMetrics {
	return &LogMetrics{
		logger:   logger,
		counters: make(map[string]int64),
	}
}

// Counter logs a counter metric.
func (m *LogMetrics) Counter(name string, value int64, tags map[string]string) {
	m.mu.Lock()
	m.counters[name] += value
	m.mu.Unlock()
	m.log("counter", name, slog.Int64("value", value), tags)
}

// Gauge logs a gauge metric.
func (m *LogMetrics) Gauge(name string, value float64, tags map[string]string) {
	m.log("gauge", name, slog.Float64("value", value), tags)
}

// Timer logs a timer metric.
func (m *LogMetrics) Timer(name string, duration time.Duration, tags map[string]string) {
	m.log("timer", name, slog.Duration("value", duration), tags)
}

// Flush logs the counter totals accumulated since the last flush.
func (m *LogMetrics) Flush() error {
	m.mu.Lock()
	totals := m.counters
	m.counters = make(map[string]int64)
	m.mu.Unlock()

	if len(totals) == 0 {
		return nil
	}
	names := make([]string, 0, len(totals))
	for n := range totals {
		names = append(names, n)
	}
	sort.Strings(names)

	attrs := make([]slog.Attr, len(names))
	for i, n := range names {
		attrs[i] = slog.Int64(n, totals[n])
	}
	m.logger.LogAttrs(context.Background(), slog.LevelInfo, "metric totals", attrs...)
	return nil
}

// Close flushes and closes the exporter.
func (m *LogMetrics) Close() error {
	return m.Flush()
}

func (m *LogMetrics) log(metricType, name string, value slog.Attr, tags map[string]string) {
	attrs := []slog.Attr{slog.String("type", metricType), slog.String("metric", name), value}
	if len(tags) > 0 {
		keys := make([]string, 0, len(tags))
		for k := range tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		group := make([]any, 0, len(keys))
		for _, k := range keys {
			group = append(group, slog.String(k, tags[k]))
		}
		attrs = append(attrs, slog.Group("tags", group...))
	}
	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "metric", attrs...)
}

// Verify interface compliance.
var _ interfaces.MetricsExporter = (*LogMetrics)(nil)
