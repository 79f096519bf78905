package metrics

import (
	"time"

	"github.com/storeflow/storeflow/pkg/interfaces"
)

// NoopMetrics drops every observation. Components built without an
// exporter, and tests that never assert on metrics, use it.
type NoopMetrics struct{}

var noop = &NoopMetrics{}

// NewNoopMetrics returns the shared no-op exporter.
func NewNoopMetrics() *NoopMetrics { return noop }

func (*NoopMetrics) Counter(string, int64, map[string]string)       {}
func (*NoopMetrics) Gauge(string, float64, map[string]string)       {}
func (*NoopMetrics) Timer(string, time.Duration, map[string]string) {}
func (*NoopMetrics) Flush() error                                   { return nil }
func (*NoopMetrics) Close() error                                   { return nil }

var _ interfaces.MetricsExporter = (*NoopMetrics)(nil)
