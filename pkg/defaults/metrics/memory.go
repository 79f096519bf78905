package metrics

import (
	"sync"
	"time"

	"github.com/storeflow/storeflow/pkg/interfaces"
)

// MemoryMetrics accumulates counters and gauges in memory. Tests use it to
// assert on what a component reported.
type MemoryMetrics struct {
	mu       sync.Mutex
	counters map[string]int64
	gauges   map[string]float64
	timers   map[string]int
}

// NewMemoryMetrics creates an empty in-memory exporter.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
		timers:   make(map[string]int),
	}
}

// Counter adds value to the named counter, ignoring tags.
func (m *MemoryMetrics) Counter(name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += value
}

// Gauge records the latest value.
func (m *MemoryMetrics) Gauge(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = value
}

// Timer counts observations.
func (m *MemoryMetrics) Timer(name string, duration time.Duration, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers[name]++
}

// CounterValue returns the accumulated counter.
func (m *MemoryMetrics) CounterValue(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// TimerCount returns how many durations were recorded under name.
func (m *MemoryMetrics) TimerCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timers[name]
}

// Flush does nothing.
func (m *MemoryMetrics) Flush() error { return nil }

// Close does nothing.
func (m *MemoryMetrics) Close() error { return nil }

var _ interfaces.MetricsExporter = (*MemoryMetrics)(nil)
