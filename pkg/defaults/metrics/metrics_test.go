package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/storeflow/storeflow/pkg/logging"
)

func TestLogMetrics_FlushTotals(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMetrics(logging.New(logging.Options{Level: "debug", Output: &buf}))

	m.Counter("storeflow.extract.rows", 3, map[string]string{"table": "users"})
	m.Counter("storeflow.extract.rows", 4, map[string]string{"table": "orders"})
	m.Timer("storeflow.stage.duration", time.Millisecond, nil)

	out := buf.String()
	if !strings.Contains(out, "tags.table=users") {
		t.Errorf("debug record should carry tags, got:\n%s", out)
	}

	buf.Reset()
	if err := m.Flush(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "storeflow.extract.rows=7") {
		t.Errorf("Flush() should log the summed counter, got:\n%s", buf.String())
	}

	buf.Reset()
	m.Flush()
	if buf.Len() != 0 {
		t.Errorf("second Flush() should be empty, got:\n%s", buf.String())
	}
}

func TestMemoryMetrics(t *testing.T) {
	m := NewMemoryMetrics()
	m.Counter("a", 2, nil)
	m.Counter("a", 3, nil)
	m.Timer("t", time.Second, nil)
	m.Timer("t", time.Second, nil)

	if got := m.CounterValue("a"); got != 5 {
		t.Errorf("CounterValue(a) = %d, want 5", got)
	}
	if got := m.TimerCount("t"); got != 2 {
		t.Errorf("TimerCount(t) = %d, want 2", got)
	}
}
