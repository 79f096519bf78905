package tui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/storeflow/storeflow/pkg/extract"
	"github.com/storeflow/storeflow/pkg/stage"
	"github.com/storeflow/storeflow/pkg/state"
	"github.com/storeflow/storeflow/pkg/validate"
)

func assertContains(t *testing.T, got string, wants ...string) {
	t.Helper()
	for _, w := range wants {
		if !strings.Contains(got, w) {
			t.Errorf("output missing %q:\n%s", w, got)
		}
	}
}

func TestRenderExtract(t *testing.T) {
	out := RenderExtract(&extract.Summary{Tables: []extract.TableSummary{
		{Name: "users", Format: "csv", Rows: 5, Columns: 4},
		{Name: "reviews", Missing: true},
	}})
	assertContains(t, out, "EXTRACT", "users", "csv", "reviews", "missing")
}

func TestRenderStaging(t *testing.T) {
	out := RenderStaging(stage.Stats{
		"users": {InputRows: 5, DuplicatesDropped: 2, OutputRows: 3},
	}, []string{"users", "orders"})
	assertContains(t, out, "STAGE", "users", "duplicates")
	if strings.Contains(out, "orders") {
		t.Error("sources without stats should not be rendered")
	}
}

func TestRenderReport(t *testing.T) {
	passed := RenderReport(&validate.Report{Passed: true, Results: []validate.Result{
		{Check: validate.CheckPrimaryKeysName, ID: "dim_users"},
	}})
	assertContains(t, passed, "dim_users", "ok", "PASSED")

	failed := RenderReport(&validate.Report{Results: []validate.Result{
		{Check: validate.CheckNumericRangesName, ID: "dim_products.price", Violations: 1},
		{Check: validate.CheckDateRangesName, ID: "fact_reviews", Skipped: true, Reason: "table fact_reviews not found"},
	}})
	assertContains(t, failed, "dim_products.price", "failed", "skipped", "1 CHECKS FAILED")
}

func TestRenderState(t *testing.T) {
	assertContains(t, RenderState("file", state.Empty()), "no previous run")

	last := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	out := RenderState("redis", &state.RunState{
		LastRun: &last,
		RunID:   "abc",
		Tables:  map[string]state.TableState{"orders": {"last_date": "2024-01-01"}},
	})
	assertContains(t, out, "redis", "2024-01-02T03:04:05Z", "abc", "orders", "2024-01-01")
}

func TestRenderOutcome(t *testing.T) {
	assertContains(t, RenderOutcome("pipeline failed", 1, 2*time.Second), "pipeline failed", "exit 1", "2.0s")
	assertContains(t, RenderOutcome("succeeded", 0, 10*time.Millisecond), "succeeded", "10ms")
}

func TestPrinter_Quiet(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, true).Print("hello")
	if buf.Len() != 0 {
		t.Errorf("quiet printer wrote %q", buf.String())
	}
	NewPrinter(&buf, false).Print("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("printer wrote %q", buf.String())
	}
}

func TestStageProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewStageProgress(&buf, 2)
	p.StageStarted("extract")
	p.StageFinished("extract", time.Millisecond, nil)
	p.StageStarted("stage")
	p.StageFinished("stage", time.Millisecond, nil)
	p.Finish()
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{1500 * time.Millisecond, "1.5s"},
		{125 * time.Second, "2m5s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
