package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/storeflow/storeflow/internal/fixtures"
	"github.com/storeflow/storeflow/pkg/config"
	"github.com/storeflow/storeflow/pkg/defaults/metrics"
	sferrors "github.com/storeflow/storeflow/pkg/errors"
	"github.com/storeflow/storeflow/pkg/extract"
	"github.com/storeflow/storeflow/pkg/logging"
	"github.com/storeflow/storeflow/pkg/sink"
	"github.com/storeflow/storeflow/pkg/stage"
	"github.com/storeflow/storeflow/pkg/state"
	"github.com/storeflow/storeflow/pkg/storage/object"
	"github.com/storeflow/storeflow/pkg/table"
	"github.com/storeflow/storeflow/pkg/validate"
	"github.com/storeflow/storeflow/pkg/warehouse"
)

var fixedNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type recordingHook struct {
	started  []string
	finished []string
	failed   []string
}

func (h *recordingHook) StageStarted(stage string) { h.started = append(h.started, stage) }
func (h *recordingHook) StageFinished(stage string, _ time.Duration, err error) {
	h.finished = append(h.finished, stage)
	if err != nil {
		h.failed = append(h.failed, stage)
	}
}

type harness struct {
	rawDir  string
	out     *object.MemoryStorage
	sink    *sink.FileSink
	orch    *Orchestrator
	hook    *recordingHook
	spans   *tracetest.SpanRecorder
	metrics *metrics.MemoryMetrics
}

func newHarness(t *testing.T, rawDir string) *harness {
	t.Helper()
	store, err := object.NewLocalStorage(rawDir)
	require.NoError(t, err)

	log := logging.Discard()
	h := &harness{
		rawDir:  rawDir,
		out:     object.NewMemoryStorage(),
		hook:    &recordingHook{},
		spans:   tracetest.NewSpanRecorder(),
		metrics: metrics.NewMemoryMetrics(),
	}
	h.sink = sink.NewFileSink(h.out, sink.CSVCodec{}, log, h.metrics)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans))
	h.orch = NewOrchestrator(
		extract.New(store, log, h.metrics),
		stage.New(log, h.metrics),
		warehouse.New(log, h.metrics),
		h.sink,
		log, h.metrics,
		WithTracer(tp.Tracer("test")),
		WithHook(h.hook),
	)
	return h
}

func TestRunPipeline_FullRoundTrip(t *testing.T) {
	h := newHarness(t, fixtures.WriteRawDir(t))

	res, err := h.orch.RunPipeline(context.Background(), FullLoad)
	require.NoError(t, err)

	if got := res.Tables["dim_users"].Len(); got != 3 {
		t.Errorf("dim_users rows = %d, want 3", got)
	}
	if got := res.Stats["users"].DuplicatesDropped; got != 2 {
		t.Errorf("users duplicates = %d, want 2", got)
	}
	if _, ok := h.out.Bytes("fact_order_items.csv"); !ok {
		t.Error("fact_order_items.csv not written")
	}
	if got := res.Watermarks["orders"]["last_date"]; got != "2023-04-03" {
		t.Errorf("orders watermark = %q, want 2023-04-03", got)
	}
	if len(h.hook.finished) != 4 || len(h.hook.failed) != 0 {
		t.Errorf("hook finished %v failed %v", h.hook.finished, h.hook.failed)
	}
	if got := h.metrics.TimerCount("storeflow.stage.duration"); got != 4 {
		t.Errorf("stage timers = %d, want 4", got)
	}
	if got := len(h.spans.Ended()); got != 5 {
		t.Errorf("spans = %d, want 4 stages plus the run", got)
	}
}

func TestRunPipeline_MissingColumnIsDataShape(t *testing.T) {
	dir := fixtures.WriteRawDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.csv"),
		fixtures.CSV(fixtures.Rows{{"order_id", "user_id"}, {"1", "1"}}), 0644))
	h := newHarness(t, dir)

	_, err := h.orch.RunPipeline(context.Background(), FullLoad)
	var serr *StageError
	require.True(t, errors.As(err, &serr), "error = %v", err)
	if serr.Stage != StageStage || !serr.DataShape {
		t.Errorf("StageError = %+v, want a data-shape failure in stage", serr)
	}
	if !sferrors.IsCode(err, sferrors.CodeParseFailure) {
		t.Errorf("error code = %s, want PARSE_FAILURE", sferrors.GetCode(err))
	}
	if _, ok := h.out.Bytes("dim_users.csv"); ok {
		t.Error("sink should not run after an earlier stage fails")
	}
	if len(h.hook.failed) != 1 || h.hook.failed[0] != "stage" {
		t.Errorf("hook failed = %v, want [stage]", h.hook.failed)
	}
}

func TestRunPipeline_SinkFailure(t *testing.T) {
	h := newHarness(t, fixtures.WriteRawDir(t))
	h.out.PutErr = func(path string) error {
		if path == "fact_events.csv" {
			return errors.New("quota exceeded")
		}
		return nil
	}

	_, err := h.orch.RunPipeline(context.Background(), FullLoad)
	var serr *StageError
	require.True(t, errors.As(err, &serr))
	if serr.Stage != StageSink || serr.DataShape {
		t.Errorf("StageError = %+v, want a sink failure", serr)
	}
	if names := sink.FailedTables(err); len(names) != 1 || names[0] != "fact_events" {
		t.Errorf("FailedTables() = %v", names)
	}
}

func TestRunPipeline_MissingSourceStillBuilds(t *testing.T) {
	h := newHarness(t, fixtures.WriteRawDir(t, "reviews"))

	res, err := h.orch.RunPipeline(context.Background(), FullLoad)
	require.NoError(t, err)
	if got := res.Tables["fact_reviews"].Len(); got != 0 {
		t.Errorf("fact_reviews rows = %d, want 0", got)
	}
	if missing := res.Summary.MissingSources(); len(missing) != 1 || missing[0] != "reviews" {
		t.Errorf("MissingSources() = %v", missing)
	}
}

func TestStageError_Message(t *testing.T) {
	err := newStageError(StageBuild, sferrors.MissingTables("build", []string{"users"}))
	if !err.DataShape {
		t.Error("missing tables should be a data-shape failure")
	}
	if got := err.Error(); !strings.HasPrefix(got, "data structure error in build: ") {
		t.Errorf("Error() = %q", got)
	}
	if plain := newStageError(StageSink, errors.New("disk full")); plain.DataShape ||
		plain.Error() != "pipeline failed in sink: disk full" {
		t.Errorf("Error() = %q", plain.Error())
	}
	if StageSink.String() != "sink" || Stage(9).String() != "unknown" {
		t.Error("Stage.String() mismatch")
	}
}

func newRunner(t *testing.T, h *harness, cfg *config.Config, backend state.Backend) *Runner {
	t.Helper()
	log := logging.Discard()
	v := validate.New(log, h.metrics, validate.WithClock(func() time.Time { return fixedNow }))
	tr := state.NewTracker(backend, log, state.WithClock(func() time.Time { return fixedNow }))
	return NewRunner(cfg, h.orch, v, tr, log, h.metrics)
}

func TestRunner_Success(t *testing.T) {
	h := newHarness(t, fixtures.WriteRawDir(t))
	backend := state.NewFileBackend(filepath.Join(t.TempDir(), ".etl_state.json"))

	out := newRunner(t, h, config.Default(), backend).Run(context.Background(), Options{})
	require.NoError(t, out.Err)
	if out.ExitCode != ExitOK || out.Status != "succeeded" {
		t.Errorf("outcome = %d %q", out.ExitCode, out.Status)
	}
	if out.Report == nil || !out.Report.Passed {
		t.Error("validation should pass on consistent fixtures")
	}

	st, err := backend.Load(context.Background())
	require.NoError(t, err)
	if st.LastRun == nil || st.Tables["events"]["last_date"] != "2023-04-03 23:59:59" {
		t.Errorf("saved state = %+v", st)
	}
}

func TestRunner_PipelineFailureLeavesStateUntouched(t *testing.T) {
	dir := fixtures.WriteRawDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.csv"), []byte(""), 0644))
	h := newHarness(t, dir)
	backend := state.NewFileBackend(filepath.Join(t.TempDir(), ".etl_state.json"))

	out := newRunner(t, h, config.Default(), backend).Run(context.Background(), Options{})
	if out.ExitCode != ExitPipelineFailed {
		t.Errorf("ExitCode = %d, want 1", out.ExitCode)
	}
	if _, err := backend.Load(context.Background()); !errors.Is(err, state.ErrNoState) {
		t.Errorf("state should not be written, Load() = %v", err)
	}
}

func TestRunner_ValidationWarningsAndFailures(t *testing.T) {
	dir := fixtures.WriteRawDir(t)
	rows := append(fixtures.Rows{}, fixtures.Raw["products"]...)
	rows = append(rows, []string{"13", "Broken", "Home", "Acme", "-5", "1.0"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "products.csv"), fixtures.CSV(rows), 0644))

	tests := []struct {
		name        string
		failOnError bool
		wantCode    int
		wantStatus  string
		wantState   bool
	}{
		{"warn", false, ExitOK, "succeeded with warnings", true},
		{"fail", true, ExitValidationFailed, "validation failed", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, dir)
			cfg := config.Default()
			cfg.Validation.FailOnError = tt.failOnError
			backend := state.NewObjectBackend(object.NewMemoryStorage(), "state.json")

			out := newRunner(t, h, cfg, backend).Run(context.Background(), Options{})
			if out.ExitCode != tt.wantCode || out.Status != tt.wantStatus {
				t.Errorf("outcome = %d %q, want %d %q", out.ExitCode, out.Status, tt.wantCode, tt.wantStatus)
			}
			res, _ := out.Report.Result(validate.CheckNumericRangesName, "dim_products.price")
			if res.Violations != 1 {
				t.Errorf("dim_products.price violations = %d, want 1", res.Violations)
			}
			_, err := backend.Load(context.Background())
			if saved := err == nil; saved != tt.wantState {
				t.Errorf("state saved = %v, want %v", saved, tt.wantState)
			}
		})
	}
}

func TestRunner_StateSaveFailureKeepsExitCode(t *testing.T) {
	h := newHarness(t, fixtures.WriteRawDir(t))
	store := object.NewMemoryStorage()
	store.PutErr = func(string) error { return errors.New("read-only bucket") }

	out := newRunner(t, h, config.Default(), state.NewObjectBackend(store, "state.json")).
		Run(context.Background(), Options{})
	if out.ExitCode != ExitOK {
		t.Errorf("ExitCode = %d, want 0", out.ExitCode)
	}
	if !sferrors.IsCode(out.StateErr, sferrors.CodeStateIO) {
		t.Errorf("StateErr = %v, want STATE_IO_FAILURE", out.StateErr)
	}
}

func TestRunner_ValidateOnly(t *testing.T) {
	h := newHarness(t, fixtures.WriteRawDir(t))
	backend := state.NewObjectBackend(object.NewMemoryStorage(), "state.json")

	// Seed the sink with a table that has an orphaned user.
	users := table.New("dim_users", "user_id")
	users.MustAppend(table.Str("1"))
	orders := table.New("fact_orders", "order_id", "user_id", "order_date", "total_amount")
	orders.MustAppend(table.Str("100"), table.Str("7"), table.Str("2023-01-01"), table.Str("5"))
	require.NoError(t, h.sink.Write(context.Background(), table.Set{"dim_users": users, "fact_orders": orders}))

	out := newRunner(t, h, config.Default(), backend).Run(context.Background(), Options{ValidateOnly: true})
	if out.Result != nil {
		t.Error("validate-only should not run the pipeline")
	}
	if out.ExitCode != ExitOK || out.Status != "succeeded with warnings" {
		t.Errorf("outcome = %d %q", out.ExitCode, out.Status)
	}
	res, _ := out.Report.Result(validate.CheckReferentialName, "fact_orders.user_id → dim_users.user_id")
	if res.Violations != 1 {
		t.Errorf("orphans = %d, want 1", res.Violations)
	}
	if _, err := backend.Load(context.Background()); !errors.Is(err, state.ErrNoState) {
		t.Error("validate-only should not write state")
	}
}

type fixedCutoffBackend struct {
	st *state.RunState
}

func (b *fixedCutoffBackend) Load(context.Context) (*state.RunState, error) { return b.st, nil }
func (b *fixedCutoffBackend) Save(_ context.Context, st *state.RunState) error {
	b.st = st
	return nil
}
func (b *fixedCutoffBackend) Name() string { return "fixed" }

func TestRunner_IncrementalMode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fixtures.WriteRawDir(t))
	_, err := h.orch.RunPipeline(ctx, FullLoad)
	require.NoError(t, err)

	last := fixedNow.Add(-time.Hour)
	backend := &fixedCutoffBackend{st: &state.RunState{
		LastRun: &last,
		Tables: map[string]state.TableState{
			"orders":  {"last_date": "2023-04-02"},
			"reviews": {"last_date": "2025-01-01"},
		},
	}}
	cfg := config.Default()
	cfg.Extract.Incremental = true

	out := newRunner(t, h, cfg, backend).Run(ctx, Options{})
	require.NoError(t, out.Err)
	if !out.Mode.Incremental {
		t.Fatal("mode should be incremental with stored state")
	}
	if out.ExitCode != ExitOK || !out.Report.Passed {
		t.Errorf("outcome = %d passed=%v, want a clean run", out.ExitCode, out.Report.Passed)
	}
	wantRows := map[string]int{
		"dim_users":        3,
		"fact_orders":      3,
		"fact_order_items": 4,
		"fact_reviews":     2,
	}
	for name, want := range wantRows {
		if got := out.Result.Tables[name].Len(); got != want {
			t.Errorf("%s rows = %d, want %d", name, got, want)
		}
	}
	if got := out.Result.Tables["fact_orders"].Get(0, "order_date").Kind(); got != table.KindDate {
		t.Errorf("carried order_date kind = %v, want a date", got)
	}
	if got := backend.st.Tables["reviews"]["last_date"]; got != "2025-01-01" {
		t.Errorf("reviews watermark = %q, should carry forward when no rows are new", got)
	}

	orders := append(fixtures.Rows{}, fixtures.Raw["orders"]...)
	orders = append(orders, []string{"103", "3", "2023-04-05", "pending", "7.0"})
	require.NoError(t, os.WriteFile(filepath.Join(h.rawDir, "orders.csv"), fixtures.CSV(orders), 0644))

	next := newRunner(t, h, cfg, backend).Run(ctx, Options{})
	require.NoError(t, next.Err)
	facts := next.Result.Tables["fact_orders"]
	if facts.Len() != 4 {
		t.Fatalf("fact_orders rows = %d, want 4 after one new order", facts.Len())
	}
	if got := facts.Get(3, "order_id").Key(); got != "103" {
		t.Errorf("last order = %q, want the new order appended", got)
	}
	if got := next.Result.Tables["dim_users"].Len(); got != 3 {
		t.Errorf("dim_users rows = %d, want 3 carried", got)
	}
	if next.ExitCode != ExitOK || !next.Report.Passed {
		t.Errorf("outcome = %d passed=%v, want no orphans after merge", next.ExitCode, next.Report.Passed)
	}

	full := newRunner(t, h, cfg, backend).Run(ctx, Options{Full: true})
	if full.Mode.Incremental {
		t.Error("--full should force a full load")
	}
}

func TestRunPipeline_IncrementalWithoutPreviousOutput(t *testing.T) {
	h := newHarness(t, fixtures.WriteRawDir(t))
	mode := Mode{
		Incremental: true,
		Cutoffs:     map[string]time.Time{"orders": time.Date(2023, 4, 2, 0, 0, 0, 0, time.UTC)},
	}

	res, err := h.orch.RunPipeline(context.Background(), mode)
	require.NoError(t, err)
	if got := res.Tables["fact_orders"].Len(); got != 1 {
		t.Errorf("fact_orders rows = %d, want only the order after the cutoff", got)
	}
	if got := res.Tables["dim_users"].Len(); got != 3 {
		t.Errorf("dim_users rows = %d, want 3", got)
	}
}

func TestHooks_FanOut(t *testing.T) {
	a, b := &recordingHook{}, &recordingHook{}
	hooks := Hooks{a, b}
	hooks.StageStarted("extract")
	hooks.StageFinished("extract", time.Millisecond, errors.New("boom"))

	for i, h := range []*recordingHook{a, b} {
		if len(h.started) != 1 || len(h.failed) != 1 {
			t.Errorf("hook %d saw started %v failed %v", i, h.started, h.failed)
		}
	}
}
