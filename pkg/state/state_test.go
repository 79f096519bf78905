package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/storeflow/storeflow/internal/fixtures"
	"github.com/storeflow/storeflow/pkg/defaults/metrics"
	sferrors "github.com/storeflow/storeflow/pkg/errors"
	"github.com/storeflow/storeflow/pkg/logging"
	"github.com/storeflow/storeflow/pkg/stage"
	"github.com/storeflow/storeflow/pkg/storage/object"
)

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newTracker(b Backend) *Tracker {
	return NewTracker(b, logging.Discard(),
		WithClock(func() time.Time { return fixedNow }),
		WithRunID(func() string { return "run-1" }))
}

func TestTracker_RoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := NewFileBackend(filepath.Join(t.TempDir(), ".etl_state.json"))
	tr := newTracker(backend)

	if !tr.ShouldRunFullLoad(ctx) {
		t.Error("ShouldRunFullLoad() = false before the first write")
	}

	_, err := tr.UpdateRunTimestamp(ctx, map[string]TableState{"orders": {"last_date": "2024-01-01"}})
	require.NoError(t, err)

	st := tr.GetLastRun(ctx)
	if st.LastRun == nil || !st.LastRun.Equal(fixedNow) {
		t.Errorf("LastRun = %v, want %v", st.LastRun, fixedNow)
	}
	if st.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", st.RunID)
	}
	if got := st.Tables["orders"]["last_date"]; got != "2024-01-01" {
		t.Errorf("orders last_date = %q, want 2024-01-01", got)
	}
	if tr.ShouldRunFullLoad(ctx) {
		t.Error("ShouldRunFullLoad() = true after a write")
	}

	cut, ok := tr.IncrementalCutoff(ctx, "orders")
	if !ok || !cut.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("IncrementalCutoff(orders) = %v, %v", cut, ok)
	}
	if _, ok := tr.IncrementalCutoff(ctx, "events"); ok {
		t.Error("IncrementalCutoff(events) should be absent")
	}
	if diff := cmp.Diff([]string{"orders"}, keys(tr.IncrementalCutoffs(ctx))); diff != "" {
		t.Errorf("IncrementalCutoffs() mismatch (-want +got):\n%s", diff)
	}
}

func keys(m map[string]time.Time) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestFileBackend_JSONShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", ".etl_state.json")
	tr := newTracker(NewFileBackend(path))
	_, err := tr.UpdateRunTimestamp(context.Background(), nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want := "{\n  \"last_run\": \"2024-01-02T03:04:05Z\",\n  \"run_id\": \"run-1\",\n  \"tables\": {}\n}\n"
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Errorf("state file mismatch (-want +got):\n%s", diff)
	}
}

func TestTracker_CorruptStateReadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".etl_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	st := newTracker(NewFileBackend(path)).GetLastRun(context.Background())
	if st.LastRun != nil || len(st.Tables) != 0 {
		t.Errorf("GetLastRun() = %+v, want empty state", st)
	}
}

func TestTracker_SaveFailure(t *testing.T) {
	store := object.NewMemoryStorage()
	store.PutErr = func(string) error { return errors.New("read-only") }
	tr := newTracker(NewObjectBackend(store, "state.json"))

	_, err := tr.UpdateRunTimestamp(context.Background(), nil)
	if !sferrors.IsCode(err, sferrors.CodeStateIO) {
		t.Errorf("UpdateRunTimestamp() = %v, want STATE_IO_FAILURE", err)
	}
}

func TestObjectBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	b := NewObjectBackend(object.NewMemoryStorage(), "storeflow/state.json")

	if _, err := b.Load(ctx); !errors.Is(err, ErrNoState) {
		t.Fatalf("Load() on empty store = %v, want ErrNoState", err)
	}
	last := fixedNow
	require.NoError(t, b.Save(ctx, &RunState{LastRun: &last, Tables: map[string]TableState{
		"events": {"last_date": "2023-04-03 23:59:59"},
	}}))
	got, err := b.Load(ctx)
	require.NoError(t, err)
	if got.Tables["events"]["last_date"] != "2023-04-03 23:59:59" {
		t.Errorf("events = %v", got.Tables["events"])
	}
	if b.Name() != "memory" {
		t.Errorf("Name() = %q, want memory", b.Name())
	}
}

// fakeRedis holds keys in a map.
type fakeRedis struct {
	data map[string]string
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.data[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := &fakeRedis{data: make(map[string]string)}
	b := &RedisBackend{cfg: DefaultRedisConfig("localhost:6379"), client: fake}

	if _, err := b.Load(ctx); !errors.Is(err, ErrNoState) {
		t.Fatalf("Load() on empty key = %v, want ErrNoState", err)
	}
	tr := newTracker(b)
	_, err := tr.UpdateRunTimestamp(ctx, map[string]TableState{"users": {"last_date": "2023-03-05"}})
	require.NoError(t, err)

	if _, ok := fake.data["storeflow:state"]; !ok {
		t.Errorf("keys = %v, want storeflow:state", fake.data)
	}
	if tr.ShouldRunFullLoad(ctx) {
		t.Error("ShouldRunFullLoad() = true after a write")
	}
}

func TestWatermarks(t *testing.T) {
	staged, _, err := stage.New(logging.Discard(), metrics.NewNoopMetrics()).
		StageAll(context.Background(), fixtures.RawSet())
	require.NoError(t, err)

	want := map[string]TableState{
		"users":   {"last_date": "2023-03-05"},
		"orders":  {"last_date": "2023-04-03"},
		"events":  {"last_date": "2023-04-03 23:59:59"},
		"reviews": {"last_date": "2023-04-12"},
	}
	if diff := cmp.Diff(want, Watermarks(staged)); diff != "" {
		t.Errorf("Watermarks() mismatch (-want +got):\n%s", diff)
	}
}

func TestCarryForward(t *testing.T) {
	prev := map[string]TableState{
		"orders": {"last_date": "2024-01-01"},
		"events": {"last_date": "2024-01-01 10:00:00"},
	}
	next := map[string]TableState{"orders": {"last_date": "2024-02-01"}}
	want := map[string]TableState{
		"orders": {"last_date": "2024-02-01"},
		"events": {"last_date": "2024-01-01 10:00:00"},
	}
	if diff := cmp.Diff(want, CarryForward(prev, next)); diff != "" {
		t.Errorf("CarryForward() mismatch (-want +got):\n%s", diff)
	}
}
