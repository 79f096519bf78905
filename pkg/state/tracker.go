package state

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	sferrors "github.com/storeflow/storeflow/pkg/errors"
	"github.com/storeflow/storeflow/pkg/schema"
	"github.com/storeflow/storeflow/pkg/table"
)

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock sets the time source for last_run.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithRunID sets the generator for run ids.
func WithRunID(gen func() string) TrackerOption {
	return func(t *Tracker) { t.newID = gen }
}

// Tracker reads and advances the run state held by a Backend.
type Tracker struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// NewTracker wraps a backend.
func NewTracker(backend Backend, logger *slog.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		backend: backend,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Backend returns the underlying backend.
func (t *Tracker) Backend() Backend { return t.backend }

// GetLastRun returns the stored state. A missing or unreadable record
// reads as a state with no previous run.
func (t *Tracker) GetLastRun(ctx context.Context) *RunState {
	st, err := t.backend.Load(ctx)
	if errors.Is(err, ErrNoState) {
		t.logger.Info("no previous run state found", slog.String("backend", t.backend.Name()))
		return Empty()
	}
	if err != nil {
		wrapped := sferrors.Wrap(err, sferrors.CodeStateIO, "failed to load run state")
		t.logger.Error("failed to load run state",
			slog.String("backend", t.backend.Name()),
			slog.String("code", string(wrapped.Code)),
			slog.String("error", err.Error()))
		return Empty()
	}
	return st
}

// UpdateRunTimestamp records a completed run with the given table states,
// replacing whatever was stored before.
func (t *Tracker) UpdateRunTimestamp(ctx context.Context, tables map[string]TableState) (*RunState, error) {
	now := t.now()
	st := &RunState{LastRun: &now, RunID: t.newID(), Tables: tables}
	if st.Tables == nil {
		st.Tables = make(map[string]TableState)
	}
	if err := t.backend.Save(ctx, st); err != nil {
		return nil, sferrors.Wrap(err, sferrors.CodeStateIO, "failed to save run state").
			WithContext("backend", t.backend.Name())
	}
	t.logger.Info("updated run state",
		slog.String("backend", t.backend.Name()),
		slog.String("run_id", st.RunID),
		slog.Time("last_run", now))
	return st, nil
}

// ShouldRunFullLoad reports whether no run has been recorded yet.
func (t *Tracker) ShouldRunFullLoad(ctx context.Context) bool {
	return t.GetLastRun(ctx).LastRun == nil
}

// IncrementalCutoff returns the stored watermark for a source.
func (t *Tracker) IncrementalCutoff(ctx context.Context, name string) (time.Time, bool) {
	return cutoff(t.GetLastRun(ctx), name)
}

// IncrementalCutoffs returns every usable watermark. It is empty before
// the first recorded run.
func (t *Tracker) IncrementalCutoffs(ctx context.Context) map[string]time.Time {
	st := t.GetLastRun(ctx)
	out := make(map[string]time.Time)
	if st.LastRun == nil {
		return out
	}
	for _, src := range schema.Sources {
		if ts, ok := cutoff(st, src.String()); ok {
			out[src.String()] = ts
		}
	}
	return out
}

func cutoff(st *RunState, name string) (time.Time, bool) {
	if st.LastRun == nil {
		return time.Time{}, false
	}
	raw, ok := st.Tables[name][LastDateKey]
	if !ok {
		return time.Time{}, false
	}
	v, ok := table.ParseTime(raw)
	if !ok {
		return time.Time{}, false
	}
	return v.AsTime()
}

// Watermarks computes the latest watermark value of every staged source
// that has a watermark column with at least one parseable value.
func Watermarks(staged table.Set) map[string]TableState {
	out := make(map[string]TableState)
	for _, src := range schema.Sources {
		col := src.Spec().Watermark
		tbl, ok := staged[src.String()]
		if col == "" || !ok || !tbl.HasColumn(col) {
			continue
		}
		var latest table.Value
		var latestTime time.Time
		for _, v := range tbl.Column(col) {
			ts, ok := v.AsTime()
			if !ok {
				continue
			}
			if latest.IsNull() || ts.After(latestTime) {
				latest, latestTime = v, ts
			}
		}
		if latest.IsNull() {
			continue
		}
		if latest.Kind() == table.KindString {
			latest, _ = table.ParseTime(latest.String())
		}
		out[src.String()] = TableState{LastDateKey: latest.String()}
	}
	return out
}

// CarryForward returns next with any table absent from it copied from
// prev, so a source with no new rows keeps its watermark.
func CarryForward(prev, next map[string]TableState) map[string]TableState {
	out := make(map[string]TableState, len(next)+len(prev))
	for name, ts := range prev {
		out[name] = ts
	}
	for name, ts := range next {
		out[name] = ts
	}
	return out
}
