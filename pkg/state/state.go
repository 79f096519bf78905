// Package state persists the run-state record between pipeline runs: when
// the last successful run finished and the per-table watermarks that
// bound the next incremental extract.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNoState is returned by a Backend that holds no record yet.
var ErrNoState = errors.New("no run state recorded")

// TableState is the per-table bookkeeping, currently {"last_date": ...}.
type TableState map[string]string

// LastDateKey is the TableState key holding a table's watermark.
const LastDateKey = "last_date"

// RunState is the persisted record.
type RunState struct {
	LastRun *time.Time            `json:"last_run"`
	RunID   string                `json:"run_id,omitempty"`
	Tables  map[string]TableState `json:"tables"`
}

// Empty returns a state with no previous run.
func Empty() *RunState {
	return &RunState{Tables: make(map[string]TableState)}
}

// Backend stores a single RunState.
type Backend interface {
	// Load returns ErrNoState when nothing has been saved.
	Load(ctx context.Context) (*RunState, error)
	// Save replaces the stored record.
	Save(ctx context.Context, st *RunState) error
	Name() string
}

func encode(st *RunState) ([]byte, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run state: %w", err)
	}
	return append(data, '\n'), nil
}

func decode(data []byte) (*RunState, error) {
	st := Empty()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to parse run state: %w", err)
	}
	if st.Tables == nil {
		st.Tables = make(map[string]TableState)
	}
	return st, nil
}
