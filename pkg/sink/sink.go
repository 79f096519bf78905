// Package sink persists warehouse tables and reads them back. Every write
// fully replaces the previous contents of a table; there is no append or
// upsert.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	sferrors "github.com/storeflow/storeflow/pkg/errors"
	"github.com/storeflow/storeflow/pkg/schema"
	"github.com/storeflow/storeflow/pkg/table"
)

// Sink is a durable destination for a set of named tables.
type Sink interface {
	// Name identifies the sink in logs and failure lists.
	Name() string
	// Write replaces every table in tables. It attempts all of them and
	// reports every failure, not only the first.
	Write(ctx context.Context, tables table.Set) error
	// Load reads back the warehouse tables the sink holds. Tables that
	// were never written are omitted.
	Load(ctx context.Context) (table.Set, error)
	Close() error
}

// FailedTables returns the table names recorded on a sink failure.
func FailedTables(err error) []string {
	var sfErr *sferrors.Error
	if !errors.As(err, &sfErr) || sfErr.Code != sferrors.CodeSinkFailure {
		return nil
	}
	names, _ := sfErr.Context["tables"].([]string)
	return names
}

// failure builds the stage-level error for a set of per-table errors.
func failure(failed []string, errs *sferrors.MultiError) error {
	if len(failed) == 0 {
		return nil
	}
	return sferrors.Wrapf(errs.Combined(), sferrors.CodeSinkFailure,
		"failed to save tables: %s", strings.Join(failed, ", ")).
		WithContext("tables", failed)
}

// orderedNames lists warehouse tables in build order, then any other
// tables alphabetically.
func orderedNames(tables table.Set) []string {
	var names []string
	known := make(map[string]bool)
	for _, n := range schema.WarehouseNames() {
		known[n] = true
		if _, ok := tables[n]; ok {
			names = append(names, n)
		}
	}
	var extra []string
	for n := range tables {
		if !known[n] {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// numericColumns reports, per column, whether every non-null cell is a
// number. A column with no values is not numeric.
func numericColumns(tbl *table.Table) []bool {
	cols := tbl.Columns()
	out := make([]bool, len(cols))
	for c, name := range cols {
		seen := false
		numeric := true
		for i := 0; i < tbl.Len(); i++ {
			v := tbl.Get(i, name)
			if v.IsNull() {
				continue
			}
			seen = true
			if v.Kind() != table.KindNumber {
				numeric = false
				break
			}
		}
		out[c] = seen && numeric
	}
	return out
}

// Multi writes to several sinks in sequence and reads from the first.
type Multi struct {
	sinks []Sink
}

// NewMulti combines sinks. The first is the primary used by Load.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Name joins the member names.
func (m *Multi) Name() string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Write writes to every sink, even after one fails, and returns a single
// failure naming each sink:table that could not be written.
func (m *Multi) Write(ctx context.Context, tables table.Set) error {
	var failed []string
	var errs sferrors.MultiError
	for _, s := range m.sinks {
		err := s.Write(ctx, tables)
		if err == nil {
			continue
		}
		errs.Add(err)
		names := FailedTables(err)
		if len(names) == 0 {
			failed = append(failed, s.Name())
			continue
		}
		for _, n := range names {
			failed = append(failed, s.Name()+":"+n)
		}
	}
	return failure(failed, &errs)
}

// Load reads from the primary sink.
func (m *Multi) Load(ctx context.Context) (table.Set, error) {
	if len(m.sinks) == 0 {
		return nil, fmt.Errorf("no sinks configured")
	}
	return m.sinks[0].Load(ctx)
}

// Close closes every sink.
func (m *Multi) Close() error {
	var errs sferrors.MultiError
	for _, s := range m.sinks {
		errs.Add(s.Close())
	}
	return errs.Combined()
}

var _ Sink = (*Multi)(nil)
