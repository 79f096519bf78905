// Package table provides the in-memory tabular representation shared by
// every pipeline stage: a named, ordered set of columns over rows of typed
// cells. Tables are handed between stages as snapshots; a stage clones a
// table before changing it.
package table

import (
	"fmt"
	"sort"
)

// Table is a named, ordered-column collection of rows.
type Table struct {
	Name    string
	columns []string
	index   map[string]int
	rows    [][]Value
}

// New creates an empty table with the given columns.
func New(name string, columns ...string) *Table {
	t := &Table{Name: name}
	for _, c := range columns {
		t.addColumnName(c)
	}
	return t
}

func (t *Table) addColumnName(name string) {
	if t.index == nil {
		t.index = make(map[string]int)
	}
	t.index[name] = len(t.columns)
	t.columns = append(t.columns, name)
}

// Columns returns a copy of the column names in order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// HasColumn reports whether the column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// ColumnIndex returns the position of a column, or -1.
func (t *Table) ColumnIndex(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Width returns the number of columns.
func (t *Table) Width() int { return len(t.columns) }

// IsEmpty reports a table with neither columns nor rows, which is what a
// missing source extracts to.
func (t *Table) IsEmpty() bool { return len(t.columns) == 0 && len(t.rows) == 0 }

// Append adds a row. The row must have one cell per column.
func (t *Table) Append(row ...Value) error {
	if len(row) != len(t.columns) {
		return fmt.Errorf("table %s: row has %d cells, want %d", t.Name, len(row), len(t.columns))
	}
	r := make([]Value, len(row))
	copy(r, row)
	t.rows = append(t.rows, r)
	return nil
}

// MustAppend is Append for rows built by the caller with a known width.
func (t *Table) MustAppend(row ...Value) {
	if err := t.Append(row...); err != nil {
		panic(err)
	}
}

// Row returns a copy of row i.
func (t *Table) Row(i int) []Value {
	out := make([]Value, len(t.rows[i]))
	copy(out, t.rows[i])
	return out
}

// Get returns the cell at row i of the named column. A missing column
// yields null.
func (t *Table) Get(i int, column string) Value {
	c, ok := t.index[column]
	if !ok {
		return Null
	}
	return t.rows[i][c]
}

// Set replaces the cell at row i of the named column. Only the stage that
// owns the table may call it.
func (t *Table) Set(i int, column string, v Value) {
	c, ok := t.index[column]
	if !ok {
		panic(fmt.Sprintf("table %s: no column %q", t.Name, column))
	}
	t.rows[i][c] = v
}

// Column returns a copy of every cell in a column, or nil if absent.
func (t *Table) Column(name string) []Value {
	c, ok := t.index[name]
	if !ok {
		return nil
	}
	out := make([]Value, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[c]
	}
	return out
}

// AddColumn appends a column filled by fn, or replaces the column in place
// when it already exists.
func (t *Table) AddColumn(name string, fn func(i int) Value) {
	if c, ok := t.index[name]; ok {
		for i := range t.rows {
			t.rows[i][c] = fn(i)
		}
		return
	}
	t.addColumnName(name)
	for i := range t.rows {
		t.rows[i] = append(t.rows[i], fn(i))
	}
}

// NullCount returns the number of null cells in a column. A missing column
// returns -1.
func (t *Table) NullCount(column string) int {
	c, ok := t.index[column]
	if !ok {
		return -1
	}
	n := 0
	for _, r := range t.rows {
		if r[c].IsNull() {
			n++
		}
	}
	return n
}

// Filter returns a new table holding the rows for which keep returns true,
// in their original order.
func (t *Table) Filter(keep func(i int) bool) *Table {
	out := New(t.Name, t.columns...)
	for i, r := range t.rows {
		if keep(i) {
			cp := make([]Value, len(r))
			copy(cp, r)
			out.rows = append(out.rows, cp)
		}
	}
	return out
}

// Clone returns a deep copy named name. An empty name keeps the original.
func (t *Table) Clone(name string) *Table {
	if name == "" {
		name = t.Name
	}
	out := New(name, t.columns...)
	out.rows = make([][]Value, len(t.rows))
	for i, r := range t.rows {
		cp := make([]Value, len(r))
		copy(cp, r)
		out.rows[i] = cp
	}
	return out
}

// Equal reports whether two tables hold the same columns and cells in the
// same order. Names are ignored.
func (t *Table) Equal(o *Table) bool {
	if t == nil || o == nil {
		return t == o
	}
	if len(t.columns) != len(o.columns) || len(t.rows) != len(o.rows) {
		return false
	}
	for i := range t.columns {
		if t.columns[i] != o.columns[i] {
			return false
		}
	}
	for i := range t.rows {
		for j := range t.rows[i] {
			if !t.rows[i][j].Equal(o.rows[i][j]) {
				return false
			}
		}
	}
	return true
}

// Set is a named collection of tables.
type Set map[string]*Table

// Names returns the table names sorted.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Missing returns the names from want that are absent from the set.
func (s Set) Missing(want ...string) []string {
	var missing []string
	for _, n := range want {
		if _, ok := s[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}
