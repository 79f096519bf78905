package warehouse

import (
	"strings"

	"github.com/storeflow/storeflow/pkg/interfaces"
	"github.com/storeflow/storeflow/pkg/schema"
	"github.com/storeflow/storeflow/pkg/table"
)

// derivedNumerics and derivedDates are the columns Build adds, per table.
var (
	derivedNumerics = map[schema.Warehouse][]string{
		schema.DimUsers:       {"signup_year", "signup_month"},
		schema.FactEvents:     {"event_hour"},
		schema.FactOrderItems: {"item_total"},
	}
	derivedDates = map[schema.Warehouse][]string{
		schema.FactEvents: {"event_date"},
	}
)

// MergeIncremental folds the previously written warehouse into tables
// built from an incremental extract. Only tables whose source was narrowed
// by a cutoff are merged; the others were rebuilt from every row and
// replace the previous copy as they are.
func (b *Builder) MergeIncremental(built, previous table.Set, narrowed map[string]bool) table.Set {
	out := make(table.Set, len(built))
	for name, tbl := range built {
		out[name] = tbl
	}
	for _, w := range schema.Warehouses {
		src := w.Source()
		if !narrowed[src.String()] || src.Spec().Watermark == "" {
			continue
		}
		cur, ok := built[w.String()]
		if !ok {
			continue
		}
		prev, ok := previous[w.String()]
		if !ok {
			b.logger.Warn("no previous table to merge, keeping new rows only", "table", w.String())
			continue
		}
		merged, replaced := Merge(w, cur, prev)
		out[w.String()] = merged
		b.logger.Info("merged table",
			"table", w.String(),
			"previous_rows", prev.Len(),
			"new_rows", cur.Len(),
			"replaced", replaced,
			"rows", merged.Len())
		b.metrics.Counter(interfaces.MetricWarehouseCarried, int64(merged.Len()-cur.Len()), map[string]string{interfaces.TagTable: w.String()})
	}
	return out
}

// Merge unions a previously written table with freshly built rows of the
// same warehouse table. Rows are matched on the primary key and the fresh
// row takes the previous row's place. Fresh rows with unseen keys follow
// the previous rows in order. Rows with a null key are matched on every
// cell instead. Previous cells are coerced back to the kinds Build emits,
// since sinks return dates and numbers as text. Returns the merged table
// and the number of previous rows that were replaced.
func Merge(w schema.Warehouse, built, previous *table.Table) (*table.Table, int) {
	columns := built.Columns()
	for _, c := range previous.Columns() {
		if !built.HasColumn(c) {
			columns = append(columns, c)
		}
	}
	out := table.New(w.String(), columns...)
	prev := coerceKinds(w, previous)
	pk := w.PrimaryKey()

	fresh := make(map[string]int, built.Len())
	for i := 0; i < built.Len(); i++ {
		fresh[rowIdentity(built, i, pk, columns)] = i
	}

	used := make(map[int]bool, len(fresh))
	replaced := 0
	for i := 0; i < prev.Len(); i++ {
		id := rowIdentity(prev, i, pk, columns)
		if j, ok := fresh[id]; ok {
			if !used[j] {
				out.MustAppend(project(built, j, columns)...)
				used[j] = true
				replaced++
			}
			continue
		}
		out.MustAppend(project(prev, i, columns)...)
	}
	for j := 0; j < built.Len(); j++ {
		if !used[j] {
			out.MustAppend(project(built, j, columns)...)
		}
	}
	return out, replaced
}

// rowIdentity is the primary key of row i, or the whole row when the key
// is null.
func rowIdentity(tbl *table.Table, i int, pk string, columns []string) string {
	if v := tbl.Get(i, pk); !v.IsNull() {
		return "k:" + v.Key()
	}
	var b strings.Builder
	b.WriteString("r:")
	for _, c := range columns {
		b.WriteString(c)
		b.WriteByte('=')
		b.WriteString(tbl.Get(i, c).Key())
		b.WriteByte(0)
	}
	return b.String()
}

func project(tbl *table.Table, i int, columns []string) []table.Value {
	row := make([]table.Value, len(columns))
	for k, c := range columns {
		row[k] = tbl.Get(i, c)
	}
	return row
}

func coerceKinds(w schema.Warehouse, tbl *table.Table) *table.Table {
	out := tbl.Clone(tbl.Name)
	spec := w.Source().Spec()
	dates := append(append([]string{}, spec.Dates...), derivedDates[w]...)
	numbers := append(append(append([]string{}, spec.Numerics...), spec.OptionalNumerics...), derivedNumerics[w]...)

	for _, c := range dates {
		coerceColumn(out, c, table.CoerceTime)
	}
	for _, c := range numbers {
		coerceColumn(out, c, table.CoerceNumber)
	}
	return out
}

func coerceColumn(tbl *table.Table, column string, coerce func(table.Value) (table.Value, bool)) {
	if !tbl.HasColumn(column) {
		return
	}
	for i := 0; i < tbl.Len(); i++ {
		v, _ := coerce(tbl.Get(i, column))
		tbl.Set(i, column, v)
	}
}
