// Package warehouse derives the star schema from staged tables.
package warehouse

import (
	"context"
	"log/slog"

	sferrors "github.com/storeflow/storeflow/pkg/errors"
	"github.com/storeflow/storeflow/pkg/interfaces"
	"github.com/storeflow/storeflow/pkg/schema"
	"github.com/storeflow/storeflow/pkg/table"
)

// Builder builds dimension and fact tables.
type Builder struct {
	logger  *slog.Logger
	metrics interfaces.MetricsExporter
}

// New creates a Builder.
func New(logger *slog.Logger, metrics interfaces.MetricsExporter) *Builder {
	return &Builder{logger: logger, metrics: metrics}
}

// BuildWarehouse builds every warehouse table. All staged sources must be
// present; the warehouse is never partially built.
func (b *Builder) BuildWarehouse(ctx context.Context, staged table.Set) (table.Set, error) {
	if missing := staged.Missing(schema.SourceNames()...); len(missing) > 0 {
		return nil, sferrors.MissingTables("build", missing)
	}

	out := make(table.Set, len(schema.Warehouses))
	for _, w := range schema.Warehouses {
		tbl, err := b.Build(w, staged[w.Source().String()])
		if err != nil {
			b.logger.Error("build failed", "table", w.String(), "error", err)
			return nil, err
		}
		out[w.String()] = tbl
		b.logger.Info("built table", "table", w.String(), "rows", tbl.Len(), "columns", tbl.Width())
	}
	return out, nil
}

// Build derives one warehouse table from its staged source.
func (b *Builder) Build(w schema.Warehouse, src *table.Table) (*table.Table, error) {
	tbl := src.Clone(w.String())

	switch w {
	case schema.DimUsers:
		if err := requireColumns(tbl, "signup_date"); err != nil {
			return nil, err
		}
		addSignupParts(tbl)
	case schema.FactOrderItems:
		if err := requireColumns(tbl, "quantity", "item_price"); err != nil {
			return nil, err
		}
		n := backfillItemTotal(tbl)
		if n > 0 {
			b.logger.Info("computed item_total", "table", w.String(), "rows", n)
			b.metrics.Counter(interfaces.MetricWarehouseBackfills, int64(n), map[string]string{interfaces.TagTable: w.String()})
		}
	case schema.FactEvents:
		if err := requireColumns(tbl, "event_timestamp"); err != nil {
			return nil, err
		}
		addEventParts(tbl)
	case schema.DimProducts, schema.FactOrders, schema.FactReviews:
		// pass-through
	}
	return tbl, nil
}

func requireColumns(tbl *table.Table, columns ...string) error {
	for _, c := range columns {
		if !tbl.HasColumn(c) {
			return sferrors.MissingColumn(tbl.Name, c, tbl.Columns())
		}
	}
	return nil
}

func addSignupParts(tbl *table.Table) {
	dates := tbl.Column("signup_date")
	tbl.AddColumn("signup_year", func(i int) table.Value {
		t, ok := dates[i].AsTime()
		if !ok {
			return table.Null
		}
		return table.Num(float64(t.Year()))
	})
	tbl.AddColumn("signup_month", func(i int) table.Value {
		t, ok := dates[i].AsTime()
		if !ok {
			return table.Null
		}
		return table.Num(float64(t.Month()))
	})
}

func addEventParts(tbl *table.Table) {
	stamps := tbl.Column("event_timestamp")
	tbl.AddColumn("event_date", func(i int) table.Value {
		t, ok := stamps[i].AsTime()
		if !ok {
			return table.Null
		}
		return table.Date(t)
	})
	tbl.AddColumn("event_hour", func(i int) table.Value {
		t, ok := stamps[i].AsTime()
		if !ok {
			return table.Null
		}
		return table.Num(float64(t.Hour()))
	})
}

// backfillItemTotal fills item_total with quantity x item_price. An
// existing column keeps every value it has; only its nulls are computed.
// Returns the number of cells computed.
func backfillItemTotal(tbl *table.Table) int {
	existing := tbl.Column("item_total")
	computed := 0
	tbl.AddColumn("item_total", func(i int) table.Value {
		if existing != nil && !existing[i].IsNull() {
			return existing[i]
		}
		q, okQ := tbl.Get(i, "quantity").Float()
		p, okP := tbl.Get(i, "item_price").Float()
		if !okQ || !okP {
			return table.Null
		}
		computed++
		return table.Num(q * p)
	})
	return computed
}
