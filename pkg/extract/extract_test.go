package extract

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/storeflow/storeflow/internal/fixtures"
	"github.com/storeflow/storeflow/pkg/defaults/metrics"
	sferrors "github.com/storeflow/storeflow/pkg/errors"
	"github.com/storeflow/storeflow/pkg/interfaces"
	"github.com/storeflow/storeflow/pkg/logging"
	"github.com/storeflow/storeflow/pkg/schema"
	"github.com/storeflow/storeflow/pkg/storage/object"
)

func newExtractor(t *testing.T, dir string) (*Extractor, *metrics.MemoryMetrics) {
	t.Helper()
	store, err := object.NewLocalStorage(dir)
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.NewMemoryMetrics()
	return New(store, logging.Discard(), m), m
}

func TestLoadAllRaw(t *testing.T) {
	ex, m := newExtractor(t, fixtures.WriteRawDir(t))

	raw, summary, err := ex.LoadAllRaw(context.Background(), Options{})
	if err != nil {
		t.Fatalf("LoadAllRaw() error = %v", err)
	}

	if len(raw) != len(schema.Sources) {
		t.Fatalf("got %d tables, want %d", len(raw), len(schema.Sources))
	}
	if got := raw["users"].Len(); got != 5 {
		t.Errorf("users rows = %d, want 5", got)
	}

	ts, ok := summary.Table("order_items")
	if !ok {
		t.Fatal("summary missing order_items")
	}
	if ts.Rows != 4 || ts.Columns != 6 || ts.Format != "csv" {
		t.Errorf("order_items summary = %+v", ts)
	}
	if ts.NullsByColumn["item_total"] != 1 {
		t.Errorf("item_total nulls = %d, want 1", ts.NullsByColumn["item_total"])
	}
	if got := m.CounterValue(interfaces.MetricExtractRows); got != 21 {
		t.Errorf("%s = %d, want 21", interfaces.MetricExtractRows, got)
	}
}

func TestLoadAllRaw_MissingSource(t *testing.T) {
	ex, m := newExtractor(t, fixtures.WriteRawDir(t, "reviews"))

	raw, summary, err := ex.LoadAllRaw(context.Background(), Options{})
	if err != nil {
		t.Fatalf("LoadAllRaw() error = %v, a missing source must not abort", err)
	}
	if !raw["reviews"].IsEmpty() {
		t.Errorf("reviews should be an empty table, got %d rows", raw["reviews"].Len())
	}
	if raw["users"].Len() != 5 {
		t.Error("other sources should still load")
	}
	if got := summary.MissingSources(); len(got) != 1 || got[0] != "reviews" {
		t.Errorf("MissingSources() = %v, want [reviews]", got)
	}
	if m.CounterValue(interfaces.MetricExtractMissing) != 1 {
		t.Error("missing source should be counted")
	}
}

func TestLoadAllRaw_RaggedRowFails(t *testing.T) {
	dir := fixtures.WriteRawDir(t)
	bad := "order_id,user_id,order_date,order_status,total_amount\n100,1,2023-04-01,paid,5,EXTRA\n"
	if err := os.WriteFile(filepath.Join(dir, "orders.csv"), []byte(bad), 0644); err != nil {
		t.Fatal(err)
	}
	ex, _ := newExtractor(t, dir)

	_, _, err := ex.LoadAllRaw(context.Background(), Options{})
	if !sferrors.IsCode(err, sferrors.CodeParseFailure) {
		t.Fatalf("LoadAllRaw() error = %v, want PARSE_FAILURE", err)
	}
	if !strings.Contains(err.Error(), "orders") {
		t.Errorf("error should name the source: %v", err)
	}
}

func TestLoadAllRaw_EmptyFileFails(t *testing.T) {
	dir := fixtures.WriteRawDir(t)
	if err := os.WriteFile(filepath.Join(dir, "events.csv"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	ex, _ := newExtractor(t, dir)

	if _, _, err := ex.LoadAllRaw(context.Background(), Options{}); !sferrors.IsCode(err, sferrors.CodeParseFailure) {
		t.Errorf("LoadAllRaw() error = %v, want PARSE_FAILURE", err)
	}
}

func TestLoad_Cutoff(t *testing.T) {
	ex, _ := newExtractor(t, fixtures.WriteRawDir(t))
	cutoff := time.Date(2023, 4, 1, 23, 59, 59, 0, time.UTC)

	raw, summary, err := ex.LoadAllRaw(context.Background(), Options{
		Cutoffs: map[string]time.Time{
			"orders":   cutoff,
			"products": cutoff, // no watermark column, ignored
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := raw["orders"].Len(); got != 2 {
		t.Errorf("orders after cutoff = %d, want 2", got)
	}
	if got := raw["products"].Len(); got != 3 {
		t.Errorf("products = %d, cutoff should be ignored without a watermark", got)
	}
	ts, _ := summary.Table("orders")
	if ts.FilteredRows != 1 {
		t.Errorf("FilteredRows = %d, want 1", ts.FilteredRows)
	}
}

func TestLoad_XLSXFallback(t *testing.T) {
	dir := fixtures.WriteRawDir(t, "products")

	f := excelize.NewFile()
	rows := fixtures.Raw["products"]
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			f.SetCellValue("Sheet1", cell, v)
		}
	}
	if err := f.SaveAs(filepath.Join(dir, "products.xlsx")); err != nil {
		t.Fatal(err)
	}

	ex, _ := newExtractor(t, dir)
	tbl, ts, err := ex.Load(context.Background(), schema.SourceProducts, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ts.Format != "xlsx" {
		t.Errorf("Format = %q, want xlsx", ts.Format)
	}
	if tbl.Len() != 3 || !tbl.HasColumn("brand") {
		t.Errorf("xlsx table = %d rows, columns %v", tbl.Len(), tbl.Columns())
	}
	if !tbl.Get(1, "rating").IsNull() {
		t.Errorf("empty xlsx cell should be null, got %q", tbl.Get(1, "rating"))
	}
}

func TestCSVDecoder(t *testing.T) {
	input := "\ufeffuser_id, city ,city\n1,Lagos,x\n2\n"
	tbl, err := CSVDecoder{}.Decode("users", bytes.NewBufferString(input))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	want := []string{"user_id", "city", "city.1"}
	got := tbl.Columns()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Columns() = %v, want %v", got, want)
		}
	}
	if !tbl.Get(1, "city").IsNull() {
		t.Error("short record should be padded with nulls")
	}
}

func TestNormalizeHeader_GeneratedNamesStayUnique(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"a", "a", "a.1"}, []string{"a", "a.1", "a.1.1"}},
		{[]string{"a", "a.1", "a"}, []string{"a", "a.1", "a.2"}},
		{[]string{"a", "a", "a"}, []string{"a", "a.1", "a.2"}},
	}
	for _, tt := range tests {
		got := normalizeHeader(tt.in)
		seen := make(map[string]bool, len(got))
		for i, name := range got {
			if name != tt.want[i] {
				t.Errorf("normalizeHeader(%v) = %v, want %v", tt.in, got, tt.want)
				break
			}
			if seen[name] {
				t.Errorf("normalizeHeader(%v) repeats %q", tt.in, name)
			}
			seen[name] = true
		}
	}
}
