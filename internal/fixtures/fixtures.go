// Package fixtures builds small, internally consistent raw extracts for
// tests across packages.
package fixtures

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/storeflow/storeflow/pkg/table"
)

// Rows is a header followed by records, all as raw strings.
type Rows [][]string

// Raw sources keyed by name. users holds five rows over three distinct
// user ids; every foreign key resolves.
var Raw = map[string]Rows{
	"users": {
		{"user_id", "signup_date", "gender", "city"},
		{"1", "2023-01-15", " male ", " Lagos "},
		{"1", "2023-01-15", "male", "Lagos"},
		{"2", "2023-02-20", "FEMALE", "Abuja"},
		{"2", "2023-02-20", "FEMALE", "Abuja"},
		{"3", "2023-03-05", "female", "Kano"},
	},
	"products": {
		{"product_id", "product_name", "category", "brand", "price", "rating"},
		{"10", "Kettle", " Home ", "Acme ", "10.0", "4.5"},
		{"11", "Blender", "Home", "Acme", "40.0", ""},
		{"12", "Socks", "Apparel", " Toes", "5.5", "3.9"},
	},
	"orders": {
		{"order_id", "user_id", "order_date", "order_status", "total_amount"},
		{"100", "1", "2023-04-01", " Delivered", "55.0"},
		{"101", "2", "2023-04-02", "SHIPPED", "11.0"},
		{"102", "3", "2023-04-03", "pending", "10.0"},
	},
	"order_items": {
		{"order_item_id", "order_id", "product_id", "quantity", "item_price", "item_total"},
		{"1000", "100", "10", "3", "10.0", ""},
		{"1001", "100", "11", "1", "40.0", "25.0"},
		{"1002", "101", "12", "2", "5.5", "11.0"},
		{"1003", "102", "10", "1", "10.0", "10.0"},
	},
	"events": {
		{"event_id", "user_id", "event_type", "event_timestamp"},
		{"5000", "1", "VIEW", "2023-04-01 09:15:00"},
		{"5001", "1", "Purchase ", "2023-04-01 09:45:30"},
		{"5002", "2", "view", "2023-04-02 18:05:00"},
		{"5003", "3", "cart", "2023-04-03 23:59:59"},
	},
	"reviews": {
		{"review_id", "product_id", "user_id", "rating", "review_date"},
		{"9000", "10", "1", "5", "2023-04-10"},
		{"9001", "12", "2", "4", "2023-04-12"},
	},
}

// Table converts rows to a table of raw cells.
func Table(name string, rows Rows) *table.Table {
	tbl := table.New(name, rows[0]...)
	for _, r := range rows[1:] {
		cells := make([]table.Value, len(r))
		for i, s := range r {
			cells[i] = table.Raw(s)
		}
		tbl.MustAppend(cells...)
	}
	return tbl
}

// RawSet returns every raw fixture as tables.
func RawSet() table.Set {
	set := make(table.Set, len(Raw))
	for name, rows := range Raw {
		set[name] = Table(name, rows)
	}
	return set
}

// CSV renders rows as CSV bytes.
func CSV(rows Rows) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.WriteAll(rows)
	return buf.Bytes()
}

// WriteRawDir writes every raw fixture as <name>.csv into a fresh temp dir
// and returns it. Names listed in skip are left out.
func WriteRawDir(t testing.TB, skip ...string) string {
	t.Helper()
	dir := t.TempDir()
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}
	for name, rows := range Raw {
		if skipped[name] {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, name+".csv"), CSV(rows), 0644); err != nil {
			t.Fatalf("write fixture %s: %v", name, err)
		}
	}
	return dir
}
