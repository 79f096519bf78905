// Package schema defines the closed set of raw sources and warehouse tables
// the pipeline knows about. Every per-table behavior (staging rules, build
// step, validation rule) hangs off these enumerations, so adding a table is
// an edit here that the compiler carries to every switch.
package schema

import "strings"

// Source identifies one raw extract.
type Source int

const (
	SourceUsers Source = iota
	SourceProducts
	SourceOrders
	SourceOrderItems
	SourceEvents
	SourceReviews
)

// Sources lists every source in extraction order.
var Sources = []Source{
	SourceUsers,
	SourceProducts,
	SourceOrders,
	SourceOrderItems,
	SourceEvents,
	SourceReviews,
}

func (s Source) String() string {
	switch s {
	case SourceUsers:
		return "users"
	case SourceProducts:
		return "products"
	case SourceOrders:
		return "orders"
	case SourceOrderItems:
		return "order_items"
	case SourceEvents:
		return "events"
	case SourceReviews:
		return "reviews"
	default:
		return "unknown"
	}
}

// ParseSource parses a source name.
func ParseSource(name string) (Source, bool) {
	for _, s := range Sources {
		if s.String() == strings.ToLower(strings.TrimSpace(name)) {
			return s, true
		}
	}
	return 0, false
}

// TextRule is a cosmetic normalization applied to a text column.
type TextRule int

const (
	// TextTrim strips surrounding whitespace.
	TextTrim TextRule = iota
	// TextTitle trims then title-cases each word.
	TextTitle
	// TextLower trims then lower-cases.
	TextLower
)

func (r TextRule) String() string {
	switch r {
	case TextTrim:
		return "trim"
	case TextTitle:
		return "title"
	case TextLower:
		return "lower"
	default:
		return "unknown"
	}
}

// TextColumn pairs a column with its normalization.
type TextColumn struct {
	Name string
	Rule TextRule
}

// SourceSpec describes the shape the stager expects of a source.
type SourceSpec struct {
	PrimaryKey string
	Dates      []string
	Numerics   []string
	// OptionalNumerics are coerced when present and never required.
	OptionalNumerics []string
	Text             []TextColumn
	// Watermark is the date column that bounds incremental extraction.
	// Empty means the source has no watermark.
	Watermark string
	// Extra are columns the source is known to carry that the stager
	// passes through untouched. They shape the empty table a missing
	// source stages into.
	Extra []string
}

// Spec returns the staging description of a source.
func (s Source) Spec() SourceSpec {
	switch s {
	case SourceUsers:
		return SourceSpec{
			PrimaryKey: "user_id",
			Dates:      []string{"signup_date"},
			Text:       []TextColumn{{"gender", TextTitle}, {"city", TextTrim}},
			Watermark:  "signup_date",
		}
	case SourceProducts:
		return SourceSpec{
			PrimaryKey:       "product_id",
			Numerics:         []string{"price"},
			OptionalNumerics: []string{"rating"},
			Text:             []TextColumn{{"category", TextTrim}, {"brand", TextTrim}},
		}
	case SourceOrders:
		return SourceSpec{
			PrimaryKey: "order_id",
			Dates:      []string{"order_date"},
			Numerics:   []string{"total_amount"},
			Text:       []TextColumn{{"order_status", TextLower}},
			Watermark:  "order_date",
			Extra:      []string{"user_id"},
		}
	case SourceOrderItems:
		return SourceSpec{
			PrimaryKey:       "order_item_id",
			Numerics:         []string{"quantity", "item_price"},
			OptionalNumerics: []string{"item_total"},
			Extra:            []string{"order_id", "product_id"},
		}
	case SourceEvents:
		return SourceSpec{
			PrimaryKey: "event_id",
			Dates:      []string{"event_timestamp"},
			Text:       []TextColumn{{"event_type", TextLower}},
			Watermark:  "event_timestamp",
			Extra:      []string{"user_id"},
		}
	case SourceReviews:
		return SourceSpec{
			PrimaryKey: "review_id",
			Dates:      []string{"review_date"},
			Numerics:   []string{"rating"},
			Watermark:  "review_date",
			Extra:      []string{"product_id"},
		}
	default:
		return SourceSpec{}
	}
}

// Required returns the columns a present source must carry.
func (sp SourceSpec) Required() []string {
	cols := []string{sp.PrimaryKey}
	cols = append(cols, sp.Dates...)
	cols = append(cols, sp.Numerics...)
	for _, tc := range sp.Text {
		cols = append(cols, tc.Name)
	}
	return cols
}

// Declared returns every column the source is known to carry, in a stable
// order: primary key, extras, then typed and text columns.
func (sp SourceSpec) Declared() []string {
	cols := []string{sp.PrimaryKey}
	cols = append(cols, sp.Extra...)
	cols = append(cols, sp.Dates...)
	cols = append(cols, sp.Numerics...)
	cols = append(cols, sp.OptionalNumerics...)
	for _, tc := range sp.Text {
		cols = append(cols, tc.Name)
	}
	return cols
}

// Warehouse identifies one dimension or fact table.
type Warehouse int

const (
	DimUsers Warehouse = iota
	DimProducts
	FactOrders
	FactOrderItems
	FactEvents
	FactReviews
)

// Warehouses lists every warehouse table in build order.
var Warehouses = []Warehouse{
	DimUsers,
	DimProducts,
	FactOrders,
	FactOrderItems,
	FactEvents,
	FactReviews,
}

func (w Warehouse) String() string {
	switch w {
	case DimUsers:
		return "dim_users"
	case DimProducts:
		return "dim_products"
	case FactOrders:
		return "fact_orders"
	case FactOrderItems:
		return "fact_order_items"
	case FactEvents:
		return "fact_events"
	case FactReviews:
		return "fact_reviews"
	default:
		return "unknown"
	}
}

// ParseWarehouse parses a warehouse table name.
func ParseWarehouse(name string) (Warehouse, bool) {
	for _, w := range Warehouses {
		if w.String() == strings.ToLower(strings.TrimSpace(name)) {
			return w, true
		}
	}
	return 0, false
}

// Source returns the staged source a warehouse table is built from.
func (w Warehouse) Source() Source {
	switch w {
	case DimUsers:
		return SourceUsers
	case DimProducts:
		return SourceProducts
	case FactOrders:
		return SourceOrders
	case FactOrderItems:
		return SourceOrderItems
	case FactEvents:
		return SourceEvents
	default:
		return SourceReviews
	}
}

// PrimaryKey returns the key inherited from the source.
func (w Warehouse) PrimaryKey() string {
	return w.Source().Spec().PrimaryKey
}

// IsDimension reports whether the table is a dimension.
func (w Warehouse) IsDimension() bool {
	return w == DimUsers || w == DimProducts
}

// WarehouseNames returns the names of all warehouse tables in build order.
func WarehouseNames() []string {
	names := make([]string, len(Warehouses))
	for i, w := range Warehouses {
		names[i] = w.String()
	}
	return names
}

// SourceNames returns the names of all sources in extraction order.
func SourceNames() []string {
	names := make([]string, len(Sources))
	for i, s := range Sources {
		names[i] = s.String()
	}
	return names
}
