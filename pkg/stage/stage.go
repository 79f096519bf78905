// Package stage cleans raw tables into staged tables: type coercion,
// cosmetic normalization and primary-key deduplication, with every
// data-quality event counted rather than raised.
package stage

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	sferrors "github.com/storeflow/storeflow/pkg/errors"
	"github.com/storeflow/storeflow/pkg/interfaces"
	"github.com/storeflow/storeflow/pkg/schema"
	"github.com/storeflow/storeflow/pkg/table"
)

// TableStats is the quality bookkeeping for one staged table.
type TableStats struct {
	InputRows         int
	NullKeys          int
	DateFailures      map[string]int
	NumericFailures   map[string]int
	DuplicatesDropped int
	OutputRows        int
	// FromMissingSource is set when the raw table was empty because the
	// source did not exist.
	FromMissingSource bool
}

// CoercionFailures sums date and numeric failures.
func (s TableStats) CoercionFailures() int {
	n := 0
	for _, v := range s.DateFailures {
		n += v
	}
	for _, v := range s.NumericFailures {
		n += v
	}
	return n
}

// Stats maps a source name to its staging statistics.
type Stats map[string]TableStats

// Stager stages raw tables.
type Stager struct {
	logger  *slog.Logger
	metrics interfaces.MetricsExporter
}

// New creates a Stager.
func New(logger *slog.Logger, metrics interfaces.MetricsExporter) *Stager {
	return &Stager{logger: logger, metrics: metrics}
}

// StageAll stages every source. A source absent from raw is treated like a
// missing file. The first hard precondition failure aborts the stage.
func (s *Stager) StageAll(ctx context.Context, raw table.Set) (table.Set, Stats, error) {
	staged := make(table.Set, len(schema.Sources))
	stats := make(Stats, len(schema.Sources))

	for _, src := range schema.Sources {
		in, ok := raw[src.String()]
		if !ok {
			in = table.New(src.String())
		}
		out, ts, err := s.Stage(src, in)
		if err != nil {
			s.logger.Error("staging failed", "table", src.String(), "error", err)
			return nil, nil, err
		}
		staged[src.String()] = out
		stats[src.String()] = ts
	}
	return staged, stats, nil
}

// Stage runs the staging algorithm for one source. The input is never
// modified.
func (s *Stager) Stage(src schema.Source, raw *table.Table) (*table.Table, TableStats, error) {
	spec := src.Spec()
	name := src.String()
	tags := map[string]string{interfaces.TagTable: name}

	if raw.IsEmpty() {
		s.logger.Warn("staging empty source", "table", name)
		return table.New(name, spec.Declared()...), TableStats{
			DateFailures:      map[string]int{},
			NumericFailures:   map[string]int{},
			FromMissingSource: true,
		}, nil
	}

	for _, col := range spec.Required() {
		if !raw.HasColumn(col) {
			return nil, TableStats{}, sferrors.MissingColumn(name, col, raw.Columns())
		}
	}

	tbl := raw.Clone(name)
	ts := TableStats{
		InputRows:       tbl.Len(),
		DateFailures:    make(map[string]int),
		NumericFailures: make(map[string]int),
	}

	ts.NullKeys = tbl.NullCount(spec.PrimaryKey)
	if ts.NullKeys > 0 {
		s.logger.Warn("null primary keys", "table", name, "column", spec.PrimaryKey, "count", ts.NullKeys)
		s.metrics.Counter(interfaces.MetricStageNullKeys, int64(ts.NullKeys), tags)
	}

	for _, col := range spec.Dates {
		if n := coerceColumn(tbl, col, table.CoerceTime); n > 0 {
			ts.DateFailures[col] = n
			s.logger.Warn("invalid dates set to null", "table", name, "column", col, "count", n)
		}
	}

	numerics := append(append([]string{}, spec.Numerics...), spec.OptionalNumerics...)
	for _, col := range numerics {
		if !tbl.HasColumn(col) {
			continue
		}
		if n := coerceColumn(tbl, col, table.CoerceNumber); n > 0 {
			ts.NumericFailures[col] = n
			s.logger.Warn("invalid numbers set to null", "table", name, "column", col, "count", n)
		}
	}
	if n := ts.CoercionFailures(); n > 0 {
		s.metrics.Counter(interfaces.MetricStageCoercions, int64(n), tags)
	}

	for _, tc := range spec.Text {
		normalizeColumn(tbl, tc)
	}

	tbl, ts.DuplicatesDropped = dedup(tbl, spec.PrimaryKey)
	if ts.DuplicatesDropped > 0 {
		s.logger.Info("removed duplicate rows", "table", name, "column", spec.PrimaryKey, "count", ts.DuplicatesDropped)
		s.metrics.Counter(interfaces.MetricStageDuplicates, int64(ts.DuplicatesDropped), tags)
	}
	ts.OutputRows = tbl.Len()

	s.logger.Info("staged table", "table", name, "rows", ts.OutputRows)
	return tbl, ts, nil
}

// coerceColumn replaces every cell of col with the coerced value and
// returns how many non-null cells failed.
func coerceColumn(tbl *table.Table, col string, coerce func(table.Value) (table.Value, bool)) int {
	failures := 0
	for i := 0; i < tbl.Len(); i++ {
		v, ok := coerce(tbl.Get(i, col))
		if !ok {
			failures++
		}
		tbl.Set(i, col, v)
	}
	return failures
}

func normalizeColumn(tbl *table.Table, tc schema.TextColumn) {
	for i := 0; i < tbl.Len(); i++ {
		v := tbl.Get(i, tc.Name)
		if v.IsNull() {
			continue
		}
		tbl.Set(i, tc.Name, table.Str(normalizeText(v.String(), tc.Rule)))
	}
}

func normalizeText(s string, rule schema.TextRule) string {
	s = strings.TrimSpace(s)
	switch rule {
	case schema.TextLower:
		return strings.ToLower(s)
	case schema.TextTitle:
		return titleCase(s)
	default:
		return s
	}
}

// titleCase upper-cases the first letter of every run of letters and
// lower-cases the rest, so "non-BINARY" becomes "Non-Binary".
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}

// dedup keeps the first row for every non-null key. Rows with a null key
// are all kept so validation can count them.
func dedup(tbl *table.Table, key string) (*table.Table, int) {
	seen := make(map[string]struct{}, tbl.Len())
	out := tbl.Filter(func(i int) bool {
		v := tbl.Get(i, key)
		if v.IsNull() {
			return true
		}
		k := v.Key()
		if _, dup := seen[k]; dup {
			return false
		}
		seen[k] = struct{}{}
		return true
	})
	return out, tbl.Len() - out.Len()
}
