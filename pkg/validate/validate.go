// Package validate runs data quality checks over warehouse tables. Checks
// never modify the tables and never stop each other: a failing, panicking
// or skipped check is recorded in the Report and the rest still run.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	sferrors "github.com/storeflow/storeflow/pkg/errors"
	"github.com/storeflow/storeflow/pkg/interfaces"
	"github.com/storeflow/storeflow/pkg/schema"
	"github.com/storeflow/storeflow/pkg/table"
)

// Check names a family of quality rules.
type Check string

const (
	CheckPrimaryKeysName   Check = "primary_keys"
	CheckReferentialName   Check = "referential_integrity"
	CheckDateRangesName    Check = "date_ranges"
	CheckNumericRangesName Check = "numeric_ranges"
)

// Result is the outcome of one rule.
type Result struct {
	Check      Check
	ID         string
	Violations int
	// Skipped is set when the table or column the rule needs is absent.
	Skipped bool
	Reason  string
	// Err is set when the check itself failed or panicked.
	Err string
}

// Failed reports whether the result counts against the report.
func (r Result) Failed() bool {
	if r.Skipped {
		return false
	}
	return r.Err != "" || r.Violations > 0
}

// Report collects every result of a validation run.
type Report struct {
	Results   []Result
	Passed    bool
	CheckedAt time.Time
}

// Result looks up a result by check and id.
func (r *Report) Result(check Check, id string) (Result, bool) {
	for _, res := range r.Results {
		if res.Check == check && res.ID == id {
			return res, true
		}
	}
	return Result{}, false
}

// Failures returns the results that did not pass.
func (r *Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Failed() {
			out = append(out, res)
		}
	}
	return out
}

// Skipped returns the results that were not executed.
func (r *Report) Skipped() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Skipped {
			out = append(out, res)
		}
	}
	return out
}

// Violations sums violation counts across executed checks.
func (r *Report) Violations() int {
	n := 0
	for _, res := range r.Results {
		if !res.Skipped {
			n += res.Violations
		}
	}
	return n
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock sets the time source used by date range checks.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// Validator runs the quality checks.
type Validator struct {
	logger  *slog.Logger
	metrics interfaces.MetricsExporter
	now     func() time.Time
}

// New creates a Validator that uses the wall clock unless overridden.
func New(logger *slog.Logger, metrics interfaces.MetricsExporter, opts ...Option) *Validator {
	v := &Validator{logger: logger, metrics: metrics, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateAll runs every check and builds the report. With failOnError
// set, a report that did not pass is returned alongside a
// VALIDATION_FAILED error.
func (v *Validator) ValidateAll(ctx context.Context, tables table.Set, failOnError bool) (*Report, error) {
	report := &Report{CheckedAt: v.now()}

	checks := []struct {
		name Check
		run  func(table.Set) []Result
	}{
		{CheckPrimaryKeysName, v.CheckPrimaryKeys},
		{CheckReferentialName, v.CheckReferentialIntegrity},
		{CheckDateRangesName, v.CheckDateRanges},
		{CheckNumericRangesName, v.CheckNumericRanges},
	}
	for _, c := range checks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Results = append(report.Results, v.guard(c.name, c.run, tables)...)
	}

	report.Passed = true
	for _, res := range report.Results {
		v.record(res)
		if res.Failed() {
			report.Passed = false
		}
	}

	if report.Passed {
		v.logger.Info("all validation checks passed", slog.Int("checks", len(report.Results)))
	} else {
		v.logger.Warn("some validation checks failed",
			slog.Int("failed", len(report.Failures())),
			slog.Int("violations", report.Violations()))
	}

	if failOnError && !report.Passed {
		var ids []string
		for _, res := range report.Failures() {
			ids = append(ids, res.ID)
		}
		sort.Strings(ids)
		return report, sferrors.New(sferrors.CodeValidationFailed, "data validation failed").
			WithContext("failed", ids)
	}
	return report, nil
}

// guard runs one check, turning a panic into a failed entry.
func (v *Validator) guard(name Check, run func(table.Set) []Result, tables table.Set) (results []Result) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("validation check panicked",
				slog.String("check", string(name)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			results = []Result{{Check: name, ID: string(name), Err: fmt.Sprint(r)}}
		}
	}()
	return run(tables)
}

func (v *Validator) record(res Result) {
	tags := map[string]string{
		interfaces.TagCheck:  string(res.Check),
		interfaces.TagColumn: res.ID,
	}
	switch {
	case res.Skipped:
		v.metrics.Counter(interfaces.MetricValidateSkipped, 1, tags)
		v.logger.Warn("skipped validation check",
			slog.String("check", string(res.Check)),
			slog.String("id", res.ID),
			slog.String("reason", res.Reason))
	case res.Err != "":
		v.logger.Error("validation check errored",
			slog.String("check", string(res.Check)),
			slog.String("id", res.ID),
			slog.String("error", res.Err))
	case res.Violations > 0:
		v.metrics.Counter(interfaces.MetricValidateViolations, int64(res.Violations), tags)
		v.logger.Error("validation check failed",
			slog.String("check", string(res.Check)),
			slog.String("id", res.ID),
			slog.Int("violations", res.Violations))
	default:
		v.logger.Debug("validation check passed",
			slog.String("check", string(res.Check)),
			slog.String("id", res.ID))
	}
}

func skipped(check Check, id, format string, args ...interface{}) Result {
	return Result{Check: check, ID: id, Skipped: true, Reason: fmt.Sprintf(format, args...)}
}

// CheckPrimaryKeys counts null primary keys in every warehouse table.
func (v *Validator) CheckPrimaryKeys(tables table.Set) []Result {
	var out []Result
	for _, w := range schema.Warehouses {
		name, pk := w.String(), w.PrimaryKey()
		tbl, ok := tables[name]
		if !ok {
			out = append(out, skipped(CheckPrimaryKeysName, name, "table %s not found", name))
			continue
		}
		if !tbl.HasColumn(pk) {
			out = append(out, skipped(CheckPrimaryKeysName, name, "primary key %q not found in %s", pk, name))
			continue
		}
		out = append(out, Result{Check: CheckPrimaryKeysName, ID: name, Violations: tbl.NullCount(pk)})
	}
	return out
}

type foreignKey struct {
	child, fk, parent, pk string
}

func (f foreignKey) id() string {
	return fmt.Sprintf("%s.%s → %s.%s", f.child, f.fk, f.parent, f.pk)
}

var foreignKeys = []foreignKey{
	{"fact_orders", "user_id", "dim_users", "user_id"},
	{"fact_order_items", "order_id", "fact_orders", "order_id"},
	{"fact_order_items", "product_id", "dim_products", "product_id"},
	{"fact_events", "user_id", "dim_users", "user_id"},
	{"fact_reviews", "product_id", "dim_products", "product_id"},
}

// CheckReferentialIntegrity counts distinct foreign key values that have
// no matching parent key. Null foreign keys are not orphans.
func (v *Validator) CheckReferentialIntegrity(tables table.Set) []Result {
	var out []Result
	for _, rule := range foreignKeys {
		id := rule.id()
		child, okc := tables[rule.child]
		parent, okp := tables[rule.parent]
		if !okc || !okp {
			out = append(out, skipped(CheckReferentialName, id, "table not found"))
			continue
		}
		if !child.HasColumn(rule.fk) || !parent.HasColumn(rule.pk) {
			out = append(out, skipped(CheckReferentialName, id, "column not found"))
			continue
		}

		parents := make(map[string]struct{}, parent.Len())
		for _, val := range parent.Column(rule.pk) {
			if !val.IsNull() {
				parents[val.Key()] = struct{}{}
			}
		}
		orphans := make(map[string]struct{})
		for _, val := range child.Column(rule.fk) {
			if val.IsNull() {
				continue
			}
			if _, ok := parents[val.Key()]; !ok {
				orphans[val.Key()] = struct{}{}
			}
		}
		out = append(out, Result{Check: CheckReferentialName, ID: id, Violations: len(orphans)})
	}
	return out
}

var dateColumns = []struct{ table, column string }{
	{"dim_users", "signup_date"},
	{"fact_orders", "order_date"},
	{"fact_events", "event_timestamp"},
	{"fact_reviews", "review_date"},
}

// CheckDateRanges counts dates strictly after the current time. Date-only
// cells are compared by calendar day in the clock's location. Unparseable
// values are ignored.
func (v *Validator) CheckDateRanges(tables table.Set) []Result {
	now := v.now()
	var out []Result
	for _, dc := range dateColumns {
		tbl, ok := tables[dc.table]
		if !ok {
			out = append(out, skipped(CheckDateRangesName, dc.table, "table %s not found", dc.table))
			continue
		}
		if !tbl.HasColumn(dc.column) {
			out = append(out, skipped(CheckDateRangesName, dc.table, "date column %q not found", dc.column))
			continue
		}
		future := 0
		for _, val := range tbl.Column(dc.column) {
			if isFuture(val, now) {
				future++
			}
		}
		out = append(out, Result{Check: CheckDateRangesName, ID: dc.table, Violations: future})
	}
	return out
}

func isFuture(val table.Value, now time.Time) bool {
	if val.Kind() == table.KindString {
		parsed, ok := table.ParseTime(val.String())
		if !ok {
			return false
		}
		val = parsed
	}
	ts, ok := val.AsTime()
	if !ok {
		return false
	}
	if val.Kind() == table.KindDate {
		y, m, d := now.Date()
		return ts.After(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
	}
	return ts.After(now)
}

var numericRules = []struct {
	table, column string
	valid         func(float64) bool
}{
	{"dim_products", "price", func(x float64) bool { return x >= 0 }},
	{"fact_orders", "total_amount", func(x float64) bool { return x >= 0 }},
	{"fact_order_items", "quantity", func(x float64) bool { return x > 0 }},
	{"fact_order_items", "item_price", func(x float64) bool { return x >= 0 }},
}

// CheckNumericRanges counts values outside their valid range. Null and
// unparseable values are excluded.
func (v *Validator) CheckNumericRanges(tables table.Set) []Result {
	var out []Result
	for _, rule := range numericRules {
		id := rule.table + "." + rule.column
		tbl, ok := tables[rule.table]
		if !ok {
			out = append(out, skipped(CheckNumericRangesName, id, "table %s not found", rule.table))
			continue
		}
		if !tbl.HasColumn(rule.column) {
			out = append(out, skipped(CheckNumericRangesName, id, "column %q not found", rule.column))
			continue
		}
		invalid := 0
		for _, val := range tbl.Column(rule.column) {
			f, ok := val.Float()
			if ok && !rule.valid(f) {
				invalid++
			}
		}
		out = append(out, Result{Check: CheckNumericRangesName, ID: id, Violations: invalid})
	}
	return out
}
