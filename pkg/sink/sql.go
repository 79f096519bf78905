package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	sferrors "github.com/storeflow/storeflow/pkg/errors"
	"github.com/storeflow/storeflow/pkg/interfaces"
	"github.com/storeflow/storeflow/pkg/schema"
	"github.com/storeflow/storeflow/pkg/table"
)

// Dialect captures the SQL differences between supported drivers.
type Dialect struct {
	Driver      string
	NumericType string
	TextType    string
	// Positional placeholders use $n instead of ?.
	Positional bool
	// TableExists is a query taking the table name and returning a row
	// when the table exists.
	TableExists string
}

var dialects = map[string]Dialect{
	"sqlite3": {
		Driver:      "sqlite3",
		NumericType: "REAL",
		TextType:    "TEXT",
		TableExists: "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
	},
	"sqlite": {
		Driver:      "sqlite",
		NumericType: "REAL",
		TextType:    "TEXT",
		TableExists: "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
	},
	"duckdb": {
		Driver:      "duckdb",
		NumericType: "DOUBLE",
		TextType:    "VARCHAR",
		TableExists: "SELECT table_name FROM information_schema.tables WHERE table_name = ?",
	},
	"pgx": {
		Driver:      "pgx",
		NumericType: "DOUBLE PRECISION",
		TextType:    "TEXT",
		Positional:  true,
		TableExists: "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1",
	},
}

// DialectFor returns the dialect registered for a driver name.
func DialectFor(driver string) (Dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
	return d, nil
}

func (d Dialect) placeholder(i int) string {
	if d.Positional {
		return fmt.Sprintf("$%d", i+1)
	}
	return "?"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SQLSink replaces each table in a relational database.
type SQLSink struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	metrics interfaces.MetricsExporter
}

// OpenSQL opens a database for the given driver and DSN.
func OpenSQL(ctx context.Context, driver, dsn string, logger *slog.Logger, metrics interfaces.MetricsExporter) (*SQLSink, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, sferrors.Wrap(err, sferrors.CodeConfigInvalid, "invalid relational sink")
	}
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, sferrors.Wrapf(err, sferrors.CodeSinkFailure, "failed to open %s", driver)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, sferrors.Wrapf(err, sferrors.CodeSinkFailure, "failed to connect to %s", driver)
	}
	return NewSQLSink(db, d, logger, metrics), nil
}

// NewSQLSink wraps an open database.
func NewSQLSink(db *sql.DB, d Dialect, logger *slog.Logger, metrics interfaces.MetricsExporter) *SQLSink {
	return &SQLSink{db: db, dialect: d, logger: logger, metrics: metrics}
}

// Name returns "database".
func (s *SQLSink) Name() string { return "database" }

// Write drops, recreates and fills every table, each in its own
// transaction.
func (s *SQLSink) Write(ctx context.Context, tables table.Set) error {
	var failed []string
	var errs sferrors.MultiError

	for _, name := range orderedNames(tables) {
		if err := ctx.Err(); err != nil {
			return err
		}
		tbl := tables[name]
		start := time.Now()
		if err := s.replaceTable(ctx, tbl); err != nil {
			s.logger.Error("failed to load table",
				slog.String("table", name),
				slog.String("driver", s.dialect.Driver),
				slog.String("error", err.Error()))
			s.metrics.Counter(interfaces.MetricSinkFailures, 1, map[string]string{
				interfaces.TagSink:  s.Name(),
				interfaces.TagTable: name,
			})
			failed = append(failed, name)
			errs.Add(fmt.Errorf("%s: %w", name, err))
			continue
		}
		s.metrics.Counter(interfaces.MetricSinkTablesWritten, 1, map[string]string{
			interfaces.TagSink:  s.Name(),
			interfaces.TagTable: name,
		})
		s.logger.Info("loaded table",
			slog.String("table", name),
			slog.String("driver", s.dialect.Driver),
			slog.Int("rows", tbl.Len()),
			slog.Duration("duration", time.Since(start)))
	}
	return failure(failed, &errs)
}

func (s *SQLSink) replaceTable(ctx context.Context, tbl *table.Table) error {
	cols := tbl.Columns()
	if len(cols) == 0 {
		return fmt.Errorf("table has no columns")
	}
	numeric := numericColumns(tbl)

	defs := make([]string, len(cols))
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for c, name := range cols {
		typ := s.dialect.TextType
		if numeric[c] {
			typ = s.dialect.NumericType
		}
		quoted[c] = quoteIdent(name)
		defs[c] = quoted[c] + " " + typ
		marks[c] = s.dialect.placeholder(c)
	}
	ident := quoteIdent(tbl.Name)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", ident, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ident, strings.Join(quoted, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]interface{}, len(cols))
	for i := 0; i < tbl.Len(); i++ {
		for c, v := range tbl.Row(i) {
			args[c] = bindValue(v, numeric[c])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func bindValue(v table.Value, numeric bool) interface{} {
	if v.IsNull() {
		return nil
	}
	if numeric {
		f, _ := v.Float()
		return f
	}
	return v.String()
}

// Load reads back every warehouse table present in the database.
func (s *SQLSink) Load(ctx context.Context) (table.Set, error) {
	out := make(table.Set)
	for _, name := range schema.WarehouseNames() {
		var found string
		err := s.db.QueryRowContext(ctx, s.dialect.TableExists, name).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, sferrors.Wrapf(err, sferrors.CodeSinkFailure, "failed to look up %s", name)
		}
		tbl, err := s.readTable(ctx, name)
		if err != nil {
			return nil, sferrors.Wrapf(err, sferrors.CodeSinkFailure, "failed to read %s", name)
		}
		out[name] = tbl
	}
	return out, nil
}

func (s *SQLSink) readTable(ctx context.Context, name string) (*table.Table, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	tbl := table.New(name, cols...)

	cells := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for c := range cells {
		ptrs[c] = &cells[c]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]table.Value, len(cols))
		for c, cell := range cells {
			row[c] = scanValue(cell)
		}
		if err := tbl.Append(row...); err != nil {
			return nil, err
		}
	}
	return tbl, rows.Err()
}

func scanValue(cell interface{}) table.Value {
	switch v := cell.(type) {
	case nil:
		return table.Null
	case float64:
		return table.Num(v)
	case float32:
		return table.Num(float64(v))
	case int64:
		return table.Num(float64(v))
	case int32:
		return table.Num(float64(v))
	case []byte:
		return table.Str(string(v))
	case string:
		return table.Str(v)
	case time.Time:
		return table.Time(v)
	default:
		return table.Raw(fmt.Sprint(v))
	}
}

// Close closes the database.
func (s *SQLSink) Close() error {
	return s.db.Close()
}

var _ Sink = (*SQLSink)(nil)
