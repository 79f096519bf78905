package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/storeflow/storeflow/pkg/table"
)

// Codec serializes one table to a file format and back.
type Codec interface {
	Format() string
	Extension() string
	Encode(w io.Writer, tbl *table.Table) error
	Decode(ctx context.Context, name string, data []byte) (*table.Table, error)
}

// CodecFor returns the codec for a configured file format.
func CodecFor(format string) (Codec, error) {
	switch format {
	case "csv", "":
		return CSVCodec{}, nil
	case "parquet":
		return NewParquetCodec(), nil
	default:
		return nil, fmt.Errorf("unsupported file format %q", format)
	}
}

// CSVCodec writes a header row followed by one record per row. Nulls are
// written as empty fields and read back as nulls.
type CSVCodec struct{}

func (CSVCodec) Format() string    { return "csv" }
func (CSVCodec) Extension() string { return ".csv" }

func (CSVCodec) Encode(w io.Writer, tbl *table.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tbl.Columns()); err != nil {
		return err
	}
	record := make([]string, tbl.Width())
	for i := 0; i < tbl.Len(); i++ {
		for c, v := range tbl.Row(i) {
			record[c] = v.String()
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (CSVCodec) Decode(_ context.Context, name string, data []byte) (*table.Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(records) == 0 {
		return table.New(name), nil
	}
	tbl := table.New(name, records[0]...)
	for _, rec := range records[1:] {
		row := make([]table.Value, len(rec))
		for c, s := range rec {
			row[c] = table.Raw(s)
		}
		if err := tbl.Append(row...); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

// ParquetCodec stores numeric columns as float64 and everything else as
// strings. Both are nullable.
type ParquetCodec struct {
	alloc memory.Allocator
}

// NewParquetCodec creates a codec backed by the Go allocator.
func NewParquetCodec() *ParquetCodec {
	return &ParquetCodec{alloc: memory.NewGoAllocator()}
}

func (p *ParquetCodec) Format() string    { return "parquet" }
func (p *ParquetCodec) Extension() string { return ".parquet" }

func (p *ParquetCodec) Encode(w io.Writer, tbl *table.Table) error {
	cols := tbl.Columns()
	numeric := numericColumns(tbl)

	fields := make([]arrow.Field, len(cols))
	for c, name := range cols {
		typ := arrow.DataType(arrow.BinaryTypes.String)
		if numeric[c] {
			typ = arrow.PrimitiveTypes.Float64
		}
		fields[c] = arrow.Field{Name: name, Type: typ, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithDictionaryDefault(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	fw, err := pqarrow.NewFileWriter(schema, w, writerProps, arrowProps)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	arrays := make([]arrow.Array, len(cols))
	for c, name := range cols {
		arrays[c] = p.buildColumn(tbl, name, numeric[c])
	}
	record := array.NewRecord(schema, arrays, int64(tbl.Len()))
	for _, a := range arrays {
		a.Release()
	}
	defer record.Release()

	if tbl.Len() > 0 {
		if err := fw.Write(record); err != nil {
			fw.Close()
			return fmt.Errorf("failed to write parquet batch: %w", err)
		}
	}
	return fw.Close()
}

func (p *ParquetCodec) buildColumn(tbl *table.Table, name string, numeric bool) arrow.Array {
	if numeric {
		b := array.NewFloat64Builder(p.alloc)
		defer b.Release()
		b.Reserve(tbl.Len())
		for i := 0; i < tbl.Len(); i++ {
			f, ok := tbl.Get(i, name).Float()
			if !ok {
				b.AppendNull()
				continue
			}
			b.Append(f)
		}
		return b.NewArray()
	}

	b := array.NewStringBuilder(p.alloc)
	defer b.Release()
	b.Reserve(tbl.Len())
	for i := 0; i < tbl.Len(); i++ {
		v := tbl.Get(i, name)
		if v.IsNull() {
			b.AppendNull()
			continue
		}
		b.Append(v.String())
	}
	return b.NewArray()
}

func (p *ParquetCodec) Decode(ctx context.Context, name string, data []byte) (*table.Table, error) {
	pqReader, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pqReader.Close()

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{}, p.alloc)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	at, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet table: %w", err)
	}
	defer at.Release()

	schema := at.Schema()
	cols := make([]string, schema.NumFields())
	for c := range cols {
		cols[c] = schema.Field(c).Name
	}
	tbl := table.New(name, cols...)

	tr := array.NewTableReader(at, 8192)
	defer tr.Release()
	for tr.Next() {
		rec := tr.Record()
		for i := 0; i < int(rec.NumRows()); i++ {
			row := make([]table.Value, len(cols))
			for c := range cols {
				row[c] = cellValue(rec.Column(c), i)
			}
			if err := tbl.Append(row...); err != nil {
				return nil, err
			}
		}
	}
	return tbl, nil
}

func cellValue(col arrow.Array, i int) table.Value {
	if col.IsNull(i) {
		return table.Null
	}
	switch a := col.(type) {
	case *array.Float64:
		return table.Num(a.Value(i))
	case *array.Int64:
		return table.Num(float64(a.Value(i)))
	case *array.String:
		return table.Str(a.Value(i))
	default:
		return table.Raw(a.ValueStr(i))
	}
}

var (
	_ Codec = CSVCodec{}
	_ Codec = (*ParquetCodec)(nil)
)
