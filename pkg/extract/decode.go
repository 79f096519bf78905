package extract

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/storeflow/storeflow/pkg/table"
)

// Decoder turns one raw source file into a table of string cells.
type Decoder interface {
	// Format names the decoder for logs and summaries.
	Format() string
	// Extension is the file suffix the decoder reads, including the dot.
	Extension() string
	Decode(name string, r io.Reader) (*table.Table, error)
}

// errNoColumns is returned for a source that exists but has no header.
var errNoColumns = errors.New("no columns to parse")

// CSVDecoder reads comma-separated files with a header row.
type CSVDecoder struct {
	Comma rune
}

// Format returns "csv".
func (d CSVDecoder) Format() string { return "csv" }

// Extension returns ".csv".
func (d CSVDecoder) Extension() string { return ".csv" }

// Decode reads the header then every record. Records shorter than the
// header are padded with nulls; longer records fail the whole source.
func (d CSVDecoder) Decode(name string, r io.Reader) (*table.Table, error) {
	reader := csv.NewReader(r)
	if d.Comma != 0 {
		reader.Comma = d.Comma
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errNoColumns
	}
	if err != nil {
		return nil, err
	}

	tbl := table.New(name, normalizeHeader(header)...)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if err := appendRecord(tbl, record, line); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

// XLSXDecoder reads the first sheet of an Excel workbook, header row first.
type XLSXDecoder struct{}

// Format returns "xlsx".
func (d XLSXDecoder) Format() string { return "xlsx" }

// Extension returns ".xlsx".
func (d XLSXDecoder) Extension() string { return ".xlsx" }

// Decode reads the workbook fully into memory; excelize needs random access.
func (d XLSXDecoder) Decode(name string, r io.Reader) (*table.Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	xlFile, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer xlFile.Close()

	sheetName := xlFile.GetSheetName(0)
	if sheetName == "" {
		sheetList := xlFile.GetSheetList()
		if len(sheetList) == 0 {
			return nil, fmt.Errorf("no sheets found in xlsx file")
		}
		sheetName = sheetList[0]
	}

	rows, err := xlFile.Rows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, errNoColumns
	}
	header, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) == 0 {
		return nil, errNoColumns
	}

	tbl := table.New(name, normalizeHeader(header)...)
	line := 1
	for rows.Next() {
		line++
		cols, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		// excelize trims trailing empty cells and yields nothing for
		// blank rows.
		if len(cols) == 0 {
			continue
		}
		if err := appendRecord(tbl, cols, line); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

func appendRecord(tbl *table.Table, record []string, line int) error {
	width := tbl.Width()
	if len(record) > width {
		return fmt.Errorf("line %d: expected %d fields, saw %d", line, width, len(record))
	}
	row := make([]table.Value, width)
	for i := range row {
		if i < len(record) {
			row[i] = table.Raw(record[i])
		}
	}
	return tbl.Append(row...)
}

// normalizeHeader strips a UTF-8 byte-order mark, trims names and
// suffixes repeated names with .1, .2 so every column stays addressable.
func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int)
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		h = strings.TrimSpace(h)
		if h == "" {
			h = "Unnamed: " + strconv.Itoa(i)
		}
		if n, dup := seen[h]; dup {
			base := h
			for {
				n++
				h = base + "." + strconv.Itoa(n)
				if _, taken := seen[h]; !taken {
					break
				}
			}
			seen[base] = n
		}
		seen[h] = 0
		out[i] = h
	}
	return out
}
