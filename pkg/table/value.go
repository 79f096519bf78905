package table

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind is the semantic type of a cell.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindDate
	KindTime
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// Value is a single table cell. The zero value is null.
type Value struct {
	kind Kind
	s    string
	f    float64
	t    time.Time
}

// Null is the missing-value marker.
var Null = Value{}

// naTokens are read as null, matching what spreadsheet and dataframe
// exports commonly write for missing cells.
var naTokens = map[string]struct{}{
	"":     {},
	"NA":   {},
	"N/A":  {},
	"n/a":  {},
	"NaN":  {},
	"nan":  {},
	"null": {},
	"NULL": {},
	"None": {},
	"#N/A": {},
	"<NA>": {},
	"NaT":  {},
}

// Str returns a string cell.
func Str(s string) Value { return Value{kind: KindString, s: s} }

// Raw interprets a raw source cell: NA tokens become null, anything
// else is kept verbatim as a string.
func Raw(s string) Value {
	if _, ok := naTokens[strings.TrimSpace(s)]; ok {
		return Null
	}
	return Str(s)
}

// Num returns a numeric cell. NaN and infinities are null.
func Num(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null
	}
	return Value{kind: KindNumber, f: f}
}

// Date returns a calendar-date cell.
func Date(t time.Time) Value {
	y, m, d := t.Date()
	return Value{kind: KindDate, t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// Time returns a timestamp cell.
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

// Kind returns the cell kind.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the cell is missing.
func (v Value) IsNull() bool { return v.kind == KindNull }

// String renders the cell the way sinks persist it. Null renders empty.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindDate:
		return v.t.Format(DateLayout)
	case KindTime:
		if v.t.Location() == time.UTC {
			if v.t.Nanosecond() != 0 {
				return v.t.Format("2006-01-02 15:04:05.999999")
			}
			return v.t.Format(TimestampLayout)
		}
		return v.t.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// Float returns the numeric value of the cell. String cells are parsed.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.f, true
	case KindString:
		return ParseNumber(v.s)
	default:
		return 0, false
	}
}

// AsTime returns the time value of the cell. String cells are parsed with
// the same permissive layouts used during staging.
func (v Value) AsTime() (time.Time, bool) {
	switch v.kind {
	case KindDate, KindTime:
		return v.t, true
	case KindString:
		parsed, ok := ParseTime(v.s)
		if !ok {
			return time.Time{}, false
		}
		return parsed.t, true
	default:
		return time.Time{}, false
	}
}

// Key returns a canonical form used for key comparison. Integral numbers
// render without a fractional part so "7", "7.0" and Num(7) share a key.
func (v Value) Key() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindNumber:
		return canonicalNumber(v.f)
	case KindString:
		s := strings.TrimSpace(v.s)
		if k, ok := canonicalInteger(s); ok {
			return k
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return canonicalNumber(f)
		}
		return s
	default:
		return v.String()
	}
}

// Equal reports whether two cells hold the same kind and value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.f == o.f
	default:
		return v.t.Equal(o.t)
	}
}

func canonicalNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// canonicalInteger normalizes an integral decimal string digit by digit so
// identifiers wider than a float64 mantissa keep distinct keys. A fraction
// made only of zeros is dropped.
func canonicalInteger(s string) (string, bool) {
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" || strings.Trim(whole, "0123456789") != "" || strings.Trim(frac, "0") != "" {
		return "", false
	}
	whole = strings.TrimLeft(whole, "0")
	if whole == "" {
		return "0", true
	}
	if neg {
		return "-" + whole, true
	}
	return whole, true
}
