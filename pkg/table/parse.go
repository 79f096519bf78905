package table

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the persisted form of calendar dates.
	DateLayout = "2006-01-02"
	// TimestampLayout is the persisted form of zone-less timestamps.
	TimestampLayout = "2006-01-02 15:04:05"
)

type timeLayout struct {
	layout   string
	dateOnly bool
}

// Tried in order. Layouts carrying an explicit zone come first so an offset
// is never silently discarded.
var timeLayouts = []timeLayout{
	{time.RFC3339Nano, false},
	{time.RFC3339, false},
	{"2006-01-02 15:04:05Z07:00", false},
	{"2006-01-02 15:04:05.999999999", false},
	{TimestampLayout, false},
	{"2006-01-02T15:04:05.999999999", false},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02 15:04", false},
	{"2006-01-02T15:04", false},
	{DateLayout, true},
	{"2006/01/02", true},
	{"2006/01/02 15:04:05", false},
	{"01/02/2006", true},
	{"01/02/2006 15:04:05", false},
	{"01/02/2006 15:04", false},
	{"02-Jan-2006", true},
	{"Jan 2, 2006", true},
}

// ParseTime parses s with the permissive layout list. Date-only inputs
// yield a Date cell, everything else a Time cell. Zone-less timestamps are
// taken as UTC.
func ParseTime(s string) (Value, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Null, false
	}
	for _, l := range timeLayouts {
		t, err := time.Parse(l.layout, s)
		if err != nil {
			continue
		}
		if l.dateOnly {
			return Date(t), true
		}
		return Time(t), true
	}
	return Null, false
}

// ParseNumber parses a decimal number. NaN and infinities are rejected.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// CoerceTime converts a cell to a Date or Time cell. The second return is
// false when a non-null cell could not be converted; the cell is then null.
func CoerceTime(v Value) (Value, bool) {
	switch v.kind {
	case KindNull:
		return Null, true
	case KindDate, KindTime:
		return v, true
	case KindNumber:
		return Null, false
	default:
		parsed, ok := ParseTime(v.s)
		if !ok {
			return Null, false
		}
		return parsed, true
	}
}

// CoerceNumber converts a cell to a Number cell with the same contract as
// CoerceTime.
func CoerceNumber(v Value) (Value, bool) {
	switch v.kind {
	case KindNull:
		return Null, true
	case KindNumber:
		return v, true
	case KindString:
		f, ok := ParseNumber(v.s)
		if !ok {
			return Null, false
		}
		return Num(f), true
	default:
		return Null, false
	}
}
