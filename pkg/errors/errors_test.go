package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Message(t *testing.T) {
	err := New(CodeParseFailure, "bad header").
		WithContext("table", "users").
		WithContext("column", "user_id")

	got := err.Error()
	want := "[PARSE_FAILURE] bad header (column=user_id, table=users)"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, CodeSinkFailure, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, CodeSinkFailure, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}

func TestWrap_Chain(t *testing.T) {
	root := fmt.Errorf("disk full")
	err := Wrap(root, CodeSinkFailure, "write dim_users")

	if !errors.Is(err, root) {
		t.Error("errors.Is should find the root cause")
	}
	if !errors.Is(err, ErrSinkFailure) {
		t.Error("errors.Is should match the sentinel with the same code")
	}
	if errors.Is(err, ErrParseFailure) {
		t.Error("errors.Is should not match a sentinel with a different code")
	}
	if !strings.HasSuffix(err.Error(), ": disk full") {
		t.Errorf("Error() = %q, want cause suffix", err.Error())
	}
	if err.Caller == "" {
		t.Error("Caller should be captured")
	}
}

func TestIsCode(t *testing.T) {
	inner := New(CodeParseFailure, "missing column")
	outer := Wrap(inner, CodeInternal, "stage failed")
	wrapped := fmt.Errorf("context: %w", outer)

	tests := []struct {
		name string
		err  error
		code Code
		want bool
	}{
		{"direct", inner, CodeParseFailure, true},
		{"outer code", outer, CodeInternal, true},
		{"inner code through chain", outer, CodeParseFailure, true},
		{"through fmt wrap", wrapped, CodeParseFailure, true},
		{"absent", outer, CodeSinkFailure, false},
		{"plain error", fmt.Errorf("plain"), CodeParseFailure, false},
		{"nil", nil, CodeParseFailure, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCode(tt.err, tt.code); got != tt.want {
				t.Errorf("IsCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(New(CodeStateIO, "x")); got != CodeStateIO {
		t.Errorf("GetCode() = %v, want %v", got, CodeStateIO)
	}
	if got := GetCode(fmt.Errorf("plain")); got != CodeUnknown {
		t.Errorf("GetCode(plain) = %v, want %v", got, CodeUnknown)
	}
}

func TestMultiError(t *testing.T) {
	var m MultiError
	if m.HasErrors() {
		t.Error("empty MultiError should have no errors")
	}
	if m.Combined() != nil {
		t.Error("Combined() of empty should be nil")
	}

	first := New(CodeSinkFailure, "dim_users")
	m.Add(first)
	m.Add(nil)
	if got := m.Combined(); got != first {
		t.Errorf("Combined() with one error = %v, want %v", got, first)
	}

	m.Add(New(CodeSinkFailure, "fact_orders"))
	combined := m.Combined()
	if combined != &m {
		t.Fatalf("Combined() with two errors should return the MultiError")
	}
	if !strings.HasPrefix(combined.Error(), "2 errors occurred") {
		t.Errorf("Error() = %q", combined.Error())
	}
	if !IsCode(combined, CodeSinkFailure) {
		t.Error("IsCode should look inside MultiError")
	}
	if !errors.Is(combined, ErrSinkFailure) {
		t.Error("errors.Is should look inside MultiError")
	}
}
