package errors

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name     string
		op       string
		kind     string
		err      error
		wantMsg  string
		hasStack bool
	}{
		{
			name:     "with original error",
			op:       "Forward",
			kind:     "invalid input",
			err:      fmt.Errorf("test error"),
			wantMsg:  "beanscope: Forward: invalid input: test error",
			hasStack: true,
		},
		{
			name:     "without original error",
			op:       "Step",
			kind:     "no parameters",
			err:      nil,
			wantMsg:  "beanscope: Step: no parameters",
			hasStack: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)

			// 基本的なエラーメッセージの確認
			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}

			// スタックトレースの存在確認
			if tt.hasStack {
				formatted := fmt.Sprintf("%+v", err)
				if !strings.Contains(formatted, "errors_test.go") {
					t.Error("Expected stack trace to contain test file name")
				}
			}

			var modelErr *ModelError
			if !As(err, &modelErr) {
				t.Error("Error should be castable to *ModelError")
			}
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("CrossEntropy", 32, 31, 0)

	want := "beanscope: CrossEntropy: dimension mismatch on axis 0 (rows). Expected 32, got 31"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var dimErr *DimensionError
	if !As(err, &dimErr) {
		t.Error("Error should be castable to *DimensionError")
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("patience", "must be at least 1", 0)

	want := "beanscope: validation failed for parameter 'patience': must be at least 1 (got: 0)"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var valErr *ValidationError
	if !As(err, &valErr) {
		t.Error("Error should be castable to *ValidationError")
	}
}

func TestNewUnsupportedArchitectureError(t *testing.T) {
	err := NewUnsupportedArchitectureError("alexnet", []string{"resnet50", "vit"})

	if !strings.Contains(err.Error(), `"alexnet"`) {
		t.Errorf("Error() = %v, want architecture name in message", err.Error())
	}

	var archErr *UnsupportedArchitectureError
	if !As(err, &archErr) {
		t.Fatal("Error should be castable to *UnsupportedArchitectureError")
	}
	if len(archErr.Supported) != 2 {
		t.Errorf("Supported = %v, want 2 entries", archErr.Supported)
	}
}

func TestNewDeviceUnavailableError(t *testing.T) {
	err := NewDeviceUnavailableError("cuda", []string{"cpu"})

	want := `beanscope: device "cuda" is not available on this host (available: [cpu])`
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
}

func TestWrapf(t *testing.T) {
	wrapped := Wrapf(ErrEmptyData, "dataset %s", "data/train")

	if !Is(wrapped, ErrEmptyData) {
		t.Error("Expected Is(wrapped, ErrEmptyData) to be true")
	}
	if !strings.Contains(wrapped.Error(), "dataset data/train") {
		t.Errorf("Expected wrapped error to contain context, got %q", wrapped.Error())
	}
}

func TestErrorChaining(t *testing.T) {
	err1 := fmt.Errorf("base error")
	err2 := Wrap(err1, "wrapped once")
	err3 := NewModelError("Forward", "failed", err2)

	if !strings.Contains(err3.Error(), "base error") {
		t.Error("Expected error chain to contain base error")
	}

	formatted := fmt.Sprintf("%+v", err3)
	if !strings.Contains(formatted, "errors_test.go") {
		t.Error("Expected detailed error to contain stack trace")
	}
}

func TestWarnRoutesToZerolog(t *testing.T) {
	var buf bytes.Buffer
	SetZerologWarnFunc(ZerologWarnFunc(zerolog.New(&buf)))
	defer SetZerologWarnFunc(nil)

	Warn(NewUndefinedMetricWarning("precision", "no predicted samples for class 2", 0))

	out := buf.String()
	if !strings.Contains(out, `"type":"UndefinedMetricWarning"`) {
		t.Errorf("Expected structured warning, got %s", out)
	}
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("Expected warn level, got %s", out)
	}
}

func TestWarnFallsBackToHandler(t *testing.T) {
	var got []error
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(nil)

	Warn(NewUndefinedMetricWarning("recall", "no true samples for class 1", 0))

	if len(got) != 1 {
		t.Fatalf("Expected 1 warning, got %d", len(got))
	}
}
