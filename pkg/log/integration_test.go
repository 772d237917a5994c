package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestLoggerInterface(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelDebug)

	testLogger.Debug("debug message", "key1", "value1", "number", 42)
	testLogger.Info("info message", OperationKey, OperationTrainEpoch)
	testLogger.Warn("warning message", "warning_code", "TEST_WARNING")
	testLogger.Error("error message", fmt.Errorf("test error"), "error_code", "TEST_ERROR")

	if buffer.String() == "" {
		t.Fatal("Expected log output, got empty string")
	}
	for _, msg := range []string{"debug message", "info message", "warning message", "error message"} {
		if !testLogger.ContainsMessage(msg) {
			t.Errorf("%q not found in output", msg)
		}
	}
	if !testLogger.ContainsField("key1", "value1") {
		t.Error("Expected field key1=value1 not found")
	}
	if !testLogger.ContainsField("number", 42.0) {
		t.Error("Expected field number=42 not found")
	}
	if !testLogger.ContainsField(ErrAttrKey, "test error") {
		t.Error("Expected leading error to be recorded under ErrAttrKey")
	}
	if !testLogger.ContainsField("error_code", "TEST_ERROR") {
		t.Error("Expected error_code field after the error")
	}
}

func TestLoggerWith(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelDebug)

	foldLogger := testLogger.With(
		ArchitectureKey, "resnet50",
		FoldKey, 2,
	)
	foldLogger.Info("Epoch complete", EpochKey, 7, ValAccKey, 91.25)

	checks := []struct {
		key   string
		value interface{}
	}{
		{ArchitectureKey, "resnet50"},
		{FoldKey, 2.0},
		{EpochKey, 7.0},
		{ValAccKey, 91.25},
	}
	for _, c := range checks {
		if !testLogger.ContainsField(c.key, c.value) {
			t.Errorf("field %s=%v not found", c.key, c.value)
		}
	}

	// The parent logger must not inherit fields from the derived one.
	testLogger.Clear()
	testLogger.Info("plain")
	if testLogger.ContainsField(ArchitectureKey, "resnet50") {
		t.Error("With leaked fields into the parent logger")
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name     string
		level    Level
		expected []string
		dropped  []string
	}{
		{"debug", LevelDebug, []string{"debug", "info", "warn", "error"}, nil},
		{"info", LevelInfo, []string{"info", "warn", "error"}, []string{"debug"}},
		{"warn", LevelWarn, []string{"warn", "error"}, []string{"debug", "info"}},
		{"error", LevelError, []string{"error"}, []string{"debug", "info", "warn"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := NewTestLogger(tt.level)
			logger.Debug("debug-msg")
			logger.Info("info-msg")
			logger.Warn("warn-msg")
			logger.Error("error-msg")

			for _, m := range tt.expected {
				if !logger.ContainsMessage(m + "-msg") {
					t.Errorf("expected %s message at level %s", m, tt.level)
				}
			}
			for _, m := range tt.dropped {
				if logger.ContainsMessage(m + "-msg") {
					t.Errorf("unexpected %s message at level %s", m, tt.level)
				}
			}
		})
	}
}

func TestLoggerEnabled(t *testing.T) {
	logger, _ := NewTestLogger(LevelWarn)
	ctx := context.Background()

	if logger.Enabled(ctx, LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !logger.Enabled(ctx, LevelError) {
		t.Error("error should be enabled at warn level")
	}
}

func TestTestLoggerConcurrentUse(t *testing.T) {
	logger, _ := NewTestLogger(LevelInfo)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(fold int) {
			defer wg.Done()
			l := logger.With(FoldKey, fold)
			for epoch := 1; epoch <= 25; epoch++ {
				l.Info("epoch", EpochKey, epoch)
			}
		}(i + 1)
	}
	wg.Wait()

	entries, err := logger.GetLogEntries()
	if err != nil {
		t.Fatalf("GetLogEntries: %v", err)
	}
	if len(entries) != 200 {
		t.Errorf("expected 200 entries, got %d", len(entries))
	}
}

func TestProviderSwap(t *testing.T) {
	testProvider, _ := NewTestLoggerProvider(LevelDebug)
	prev := SetProvider(testProvider)
	defer SetProvider(prev)

	GetLoggerWithName("experiment").Info("Run started", RunNameKey, "vit_20240101-1200")

	logger := testProvider.Logger()
	if !logger.ContainsField(ComponentKey, "experiment") {
		t.Error("GetLoggerWithName should tag the component")
	}
	if !logger.ContainsField(RunNameKey, "vit_20240101-1200") {
		t.Error("run name field missing")
	}

	testProvider.SetLevel(LevelError)
	GetLogger().Info("suppressed")
	if logger.ContainsMessage("suppressed") {
		t.Error("SetLevel should raise the threshold")
	}
}

func TestSetupLoggerAddsStacktrace(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	if err := SetupLogger(&buf, "info"); err != nil {
		t.Fatalf("SetupLogger: %v", err)
	}

	GetLogger().Error("run failed", errors.New("boom"), FoldKey, 3)

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["severity"] != "ERROR" {
		t.Errorf("expected severity ERROR, got %v", entry["severity"])
	}
	if entry["message"] != "run failed" {
		t.Errorf("expected message key, got %v", entry["message"])
	}
	if entry[ErrAttrKey] != "boom" {
		t.Errorf("expected error attr, got %v", entry[ErrAttrKey])
	}
	if stack, _ := entry[StacktraceAttrKey].(string); stack == "" {
		t.Error("expected stacktrace attr for a cockroachdb error")
	}
}

func TestSetupLoggerRejectsUnknownLevel(t *testing.T) {
	if err := SetupLogger(&bytes.Buffer{}, "verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestToLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ToLogLevel(tt.in)
		if err != nil {
			t.Fatalf("ToLogLevel(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ToLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
