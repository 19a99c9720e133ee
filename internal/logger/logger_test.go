package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	l := New()
	if l == nil {
		t.Fatal("New() returned nil")
		return
	}
	if l.Level() != LevelInfo {
		t.Errorf("expected default level to be INFO, got %s", l.Level())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"loud", LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLogLevels(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New()
	l.SetOutput(buf)
	l.SetLevel(LevelDebug)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	output := buf.String()
	for _, want := range []string{"[DEBUG]", "[INFO]", "[WARN]", "[ERROR]"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %s", want)
		}
	}
}

func TestLogFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New()
	l.SetOutput(buf)
	l.SetLevel(LevelWarn)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	output := buf.String()
	if strings.Contains(output, "[DEBUG]") {
		t.Error("DEBUG should be filtered out")
	}
	if strings.Contains(output, "[INFO]") {
		t.Error("INFO should be filtered out")
	}
	if !strings.Contains(output, "[WARN]") {
		t.Error("WARN should be present")
	}
	if !strings.Contains(output, "[ERROR]") {
		t.Error("ERROR should be present")
	}
}

func TestJSONOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New()
	l.SetOutput(buf)
	l.SetJSON(true)

	l.Component("pool").Info("spawned %s", "alpha")

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}

	if entry.Level != "INFO" {
		t.Errorf("expected level to be INFO, got %s", entry.Level)
	}
	if entry.Message != "spawned alpha" {
		t.Errorf("expected message 'spawned alpha', got '%s'", entry.Message)
	}
	if entry.Fields["component"] != "pool" {
		t.Errorf("expected component=pool, got %v", entry.Fields["component"])
	}
}

func TestWithFields_SortedAndShared(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New()
	l.SetOutput(buf)

	child := l.WithFields(map[string]interface{}{
		"zeta":  1,
		"alpha": "a",
	})

	// Level changes on the root apply to children.
	l.SetLevel(LevelError)
	child.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected child to honour root level, got %q", buf.String())
	}

	l.SetLevel(LevelInfo)
	child.Info("visible")

	output := buf.String()
	if !strings.Contains(output, "visible alpha=a zeta=1") {
		t.Errorf("expected sorted fields, got: %s", output)
	}
}

func TestWithField_DoesNotMutateParent(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New()
	l.SetOutput(buf)

	_ = l.WithField("key", "value")
	l.Info("plain")

	if strings.Contains(buf.String(), "key=value") {
		t.Errorf("parent logger picked up child field: %s", buf.String())
	}
}

func TestDisable(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New()
	l.SetOutput(buf)

	l.Disable()
	l.Info("this should not appear")

	if buf.Len() > 0 {
		t.Error("expected no output when logger is disabled")
	}

	l.Enable()
	l.Info("this should appear")

	if buf.Len() == 0 {
		t.Error("expected output when logger is enabled")
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(100), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("Level(%d).String() = %s, expected %s", tt.level, got, tt.expected)
		}
	}
}

func TestDefaultLogger(t *testing.T) {
	SetDefaultOutput(io.Discard)
	SetDefaultLevel(LevelDebug)
	SetDefaultJSON(false)

	Debug("debug")
	Info("info")
	Warn("warn")
	Error("error")

	if WithField("key", "value") == nil {
		t.Error("WithField returned nil")
	}
	if WithFields(map[string]interface{}{"key": "value"}) == nil {
		t.Error("WithFields returned nil")
	}
	if Default() == nil {
		t.Error("Default returned nil")
	}
}

func TestNop(t *testing.T) {
	// Must not panic or write anywhere.
	Nop().Error("nothing")
}
