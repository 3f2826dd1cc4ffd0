package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T, level LogLevel, format LogFormat) (*StructuredLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  level,
		Output: &buf,
		Format: format,
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger, &buf
}

func TestLogLevels(t *testing.T) {
	logger, buf := newTestLogger(t, INFO, FormatText)

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("Debug message was logged when level is INFO")
	}

	logger.Info("info message")
	if !strings.Contains(buf.String(), "[INFO] info message") {
		t.Errorf("Info message not found in output: %q", buf.String())
	}

	buf.Reset()
	logger.Error("error message")
	if !strings.Contains(buf.String(), "[ERROR] error message") {
		t.Errorf("Error message not found in output: %q", buf.String())
	}
}

func TestStructuredLogger_JSONFields(t *testing.T) {
	logger, buf := newTestLogger(t, DEBUG, FormatJSON)

	logger.WithComponent("filecache").Info("grid loaded", map[string]interface{}{
		"grid":  "density",
		"level": 1,
	})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry.Message != "grid loaded" || entry.Level != "INFO" {
		t.Errorf("unexpected entry %+v", entry)
	}
	if entry.Fields["component"] != "filecache" || entry.Fields["grid"] != "density" {
		t.Errorf("unexpected fields %v", entry.Fields)
	}
}

func TestStructuredLogger_WithFieldDoesNotLeak(t *testing.T) {
	logger, buf := newTestLogger(t, INFO, FormatText)

	child := logger.WithField("path", "/tmp/a.vgrid")
	child.Info("child")
	if !strings.Contains(buf.String(), "path=/tmp/a.vgrid") {
		t.Errorf("child field missing: %q", buf.String())
	}

	buf.Reset()
	logger.Info("parent")
	if strings.Contains(buf.String(), "path=") {
		t.Errorf("parent picked up child field: %q", buf.String())
	}
}

func TestStructuredLogger_ComponentLevel(t *testing.T) {
	logger, buf := newTestLogger(t, INFO, FormatText)
	logger.SetComponentLevel("memmon", ERROR)

	memmon := logger.WithComponent("memmon")
	memmon.Warn("suppressed")
	if buf.Len() > 0 {
		t.Errorf("component level ignored: %q", buf.String())
	}

	logger.WithComponent("filecache").Warn("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("other component should use the global level")
	}
}

func TestStructuredLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volgrid.log")
	logger, err := NewStructuredLogger(&StructuredLoggerConfig{Level: INFO, File: path})
	if err != nil {
		t.Fatalf("NewStructuredLogger: %v", err)
	}
	logger.Info("to file")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file content %q", data)
	}
}

func TestNewNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Error("nothing to see")
	if logger.GetLevel() <= FATAL {
		t.Error("nop logger should be above every level")
	}
}

func TestParseLogFormat(t *testing.T) {
	if ParseLogFormat("JSON") != FormatJSON {
		t.Error("expected JSON format")
	}
	if ParseLogFormat("console") != FormatText {
		t.Error("expected text format")
	}
}
