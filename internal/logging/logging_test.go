package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LogConfig{Output: &buf})
	logger.Info("env exited", "env", "00000800")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v\nraw: %s", err, buf.String())
	}
	ts, _ := entry["time"].(string)
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		t.Errorf("timestamp not RFC3339: %q", ts)
	}
	if level, _ := entry["level"].(string); level != "INFO" {
		t.Errorf("level = %q, want INFO", level)
	}
	if v, _ := entry["env"].(string); v != "00000800" {
		t.Errorf("env = %q, want 00000800", v)
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(LogConfig{Format: "TEXT", Output: &buf}).Info("page fault", "va", "0x00400000")

	out := buf.String()
	if !strings.Contains(out, "va=0x00400000") {
		t.Errorf("text output missing attribute: %q", out)
	}
	if json.Valid(buf.Bytes()) {
		t.Error("text format produced JSON")
	}
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		cfgLevel  string
		emit      func(*bytes.Buffer, string)
		wantEmpty bool
	}{
		{"error", func(b *bytes.Buffer, l string) { New(LogConfig{Level: l, Output: b}).Info("x") }, true},
		{"error", func(b *bytes.Buffer, l string) { New(LogConfig{Level: l, Output: b}).Error("x") }, false},
		{"debug", func(b *bytes.Buffer, l string) { New(LogConfig{Level: l, Output: b}).Debug("x") }, false},
		{"warn", func(b *bytes.Buffer, l string) { New(LogConfig{Level: l, Output: b}).Info("x") }, true},
		{"", func(b *bytes.Buffer, l string) { New(LogConfig{Level: l, Output: b}).Debug("x") }, true},
		{"", func(b *bytes.Buffer, l string) { New(LogConfig{Level: l, Output: b}).Info("x") }, false},
	}
	for i, tc := range tests {
		var buf bytes.Buffer
		tc.emit(&buf, tc.cfgLevel)
		if empty := buf.Len() == 0; empty != tc.wantEmpty {
			t.Errorf("case %d (level %q): empty = %v, want %v", i, tc.cfgLevel, empty, tc.wantEmpty)
		}
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	WithFields(New(LogConfig{Output: &buf}), "env", "00001001").Info("forked")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if v, _ := entry["env"].(string); v != "00001001" {
		t.Errorf("env = %q, want 00001001", v)
	}
}

func TestValidateLevel(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", "DEBUG", " warn "} {
		if err := ValidateLevel(lvl); err != nil {
			t.Errorf("ValidateLevel(%q) = %v", lvl, err)
		}
	}
	for _, lvl := range []string{"", "trace", "WARNING"} {
		if err := ValidateLevel(lvl); err == nil {
			t.Errorf("ValidateLevel(%q) returned nil", lvl)
		}
	}
}

func TestOpenStderr(t *testing.T) {
	logger, cleanup, err := Open("info", "json", "")
	if err != nil {
		t.Fatal(err)
	}
	if cleanup != nil {
		t.Error("cleanup should be nil without a log file")
	}
	if logger == nil {
		t.Fatal("nil logger")
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cowfork.log")
	logger, cleanup, err := Open("debug", "text", path)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("to the file")
	cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "to the file") {
		t.Fatalf("log file = %q", data)
	}
}

func TestOpenBadPath(t *testing.T) {
	_, _, err := Open("info", "json", "/no/such/directory/cowfork.log")
	if err == nil || !strings.Contains(err.Error(), "cannot open log file") {
		t.Fatalf("err = %v, want cannot open log file", err)
	}
}

func TestDiscard(t *testing.T) {
	Discard().Error("dropped")
}
