package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStdLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, WarningLevel)

	l.Debugf("debug %d", 1)
	l.Infof("info %d", 2)
	l.Warningf("warning %d", 3)
	l.Errorf("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("Messages below the minimum level were written: %q", out)
	}
	if !strings.Contains(out, "WARNING warning 3") {
		t.Errorf("Expected warning message, got %q", out)
	}
	if !strings.Contains(out, "ERROR error 4") {
		t.Errorf("Expected error message, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		name     string
		expected Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warn", WarningLevel},
		{"warning", WarningLevel},
		{" error ", ErrorLevel},
		{"off", SilentLevel},
		{"bogus", InfoLevel},
	}

	for _, tc := range testCases {
		if got := ParseLevel(tc.name); got != tc.expected {
			t.Errorf("ParseLevel(%q): expected %v, got %v", tc.name, tc.expected, got)
		}
	}
}

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slicesurf.log")
	l := New(Config{Level: InfoLevel, File: path, MaxSize: 1, MaxAge: 1})
	l.Infof("volume has %d voxels", 42)
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// second close is a no-op
	if err := l.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "INFO volume has 42 voxels") {
		t.Errorf("Log file does not contain message: %q", data)
	}
}

func TestProgressFuncNil(t *testing.T) {
	var p ProgressFunc
	p.Report("stage", 1, 2) // must not panic

	calls := 0
	p = func(stage string, completed, total int) {
		calls++
		if stage != "triangulate" || completed != 3 || total != 9 {
			t.Errorf("Unexpected progress report: %s %d/%d", stage, completed, total)
		}
	}
	p.Report("triangulate", 3, 9)
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	var buf bytes.Buffer
	l := NewWriter(&buf, DebugLevel)
	if OrNop(l) != Logger(l) {
		t.Error("OrNop should return the provided logger")
	}
}
