package logging

import (
	"os"
	"strings"
	"testing"
)

func TestPrintfAppendsTimestampedLines(t *testing.T) {
	projectDir := t.TempDir()
	logger, err := New(projectDir)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Printf("resolver: downloading %s\n", "nuscr-linux-x64")
	logger.Printf("bridge: exit=%d", 1)
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "[") || !strings.HasSuffix(lines[0], "resolver: downloading nuscr-linux-x64") {
		t.Fatalf("unexpected first line %q", lines[0])
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Printf("ignored")
	if err := logger.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
