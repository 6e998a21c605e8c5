package cache

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()

	// These should not panic - they're no-ops
	logger.Debug("test message", "key", "value")
	logger.Info("test message")
	logger.Warn("test message", nil)
	logger.Error("test message", "key", "value")
}

func TestConsoleLogger(t *testing.T) {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	logger := NewConsoleLogger("TestPrefix")
	logger.Warn("test message", "key", "value")

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	output := buf.String()

	for _, want := range []string{"[WARN]", "TestPrefix", "test message", "key"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in output, got: %s", want, output)
		}
	}
}

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := NewZapLogger(zap.New(core), "pathcache")

	logger.Debug("debug message", "key", "flow|a")
	logger.Info("info message")
	logger.Warn("warn message", "error", "boom")
	logger.Error("error message")

	if logs.Len() != 4 {
		t.Fatalf("Expected 4 entries, got %d", logs.Len())
	}
	first := logs.All()[0]
	if first.LoggerName != "pathcache" {
		t.Fatalf("Expected logger name pathcache, got %q", first.LoggerName)
	}
	if first.ContextMap()["key"] != "flow|a" {
		t.Fatalf("Expected key field, got %v", first.ContextMap())
	}
}
