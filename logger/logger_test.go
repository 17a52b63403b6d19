package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestLogPerformanceEntry(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	LogPerformanceEntry(log.WithComponent("engine"), "engine", "initial_load", 1500*time.Millisecond, nil)

	out := buf.String()
	if !strings.Contains(out, `"duration_ms":1500`) {
		t.Errorf("duration_ms field missing: %s", out)
	}
	if !strings.Contains(out, `"operation":"initial_load"`) {
		t.Errorf("operation field missing: %s", out)
	}
}

func TestLogDataFlowEntry(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	LogDataFlowEntry(log.WithComponent("stream-feed"), "binance-ws", "engine", 42, "candle_updates")

	out := buf.String()
	if !strings.Contains(out, `"flow_type":"data_flow"`) {
		t.Errorf("flow_type field missing: %s", out)
	}
	if !strings.Contains(out, `"record_count":42`) {
		t.Errorf("record_count field missing: %s", out)
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}
