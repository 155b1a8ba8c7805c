package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := logger
	t.Cleanup(func() { logger = prev })

	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))
	return &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	return out
}

func TestSetup(t *testing.T) {
	logger = nil
	once = *new(sync.Once)

	Setup("DEBUG")
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "INFO", "text")
	l.Info("hello", "k", "v")

	if !strings.Contains(buf.String(), "msg=hello") || !strings.Contains(buf.String(), "k=v") {
		t.Fatalf("expected text output, got %q", buf.String())
	}

	buf.Reset()
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at INFO, got %q", buf.String())
	}
}

func TestContextHelpers(t *testing.T) {
	buf := capture(t)
	WithComponent("dispatch").Info("hello")

	out := decode(t, buf)
	if out["component"] != "dispatch" {
		t.Errorf("Expected component 'dispatch', got %v", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
}

func TestWithPlugin(t *testing.T) {
	buf := capture(t)
	WithPlugin("packet-claimer").Info("plugin msg")

	if out := decode(t, buf); out["plugin"] != "packet-claimer" {
		t.Errorf("Expected plugin 'packet-claimer', got %v", out["plugin"])
	}
}

func TestWithOpAndTick(t *testing.T) {
	buf := capture(t)
	WithOp("op-123").Info("op msg")
	if out := decode(t, buf); out["op_id"] != "op-123" {
		t.Errorf("Expected op_id 'op-123', got %v", out["op_id"])
	}

	buf.Reset()
	WithTick(7).Info("tick msg")
	if out := decode(t, buf); out["tick"] != float64(7) {
		t.Errorf("Expected tick 7, got %v", out["tick"])
	}
}
