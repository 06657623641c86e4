package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

// TestParseLevel verifies level names map to slog levels and unknown names
// fall back to info.
func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// TestNewHonoursFormatAndLevel checks that the JSON handler is selected and
// records below the level are dropped.
func TestNewHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", "json")

	l.Info("hidden")
	l.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"key":"value"`) {
		t.Errorf("expected JSON warn record, got %s", out)
	}
}

// TestHelpersWithoutInit ensures the helpers are safe before Init.
func TestHelpersWithoutInit(t *testing.T) {
	prev := Log
	Log = nil
	defer func() { Log = prev }()

	Debug("a")
	Info("b")
	Warn("c")
	Error("d")
}
