package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":    zerolog.TraceLevel,
		"DEBUG":    zerolog.DebugLevel,
		" info ":   zerolog.InfoLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"off":      zerolog.Disabled,
		"disabled": zerolog.Disabled,
	}
	for raw, want := range cases {
		got, ok := ParseLevel(raw)
		if !ok {
			t.Fatalf("expected %q to parse", raw)
		}
		if got != want {
			t.Fatalf("level %q: got %v want %v", raw, got, want)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatalf("expected unknown level to be rejected")
	}
	if _, ok := ParseLevel(""); ok {
		t.Fatalf("expected empty level to be rejected")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogNoColor, "true")
	t.Setenv(EnvLogJSON, "not-a-bool")

	cfg := DefaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.WarnLevel {
		t.Fatalf("unexpected level: %v", cfg.Level)
	}
	if cfg.Timestamp {
		t.Fatalf("expected timestamp disabled")
	}
	if !cfg.NoColor {
		t.Fatalf("expected no color")
	}
	if cfg.JSON {
		t.Fatalf("invalid bool must leave json disabled")
	}
}

func TestNewJSONLoggerWritesAppField(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{App: "flock-test", Level: zerolog.InfoLevel, JSON: true, Out: &buf})
	logger.Debug().Msg("dropped")
	logger.Info().Int("agent", 2).Msg("swarm.Fleet.CallAll complete")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["app"] != "flock-test" {
		t.Fatalf("unexpected app field: %v", entry["app"])
	}
	if entry["agent"] != float64(2) {
		t.Fatalf("unexpected agent field: %v", entry["agent"])
	}
	if _, ok := entry["time"]; ok {
		t.Fatalf("timestamp should be omitted when disabled")
	}
}
