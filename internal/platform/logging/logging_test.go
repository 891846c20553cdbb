package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Options{Env: "production", Service: "clinic"})
	logger.Info().Str("patient_id", "p1").Msg("registered")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "registered" {
		t.Errorf("unexpected message: %v", entry["message"])
	}
	if entry["service"] != "clinic" {
		t.Errorf("expected service field, got %v", entry["service"])
	}
}

func TestNewWithWriter_ECS(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Options{Format: "ecs"})
	logger.Info().Msg("hello")

	if !strings.Contains(buf.String(), "ecs.version") {
		t.Errorf("expected ECS fields, got %q", buf.String())
	}
}

func TestNewWithWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Options{Env: "development"})
	logger.Info().Msg("hello console")

	if !strings.Contains(buf.String(), "hello console") {
		t.Errorf("expected console output, got %q", buf.String())
	}
	if json.Valid(buf.Bytes()) {
		t.Error("console output should not be raw JSON")
	}
}

func TestNewWithWriter_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Options{Format: "json", Level: "warn"})
	logger.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered at warn level, got %q", buf.String())
	}
	logger.Warn().Msg("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Error("expected warn message")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":       zerolog.InfoLevel,
		"debug":  zerolog.DebugLevel,
		"ERROR":  zerolog.ErrorLevel,
		"bogus":  zerolog.InfoLevel,
		" warn ": zerolog.WarnLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
