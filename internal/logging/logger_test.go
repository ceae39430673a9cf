package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewProdIsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{AppEnv: "prod", Level: "info", Version: "1.2.3", Output: &buf})

	logger.Debug("hidden")
	logger.Info("pass completed", "written", 5)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["msg"] != "pass completed" || entry["app"] != AppName || entry["version"] != "1.2.3" || entry["env"] != "prod" {
		t.Fatalf("entry: %v", entry)
	}
	if entry["written"] != float64(5) {
		t.Fatalf("written: %v", entry["written"])
	}
}

func TestNewDevIsText(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{AppEnv: "dev", Level: "debug", Output: &buf})

	logger.Debug("fetching", "city", "London")

	out := buf.String()
	if !strings.Contains(out, "fetching") || !strings.Contains(out, "London") {
		t.Fatalf("output: %q", out)
	}
	if json.Valid([]byte(strings.TrimSpace(out))) {
		t.Fatalf("dev output should not be JSON: %q", out)
	}
}
