package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(WithFormat("json"), WithWriter(&buf), WithLevel("info"))
	log.Debug("hidden")
	log.Info("fetched", "feed_url", "https://example.com/rss", "count", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["msg"] != "fetched" || rec["feed_url"] != "https://example.com/rss" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewPretty(t *testing.T) {
	var buf bytes.Buffer
	log := New(WithFormat("pretty"), WithWriter(&buf), WithLevel("debug"))
	log.Debug("tagging", "item_id", 7)

	if !strings.Contains(buf.String(), "tagging") {
		t.Errorf("pretty output missing message: %q", buf.String())
	}
}
