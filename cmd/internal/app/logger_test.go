package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: " Debug ", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewHandler_Formats(t *testing.T) {
	t.Parallel()

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := slog.New(newHandler(&buf, "warn", "json", true))
		log.Info("dropped")
		log.Warn("ws.close", "session_id", "s1")

		var rec map[string]any
		if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
			t.Fatalf("not one json record: %q (%v)", buf.String(), err)
		}
		if rec["level"] != "WARN" || rec["msg"] != "ws.close" || rec["session_id"] != "s1" {
			t.Fatalf("record=%v", rec)
		}
		if _, ok := rec["source"]; !ok {
			t.Fatalf("source missing: %v", rec)
		}
		if strings.Contains(buf.String(), "\x1b[") {
			t.Fatalf("json output colored: %q", buf.String())
		}
	})

	t.Run("pretty", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := slog.New(newHandler(&buf, "debug", " Pretty ", false))
		log.Debug("feed.load", "page", 2)

		line := buf.String()
		if strings.HasPrefix(line, "{") || strings.Contains(line, "\x1b[") {
			t.Fatalf("pretty line=%q", line)
		}
		for _, want := range []string{"DEBUG feed.load", "page=2", "src="} {
			if !strings.Contains(line, want) {
				t.Fatalf("line %q missing %q", line, want)
			}
		}
	})

	t.Run("pretty color", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := slog.New(newHandler(&buf, "info", "pretty", true))
		log.Error("db.ping", "err", "refused")

		out := buf.String()
		if !strings.Contains(out, "\x1b[") {
			t.Fatalf("color requested but no ANSI codes: %q", out)
		}
		if plain := stripANSI(out); !strings.Contains(plain, "ERROR db.ping") {
			t.Fatalf("plain=%q", plain)
		}
	})
}
