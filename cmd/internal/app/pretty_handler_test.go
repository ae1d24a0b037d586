package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_Line(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))

	log.With("session_id", "s1").WithGroup("ws").Info("ws.request",
		"type", "message_send",
		"err", errors.New("bad thing"),
		slog.Group("conn", "remote", "127.0.0.1:5000"),
	)

	line := strings.TrimSpace(buf.String())
	for _, want := range []string{
		"INFO  ws.request",
		"session_id=s1",
		"ws.type=message_send",
		`ws.err="bad thing"`,
		"ws.conn.remote=127.0.0.1:5000",
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("uncolored handler wrote ANSI codes: %q", line)
	}
}

func TestPrettyHandler_ColorAndLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, true))

	log.Info("dropped")
	log.Warn("http.request", "status", 404)

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info record passed a warn handler: %q", out)
	}
	if !strings.Contains(out, ansiYellow+"404"+ansiReset) {
		t.Fatalf("status not colored: %q", out)
	}
	if plain := stripANSI(out); !strings.Contains(plain, "WARN  http.request status=404") {
		t.Fatalf("plain line: %q", plain)
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":        `""`,
		"plain":   "plain",
		"a b":     `"a b"`,
		`k="v"`:   `"k=\"v\""`,
		"tab\tin": `"tab\tin"`,
	}
	for in, want := range cases {
		if got := quoteIfNeeded(in); got != want {
			t.Fatalf("quoteIfNeeded(%q)=%s want %s", in, got, want)
		}
	}
}
