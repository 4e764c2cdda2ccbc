package app

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestPrettyHandler_PlainOutput(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	h := newPrettyHandler(&sb, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	log := slog.New(h)

	log.Info("session.start", "session_id", "s1", "status", 200, "note", "has spaces")

	line := sb.String()
	for _, want := range []string{
		"lvl=[INFO]",
		"msg=session.start",
		"session_id=s1",
		"status=200",
		`note="has spaces"`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("output missing %q:\n%s", want, line)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("color escapes with color disabled:\n%s", line)
	}
}

func TestPrettyHandler_ColorIsStrippable(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	h := newPrettyHandler(&sb, nil, true)
	log := slog.New(h)

	log.Error("webhook.fail", "err", "connection refused", "duration_ms", 1500)

	raw := sb.String()
	if !strings.Contains(raw, "\x1b[") {
		t.Fatalf("expected color escapes:\n%s", raw)
	}

	plain := stripANSI(raw)
	if strings.Contains(plain, "\x1b[") {
		t.Fatalf("stripANSI left escapes:\n%s", plain)
	}
	for _, want := range []string{"lvl=[ERROR]", "msg=webhook.fail", `err="connection refused"`, "duration_ms=1500ms"} {
		if !strings.Contains(plain, want) {
			t.Fatalf("output missing %q:\n%s", want, plain)
		}
	}
}

func TestPrettyHandler_GroupsAndAttrs(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	h := newPrettyHandler(&sb, &slog.HandlerOptions{Level: slog.LevelDebug}, false)

	slog.New(h).With("session_id", "s1").Debug("session.tick")
	slog.New(h).WithGroup("queue").Debug("drain.tick", "depth", 3)

	out := sb.String()
	if !strings.Contains(out, "session_id=s1") {
		t.Fatalf("preset attr missing:\n%s", out)
	}
	if !strings.Contains(out, "queue.depth=3") {
		t.Fatalf("grouped key missing:\n%s", out)
	}
}

func TestPrettyHandler_LevelGate(t *testing.T) {
	t.Parallel()

	h := newPrettyHandler(&strings.Builder{}, &slog.HandlerOptions{Level: slog.LevelWarn}, false)

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("error disabled at warn level")
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: `""`},
		{in: "plain", want: "plain"},
		{in: "two words", want: `"two words"`},
		{in: `key=value`, want: `"key=value"`},
		{in: "line\nbreak", want: `"line\nbreak"`},
	}

	for _, tc := range cases {
		if got := quoteIfNeeded(tc.in); got != tc.want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestValueToString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   slog.Value
		want string
	}{
		{in: slog.StringValue("x"), want: "x"},
		{in: slog.IntValue(-2), want: "-2"},
		{in: slog.BoolValue(true), want: "true"},
		{in: slog.DurationValue(1500 * time.Millisecond), want: "1.5s"},
	}

	for _, tc := range cases {
		if got := valueToString(tc.in); got != tc.want {
			t.Fatalf("valueToString(%v)=%q want=%q", tc.in, got, tc.want)
		}
	}
}
