package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewSelectsFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := New("json", slog.LevelInfo, &buf)
	if err != nil {
		t.Fatalf("New(json): %v", err)
	}
	log.Info("dispatch", "op", "quant_matmul")
	if !strings.Contains(buf.String(), `"op":"quant_matmul"`) {
		t.Fatalf("expected JSON attr, got: %s", buf.String())
	}

	buf.Reset()
	log, err = New("text", slog.LevelInfo, &buf)
	if err != nil {
		t.Fatalf("New(text): %v", err)
	}
	log.Info("dispatch", "m", 32)
	if !strings.Contains(buf.String(), "m=32") {
		t.Fatalf("expected text attr, got: %s", buf.String())
	}

	if _, err := New("xml", slog.LevelInfo, &buf); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestJSONLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Info("should not appear")
	log.Debug("also should not appear")
	if buf.Len() > 0 {
		t.Fatalf("expected no output below warn, got: %s", buf.String())
	}
	if log.Enabled(slog.LevelInfo) {
		t.Fatal("info should be disabled at warn level")
	}

	log.Warn("should appear")
	if !strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Fatalf("expected warn record, got: %s", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	log := Discard()
	log.Error("nothing")
	if log.Enabled(slog.LevelError) {
		t.Fatal("discard logger should report every level disabled")
	}
}

func TestWithAndGroup(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).With("component", "stream").WithGroup("op")
	log.Info("done", "name", "batched_quant_matmul")

	output := buf.String()
	if !strings.Contains(output, `"component":"stream"`) {
		t.Fatalf("expected component attr, got: %s", output)
	}
	if !strings.Contains(output, `"op":{"name":"batched_quant_matmul"}`) {
		t.Fatalf("expected grouped attr, got: %s", output)
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), Text(&buf, slog.LevelInfo))
	FromContext(ctx).Info("roundtrip")
	if !strings.Contains(buf.String(), "roundtrip") {
		t.Fatalf("expected message via context logger, got: %s", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without logger returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := ParseLevel(tc.input); got != tc.expected {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
		}
	}
}

func plainPretty(buf *bytes.Buffer, level slog.Level) *PrettyHandler {
	h := NewPrettyHandler(buf, &slog.HandlerOptions{Level: level})
	h.color = false
	return h
}

func TestPrettyLine(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := slog.New(plainPretty(&buf, slog.LevelInfo))
	log.Info("bench", "shape", "512x256x1024", "note", "hello world", "k", 256)

	out := buf.String()
	for _, want := range []string{"INFO  bench", "shape=512x256x1024", `note="hello world"`, "k=256"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Fatalf("colors should be disabled: %q", out)
	}
}

func TestPrettyAttrsAndGroups(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := plainPretty(&buf, slog.LevelInfo)
	log := slog.New(h.WithAttrs([]slog.Attr{slog.String("stream", "0")}).WithGroup("a").WithGroup("b"))
	log.Info("nested", "key", "val", slog.Group("tile", "m", 64))

	out := buf.String()
	for _, want := range []string{"stream=0", "a.b.key=val", "a.b.tile.m=64"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
	if h.WithGroup("") != slog.Handler(h) {
		t.Fatal("empty group should return the same handler")
	}
}

func TestPrettyEnabled(t *testing.T) {
	t.Parallel()
	h := NewPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}
