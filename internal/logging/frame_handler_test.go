package logging

import (
	"log/slog"
	"strings"
	"testing"
)

func TestFrameHandlerRendersSingleLine(t *testing.T) {
	var got []string
	h := NewFrameHandler(func(line string) { got = append(got, line) }, slog.LevelInfo)
	logger := slog.New(h)

	logger.Info("job_started", "job_id", 7, "pid", 1234)

	if len(got) != 1 {
		t.Fatalf("sent %d lines, want 1", len(got))
	}
	line := got[0]
	if !strings.HasPrefix(line, "job_started") {
		t.Errorf("line %q does not start with the message", line)
	}
	for _, want := range []string{"job_id=7", "pid=1234"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if strings.ContainsAny(line, "\n\x00") {
		t.Errorf("line %q contains framing-hostile bytes", line)
	}
}

func TestFrameHandlerLevelFilter(t *testing.T) {
	var sent int
	h := NewFrameHandler(func(string) { sent++ }, slog.LevelWarn)
	logger := slog.New(h)

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")
	logger.Error("kept")

	if sent != 2 {
		t.Errorf("sent %d lines, want 2", sent)
	}
}

func TestFrameHandlerWithAttrsAndGroup(t *testing.T) {
	var got string
	h := NewFrameHandler(func(line string) { got = line }, slog.LevelInfo)
	logger := slog.New(h).With("worker", "w1").WithGroup("job")

	logger.Info("reaped", "pid", 99)

	for _, want := range []string{"worker=w1", "job.pid=99"} {
		if !strings.Contains(got, want) {
			t.Errorf("line %q missing %q", got, want)
		}
	}
}
