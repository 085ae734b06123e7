package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestOrNopReturnsNopForNil(t *testing.T) {
	l := OrNop(nil)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	// Must not panic for any level.
	l.Debug("x")
	l.Info("x")
	l.Warn("x")
	l.Error("x")
}

func TestOrNopPassesThroughNonNil(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, LevelDebug)
	got := OrNop(c)
	if got != Logger(c) {
		t.Fatalf("expected same logger instance back")
	}
}

func TestConsoleFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, LevelWarn)
	c.nowFn = func() time.Time { return time.Unix(0, 0) }
	c.Debug("hidden")
	c.Info("also hidden")
	c.Warn("shown %d", 1)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected debug/info suppressed, got %q", out)
	}
	if !strings.Contains(out, "shown 1") {
		t.Fatalf("expected warn message present, got %q", out)
	}
}

func TestConsoleFormatsArgs(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, LevelDebug)
	c.nowFn = func() time.Time { return time.Unix(0, 0) }
	c.Error("task %q failed: %v", "sweep", "timeout")
	if !strings.Contains(buf.String(), `task "sweep" failed: timeout`) {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}
