// Package logging provides the leveled logger collaborator shared by every
// component in this module. Nothing here formats for a specific transport;
// callers that need structured sinks (files, collectors) wrap Logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level identifies a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the logging collaborator every component depends on.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// nopLogger discards everything. Returned by OrNop when no logger is supplied.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// OrNop returns logger unchanged, or a no-op Logger if logger is nil.
// Every constructor in this module calls OrNop on an injected logger so
// callers are never required to supply one.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return nopLogger{}
	}
	return logger
}

// Console is a minimal leveled logger that writes to an io.Writer, coloring
// the level tag when the destination is a terminal.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	level  Level
	color  bool
	nowFn  func() time.Time
}

// NewConsole builds a Console logger writing to os.Stderr at LevelInfo.
func NewConsole() *Console {
	return &Console{
		out:   os.Stderr,
		level: LevelInfo,
		color: color.NoColor == false,
		nowFn: time.Now,
	}
}

// NewConsoleWriter builds a Console logger writing to an arbitrary writer.
func NewConsoleWriter(out io.Writer, level Level) *Console {
	return &Console{out: out, level: level, nowFn: time.Now}
}

func (c *Console) Debug(format string, args ...any) { c.log(LevelDebug, format, args...) }
func (c *Console) Info(format string, args ...any)  { c.log(LevelInfo, format, args...) }
func (c *Console) Warn(format string, args ...any)  { c.log(LevelWarn, format, args...) }
func (c *Console) Error(format string, args ...any) { c.log(LevelError, format, args...) }

func (c *Console) log(level Level, format string, args ...any) {
	if level < c.level {
		return
	}
	tag := level.String()
	if c.color {
		tag = colorFor(level)(tag)
	}
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("%s [%s] %s\n", c.nowFn().Format("2006-01-02 15:04:05"), tag, msg)

	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.out, line)
}

func colorFor(level Level) func(string, ...any) string {
	switch level {
	case LevelDebug:
		return color.New(color.FgCyan).SprintfFunc()
	case LevelInfo:
		return color.New(color.FgGreen).SprintfFunc()
	case LevelWarn:
		return color.New(color.FgYellow).SprintfFunc()
	case LevelError:
		return color.New(color.FgRed).SprintfFunc()
	default:
		return fmt.Sprintf
	}
}
