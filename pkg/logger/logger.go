// Package logger provides the structured logger used throughout
// cowrite: a thin wrapper over log/slog with a colorized console
// handler and caller annotation, so a document's lifecycle can be
// grepped out of a busy server by its doc_id field.
package logger

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Level mirrors slog.Level, keeping callers from importing log/slog
// directly just to set a verbosity.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// ParseLevel maps LOG_LEVEL values to a Level, defaulting to Info for
// anything unrecognized.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is cowrite's structured logger.
type Logger struct {
	slog *slog.Logger
}

// New builds a Logger writing to stdout, colorized when stdout is a
// terminal and plain otherwise (e.g. under a process supervisor).
func New(level Level) *Logger {
	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
		TimeFormat: time.Kitchen,
	})
	return &Logger{slog: slog.New(handler)}
}

// With returns a derived Logger carrying the given key/value pairs on
// every subsequent line, without mutating the receiver.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }

func (l *Logger) log(level Level, msg string, args ...any) {
	ctx := context.Background()
	if !l.slog.Enabled(ctx, level) {
		return
	}
	args = append(args, "caller", caller())
	l.slog.Log(ctx, level, msg, args...)
}

// caller reports the last two path components and line number of the
// function that ultimately called into the logger.
func caller() string {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return "unknown"
	}
	parts := strings.Split(file, "/")
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	return strings.Join(parts, "/") + ":" + strconv.Itoa(line)
}
