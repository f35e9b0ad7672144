package utils

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Logger provides leveled, printf-style logging throughout the application.
// It is a thin wrapper over slog with a tint handler so output stays
// readable on a terminal while remaining structured underneath.
type Logger struct {
	sl *slog.Logger
}

// NewLogger creates a new Logger writing colored output to stderr.
func NewLogger() *Logger {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.DateTime,
	})
	return &Logger{sl: slog.New(handler)}
}

// NewLoggerWithHandler wraps an existing slog handler, used by tests to
// capture output.
func NewLoggerWithHandler(h slog.Handler) *Logger {
	return &Logger{sl: slog.New(h)}
}

func (l *Logger) Info(format string, args ...any) {
	l.sl.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	l.sl.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...any) {
	l.sl.Error(fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) {
	l.sl.Debug(fmt.Sprintf(format, args...))
}
