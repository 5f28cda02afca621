// Package logger is a process-wide structured logging facade over log/slog.
//
// Components log through package functions (Debug, Info, Warn, Error) with
// key/value pairs. The handler is configured once at startup from the
// [logging] section of the configuration.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or a file path
}

var (
	mu       sync.RWMutex
	output   io.Writer = os.Stderr
	levelVar           = new(slog.LevelVar)
	slogger            = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
)

// Init configures the logger. Output may be "stdout", "stderr" or a file
// path; files are opened in append mode.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
		}
		output = f
	}

	levelVar.Set(parseLevel(cfg.Level))
	slogger = slog.New(newHandler(output, cfg.Format))

	return nil
}

// InitWithWriter points the logger at a custom writer. Used by tests.
func InitWithWriter(w io.Writer, level, format string) {
	mu.Lock()
	defer mu.Unlock()

	output = w
	levelVar.Set(parseLevel(level))
	slogger = slog.New(newHandler(w, format))
}

// SetLevel adjusts the minimum level without rebuilding the handler.
func SetLevel(level string) {
	levelVar.Set(parseLevel(level))
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(w io.Writer, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: levelVar}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// Debug logs at debug level with structured fields.
func Debug(msg string, args ...any) { get().Debug(msg, args...) }

// Info logs at info level with structured fields.
func Info(msg string, args ...any) { get().Info(msg, args...) }

// Warn logs at warn level with structured fields.
func Warn(msg string, args ...any) { get().Warn(msg, args...) }

// Error logs at error level with structured fields.
func Error(msg string, args ...any) { get().Error(msg, args...) }

// With returns a slog.Logger with pre-bound fields.
func With(args ...any) *slog.Logger { return get().With(args...) }
