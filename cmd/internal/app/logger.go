package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// NewLogger creates the process logger: JSON in production, the pretty handler otherwise.
// TRUSTCORE_LOG_FORMAT=json|pretty overrides the choice.
func NewLogger(cfg Config) *slog.Logger {
	return newLogger(os.Stdout, cfg, os.Getenv("TRUSTCORE_LOG_FORMAT"))
}

func newLogger(w io.Writer, cfg Config, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(cfg.LogLevel),
		AddSource: true,
	}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "pretty":
		h = newPrettyHandler(w, opts, colorEnabled())
	default:
		if cfg.Production() {
			h = slog.NewJSONHandler(w, opts)
		} else {
			h = newPrettyHandler(w, opts, colorEnabled())
		}
	}

	log := slog.New(h)
	slog.SetDefault(log)
	return log
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
