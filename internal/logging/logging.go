package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init installs a text logger on stderr. The level comes from LOG_LEVEL,
// falling back to def when it is unset or unknown.
func Init(def slog.Level) {
	level := def
	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		level = ParseLevel(l, def)
	}
	SetLevel(level)
}

// SetLevel replaces the default logger with one at level.
func SetLevel(level slog.Level) {
	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}),
	)
	slog.SetDefault(logger)
}

// ParseLevel maps a LOG_LEVEL style name to a level.
func ParseLevel(name string, def slog.Level) slog.Level {
	switch strings.ToLower(name) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	default:
		return def
	}
}
