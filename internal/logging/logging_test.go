package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEV", slog.LevelDebug},
		{"development", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"prod", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in, slog.LevelInfo); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitHonoursEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	Init(slog.LevelError)
	if !slog.Default().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn not enabled with LOG_LEVEL=warn")
	}
	if slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info enabled with LOG_LEVEL=warn")
	}
}
