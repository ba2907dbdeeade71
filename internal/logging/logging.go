package logging

import (
	"log/slog"
	"strings"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/gabibdods/NullVelope/internal/config"
)

// Builds the process logger. Console output is always on, pushing to Loki
// only when it is enabled.
func New(settings config.LoggingSettings) *slog.Logger {
	level := ParseLevel(settings.Level)

	service := sloki.NewService(sloki.Configuration{
		URL:          settings.LokiURL,
		Service:      settings.Service,
		ConsoleLevel: level,
		LokiLevel:    level,
		EnableLoki:   settings.LokiEnabled && settings.LokiURL != "",
	})

	return slog.New(service)
}

func ParseLevel(level string) slog.Level {
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
