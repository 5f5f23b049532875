package config

import (
	"io"
	"log/slog"
	"strings"

	"github.com/dandantas/certwatch/internal/log"
)

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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

// NewLogger builds the structured logger described by the configuration.
// Records carry any attributes attached to the context via log.ContextAttrs.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.LogLevel),
	}

	var handler slog.Handler
	if strings.ToLower(cfg.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(log.NewContextHandler(handler))
	logger.Debug("Logger initialized",
		"level", cfg.LogLevel,
		"format", cfg.LogFormat,
	)
	return logger
}
