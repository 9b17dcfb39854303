package server

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// InitLogging installs the process-wide slog logger.
func InitLogging(service string, cfg *Config) *slog.Logger {
	return initLogging(os.Stdout, service, cfg.LogFormat, cfg.LogLevel)
}

func initLogging(w io.Writer, service, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
