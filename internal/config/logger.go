package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a logger from cfg: JSON or text output with level
// filtering and service and version attributes on every record.
func NewLogger(cfg LoggingConfig, version string) *slog.Logger {
	return newLogger(cfg, version, output(cfg.Output))
}

func newLogger(cfg LoggingConfig, version string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "sensorthings"),
		slog.String("version", version),
	})
	return slog.New(handler)
}

func output(name string) io.Writer {
	if strings.ToLower(name) == "stderr" {
		return os.Stderr
	}
	return os.Stdout
}

// ParseLevel converts debug, info, warn or error to a slog level. Unknown
// names yield info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
