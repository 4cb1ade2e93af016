package runtime

import (
	"io"
	"log/slog"

	"github.com/InsulaLabs/txt2img/config"
	"github.com/charmbracelet/log"
	"github.com/fatih/color"
)

// ParseLevel maps a config level name onto slog. Unknown names warn and
// fall back to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		color.HiYellow("Unknown logging level: %s, defaulting to info", level)
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger. The pretty format is meant for
// terminals; json is the default.
func NewLogger(w io.Writer, cfg config.Logging) (*slog.Logger, slog.Level) {
	level := ParseLevel(cfg.Level)
	if cfg.Format == config.LogFormatPretty {
		handler := log.NewWithOptions(w, log.Options{
			Level:           log.Level(level),
			ReportTimestamp: true,
		})
		return slog.New(handler), level
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), level
}
