package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

const AppName = "weather-pipeline"

// Options selects the handler and level.
type Options struct {
	AppEnv  string // "dev" gets colorized text, anything else JSON
	Level   string
	Version string
	Output  io.Writer // defaults to os.Stderr
}

func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := ParseLevel(opts.Level)

	if opts.AppEnv == "" || opts.AppEnv == "dev" {
		h := tint.NewHandler(out, &tint.Options{
			Level:      level,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", AppName)
	}

	h := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(h).With(
		"app", AppName,
		"version", opts.Version,
		"env", opts.AppEnv,
	)
}

// ParseLevel maps a level name to slog.Level; unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
