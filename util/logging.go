package util

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type LogOptions struct {
	// "debug", "info", "warn" or "error"; falls back to $FORGEGUARD_LOG_LEVEL, then "info"
	Level string
	// "text" or "json"; falls back to $FORGEGUARD_LOG_FORMAT, then "text"
	Format string
	// destination; defaults to stdout
	Out io.Writer
}

// SetupSlog builds the process logger and installs it as the slog default.
func SetupSlog(opts LogOptions) (*slog.Logger, error) {
	var hopts slog.HandlerOptions
	if opts.Level == "" {
		opts.Level = os.Getenv("FORGEGUARD_LOG_LEVEL")
	}
	switch strings.ToLower(opts.Level) {
	case "", "info":
		hopts.Level = slog.LevelInfo
	case "debug":
		hopts.Level = slog.LevelDebug
	case "warn":
		hopts.Level = slog.LevelWarn
	case "error":
		hopts.Level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %#v", opts.Level)
	}

	if opts.Format == "" {
		opts.Format = os.Getenv("FORGEGUARD_LOG_FORMAT")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		handler = slog.NewTextHandler(out, &hopts)
	case "json":
		handler = slog.NewJSONHandler(out, &hopts)
	default:
		return nil, fmt.Errorf("invalid log format: %#v", opts.Format)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
