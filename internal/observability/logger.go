// Package observability sets up the process logger.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig describes where and how much to log.
type LogConfig struct {
	Path       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ParseLevel maps debug, info, warn and error to slog levels. Unknown
// values mean info.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// NewLogger returns a JSON logger writing to a rotated file, or a text
// logger on stderr when no path is set. The returned closer releases the
// file.
func NewLogger(cfg LogConfig) (*slog.Logger, io.Closer) {
	level, ok := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var logger *slog.Logger
	var closer io.Closer = nopCloser{}
	if cfg.Path == "" {
		logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	} else {
		w := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		logger = slog.New(slog.NewJSONHandler(w, opts))
		closer = w
	}

	if !ok {
		logger.Warn("invalid log level, defaulting to info", "configured_level", cfg.Level)
	}
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
