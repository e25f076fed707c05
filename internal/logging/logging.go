// Package logging installs the process-wide slog handler.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	// File, when set, receives a copy of every record and is rotated.
	File       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a JSON logger writing to w and, when cfg.File is set, to a
// rotating file. The returned closer releases the file.
func New(w io.Writer, cfg Config) (*slog.Logger, io.Closer) {
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
		w = io.MultiWriter(w, rotator)
		closer = rotator
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(cfg.Level)})
	return slog.New(h), closer
}

// Setup installs New(os.Stdout, cfg) as the default logger.
func Setup(cfg Config) io.Closer {
	logger, closer := New(os.Stdout, cfg)
	slog.SetDefault(logger)
	return closer
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func orDefault(v, d int) int {
	if v > 0 {
		return v
	}
	return d
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
