package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how diagnostic logs are written.
type Options struct {
	Level      slog.Level
	JSON       bool
	File       string // empty disables the rotating file
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
}

// Init creates the process logger and installs it as the slog default.
// Records go to stdout and, when opts.File is set, to a lumberjack-rotated file.
// The returned closer releases the file handle.
func Init(opts Options) (*slog.Logger, io.Closer) {
	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxAge:     opts.MaxAgeDays,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, lj)
		closer = lj
	}
	logger := New(w, opts.Level, opts.JSON)
	slog.SetDefault(logger)
	return logger, closer
}

// New builds a logger writing to w with a text or JSON handler.
func New(w io.Writer, level slog.Level, json bool) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}
	return slog.New(handler)
}

// ParseLevel converts a string ("debug", "info", "warn", "error") to slog.Level.
// Unknown strings default to LevelInfo.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
