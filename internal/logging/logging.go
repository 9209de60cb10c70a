// Package logging builds the structured logger used across fociscan.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/natefinch/lumberjack"
)

// Options selects log level and an optional rotating log file.
type Options struct {
	Level string

	// File receives a copy of every record when set
	File string

	// MaxSize is in megabytes, MaxAge in days
	MaxSize int
	MaxAge  int
}

// New returns a text logger writing to console, and to a rotating file when
// opts.File is set. The returned closer releases the file.
func New(console io.Writer, opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	out := console
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename: opts.File,
			MaxSize:  opts.MaxSize, // megabytes
			MaxAge:   opts.MaxAge,  // days
		}
		out = io.MultiWriter(console, file)
		closer = file
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closer, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps debug, info, warn and error to slog levels. An empty
// string means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
