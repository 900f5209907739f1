// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls the default logger
type Options struct {
	Verbose bool

	// File, when set, receives the log instead of Stderr and is rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	Stderr io.Writer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup installs the default slog logger and returns a closer for its output
func Setup(opts Options) (io.Closer, error) {
	w, closer, err := Writer(opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(New(w, opts.Verbose))
	return closer, nil
}

// New returns a text logger writing to w
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// Writer returns the destination selected by opts
func Writer(opts Options) (io.Writer, io.Closer, error) {
	if opts.File == "" {
		w := opts.Stderr
		if w == nil {
			w = os.Stderr
		}
		return w, nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, nil, err
	}
	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	return lj, lj, nil
}
