package utils

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions selects where a component logger writes
type LogOptions struct {
	Output     string // stdout, file, both
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// NewLogger returns a logger that writes to stdout and/or a rotating file.
// The prefix names the component, e.g. "scheduler ".
func NewLogger(opts LogOptions, prefix string) *log.Logger {
	flags := log.LstdFlags | log.Lmicroseconds | log.LUTC

	var writers []io.Writer
	if opts.Output != "file" {
		writers = append(writers, os.Stdout)
	}
	if (opts.Output == "file" || opts.Output == "both") && opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   opts.FilePath,
				MaxSize:    opts.MaxSize,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAge,
				Compress:   opts.Compress,
			})
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	return log.New(io.MultiWriter(writers...), prefix, flags)
}

// DiscardLogger returns a logger that drops everything, for tests
func DiscardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
